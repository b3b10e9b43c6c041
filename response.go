package oai

import (
	"bytes"
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Response is a decoded OAI-PMH envelope. Request is the request as echoed by
// the repository.
type Response struct {
	Date    time.Time
	Request Request
	Body    Body
}

// Body is one of IdentifyBody, GetRecordBody, ListIdentifiersBody,
// ListMetadataFormatsBody, ListRecordsBody, ListSetsBody or ErrorsBody.
type Body interface {
	isBody()
}

// IdentifyBody describes a repository.
type IdentifyBody struct {
	RepositoryName    string        `json:"name"`
	BaseURL           string        `json:"url"`
	ProtocolVersion   string        `json:"version"`
	AdminEmails       []string      `json:"emails,omitempty"`
	EarliestDatestamp time.Time     `json:"earliest"`
	DeletedRecord     DeletedRecord `json:"delete"`
	Granularity       Granularity   `json:"granularity"`
	Compressions      []string      `json:"compressions,omitempty"`
	Descriptions      []string      `json:"descriptions,omitempty"`
}

// MetadataFormat is one entry of ListMetadataFormats.
type MetadataFormat struct {
	Prefix    string `json:"prefix"`
	Schema    string `json:"schema"`
	Namespace string `json:"namespace"`
}

// ListMetadataFormatsBody lists formats.
type ListMetadataFormatsBody struct {
	Formats []MetadataFormat
}

// Set is one entry of ListSets.
type Set struct {
	Spec         string   `json:"spec"`
	Name         string   `json:"name,omitempty"`
	Descriptions []string `json:"descriptions,omitempty"`
}

// ListSetsBody is one page of sets.
type ListSetsBody struct {
	Sets  []Set
	Token *ResumptionToken
}

// Header is the unique identifier, datestamp and set membership of an item.
type Header struct {
	Identifier string
	Datestamp  time.Time
	SetSpecs   []string
	Status     HeaderStatus
}

// Deleted reports whether the header belongs to a deleted record.
func (h Header) Deleted() bool { return h.Status == StatusDeleted }

// Record carries metadata verbatim. Metadata is nil for deleted records.
type Record struct {
	Header   Header
	Metadata []byte
	About    [][]byte
}

// GetRecordBody holds a single record.
type GetRecordBody struct {
	Record Record
}

// ListIdentifiersBody is one page of headers.
type ListIdentifiersBody struct {
	Headers []Header
	Token   *ResumptionToken
}

// ListRecordsBody is one page of records.
type ListRecordsBody struct {
	Records []Record
	Token   *ResumptionToken
}

// ErrorsBody can be the answer to any request.
type ErrorsBody struct {
	Errors []OAIError
}

func (IdentifyBody) isBody()            {}
func (ListMetadataFormatsBody) isBody() {}
func (ListSetsBody) isBody()            {}
func (GetRecordBody) isBody()           {}
func (ListIdentifiersBody) isBody()     {}
func (ListRecordsBody) isBody()         {}
func (ErrorsBody) isBody()              {}

// ResumptionToken is part of OAI flow control (3.5). A page with a token is
// followed by more pages.
type ResumptionToken struct {
	Value string
	// A UTCdatetime indicating when the resumptionToken ceases to be valid.
	ExpirationDate *time.Time
	// An integer indicating the cardinality of the complete list, maybe only
	// an estimate.
	CompleteListSize *int64
	// A count of the number of elements of the complete list thus far
	// returned (i.e. cursor starts at 0).
	Cursor *int64
}

// The xml types below mirror the OAI-PMH schema, only as far as needed.

type envelope struct {
	XMLName             xml.Name                `xml:"OAI-PMH"`
	ResponseDate        string                  `xml:"responseDate"`
	Request             xmlRequest              `xml:"request"`
	Errors              []xmlError              `xml:"error"`
	GetRecord           *xmlGetRecord           `xml:"GetRecord"`
	Identify            *xmlIdentify            `xml:"Identify"`
	ListIdentifiers     *xmlListIdentifiers     `xml:"ListIdentifiers"`
	ListMetadataFormats *xmlListMetadataFormats `xml:"ListMetadataFormats"`
	ListRecords         *xmlListRecords         `xml:"ListRecords"`
	ListSets            *xmlListSets            `xml:"ListSets"`
}

type xmlRequest struct {
	Verb            string `xml:"verb,attr"`
	Identifier      string `xml:"identifier,attr"`
	MetadataPrefix  string `xml:"metadataPrefix,attr"`
	From            string `xml:"from,attr"`
	Until           string `xml:"until,attr"`
	Set             string `xml:"set,attr"`
	ResumptionToken string `xml:"resumptionToken,attr"`
	Endpoint        string `xml:",chardata"`
}

type xmlError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type xmlAny struct {
	Raw string `xml:",innerxml"`
}

type xmlToken struct {
	Value            string `xml:",chardata"`
	ExpirationDate   string `xml:"expirationDate,attr"`
	CompleteListSize string `xml:"completeListSize,attr"`
	Cursor           string `xml:"cursor,attr"`
}

type xmlHeader struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpecs   []string `xml:"setSpec"`
}

type xmlRecord struct {
	Header   xmlHeader `xml:"header"`
	Metadata *xmlAny   `xml:"metadata"`
	About    []xmlAny  `xml:"about"`
	// Scope holds the namespace bindings in effect at the metadata element,
	// keyed by prefix, "" being the default namespace.
	Scope map[string]string `xml:"-"`
}

type xmlGetRecord struct {
	Record xmlRecord `xml:"record"`
}

type xmlIdentify struct {
	RepositoryName    string   `xml:"repositoryName"`
	BaseURL           string   `xml:"baseURL"`
	ProtocolVersion   string   `xml:"protocolVersion"`
	AdminEmails       []string `xml:"adminEmail"`
	EarliestDatestamp string   `xml:"earliestDatestamp"`
	DeletedRecord     string   `xml:"deletedRecord"`
	Granularity       string   `xml:"granularity"`
	Compressions      []string `xml:"compression"`
	Descriptions      []xmlAny `xml:"description"`
}

type xmlListIdentifiers struct {
	Headers []xmlHeader `xml:"header"`
	Token   *xmlToken   `xml:"resumptionToken"`
}

type xmlListRecords struct {
	Records []xmlRecord `xml:"record"`
	Token   *xmlToken   `xml:"resumptionToken"`
}

type xmlListMetadataFormats struct {
	Formats []struct {
		Prefix    string `xml:"metadataPrefix"`
		Schema    string `xml:"schema"`
		Namespace string `xml:"metadataNamespace"`
	} `xml:"metadataFormat"`
}

type xmlListSets struct {
	Sets []struct {
		Spec         string   `xml:"setSpec"`
		Name         string   `xml:"setName"`
		Descriptions []xmlAny `xml:"setDescription"`
	} `xml:"set"`
	Token *xmlToken `xml:"resumptionToken"`
}

// Decode reads a single OAI-PMH response. Anything that does not fit the
// protocol, including unknown enumeration values, is a *DecodingError.
func Decode(r io.Reader) (Response, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Response{}, &DecodingError{Msg: "read", Err: err}
	}
	var env envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return Response{}, &DecodingError{Msg: "xml", Err: err}
	}
	if err := bindScopes(data, &env); err != nil {
		return Response{}, err
	}
	return mapResponse(env)
}

// bindScopes attaches to each record with metadata the namespaces declared
// by its ancestors, so the metadata can stand on its own.
func bindScopes(data []byte, env *envelope) error {
	var records []*xmlRecord
	if env.GetRecord != nil && env.GetRecord.Record.Metadata != nil {
		records = append(records, &env.GetRecord.Record)
	}
	if env.ListRecords != nil {
		for i := range env.ListRecords.Records {
			if env.ListRecords.Records[i].Metadata != nil {
				records = append(records, &env.ListRecords.Records[i])
			}
		}
	}
	if len(records) == 0 {
		return nil
	}
	scopes, err := metadataScopes(data)
	if err != nil {
		return &DecodingError{Msg: "xml", Err: err}
	}
	if len(scopes) != len(records) {
		return decodingErrorf("found %d metadata elements for %d records", len(scopes), len(records))
	}
	for i, r := range records {
		r.Scope = scopes[i]
	}
	return nil
}

// metadataScopes returns the namespace bindings in effect at each
// record/metadata element, in document order.
func metadataScopes(data []byte) ([]map[string]string, error) {
	var (
		d      = xml.NewDecoder(bytes.NewReader(data))
		scope  = map[string]string{}
		stack  []map[string]string
		path   []string
		result []map[string]string
	)
	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, scope)
			scope = declare(scope, t.Attr)
			path = append(path, t.Name.Local)
			if len(path) == 4 && (path[1] == "GetRecord" || path[1] == "ListRecords") &&
				path[2] == "record" && path[3] == "metadata" {
				result = append(result, scope)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, decodingErrorf("unbalanced element %s", t.Name.Local)
			}
			scope, stack = stack[len(stack)-1], stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
}

// declare returns scope extended by the xmlns attributes in attrs. The scope
// is copied only when something is declared.
func declare(scope map[string]string, attrs []xml.Attr) map[string]string {
	var extended map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		case a.Name.Space == "" && a.Name.Local == "xmlns":
		default:
			continue
		}
		if extended == nil {
			extended = make(map[string]string, len(scope)+1)
			for k, v := range scope {
				extended[k] = v
			}
		}
		extended[prefix] = a.Value
	}
	if extended == nil {
		return scope
	}
	return extended
}

// withScope adds the bindings of scope to the root element of an XML
// fragment, unless the root declares the prefix itself.
func withScope(fragment []byte, scope map[string]string) []byte {
	if len(scope) == 0 {
		return fragment
	}
	d := xml.NewDecoder(bytes.NewReader(fragment))
	for {
		offset := d.InputOffset()
		tok, err := d.RawToken()
		if err != nil {
			return fragment
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		own := declare(nil, start.Attr)
		var prefixes []string
		for prefix := range scope {
			if _, ok := own[prefix]; !ok && prefix != "xml" {
				prefixes = append(prefixes, prefix)
			}
		}
		sort.Strings(prefixes)

		var buf bytes.Buffer
		for _, prefix := range prefixes {
			buf.WriteString(" xmlns")
			if prefix != "" {
				buf.WriteString(":" + prefix)
			}
			buf.WriteString(`="`)
			xml.EscapeText(&buf, []byte(scope[prefix]))
			buf.WriteString(`"`)
		}
		name := len(start.Name.Local)
		if start.Name.Space != "" {
			name += len(start.Name.Space) + 1
		}
		at := int(offset) + 1 + name
		result := make([]byte, 0, len(fragment)+buf.Len())
		result = append(result, fragment[:at]...)
		result = append(result, buf.Bytes()...)
		return append(result, fragment[at:]...)
	}
}

func mapResponse(env envelope) (Response, error) {
	var resp Response
	date, err := parseInstant(env.ResponseDate)
	if err != nil {
		return resp, err
	}
	req, err := mapRequest(env.Request)
	if err != nil {
		return resp, err
	}
	body, err := mapBody(env, req)
	if err != nil {
		return resp, err
	}
	return Response{Date: date, Request: req, Body: body}, nil
}

func mapRequest(r xmlRequest) (Request, error) {
	endpoint := strings.TrimSpace(r.Endpoint)
	switch Verb(r.Verb) {
	case "":
		return BadRequest{Endpoint: endpoint}, nil
	case VerbIdentify:
		return Identify{Endpoint: endpoint}, nil
	case VerbGetRecord:
		return GetRecord{Endpoint: endpoint, Identifier: r.Identifier, MetadataPrefix: r.MetadataPrefix}, nil
	case VerbListMetadataFormats:
		return ListMetadataFormats{Endpoint: endpoint, Identifier: r.Identifier}, nil
	case VerbListSets:
		return ListSets{Endpoint: endpoint, ResumptionToken: r.ResumptionToken}, nil
	case VerbListIdentifiers:
		if r.ResumptionToken != "" {
			return ListIdentifiersResume{Endpoint: endpoint, ResumptionToken: r.ResumptionToken}, nil
		}
		filter, err := mapFilter(r)
		if err != nil {
			return nil, err
		}
		return ListIdentifiersInitial{Endpoint: endpoint, Filter: filter}, nil
	case VerbListRecords:
		if r.ResumptionToken != "" {
			return ListRecordsResume{Endpoint: endpoint, ResumptionToken: r.ResumptionToken}, nil
		}
		filter, err := mapFilter(r)
		if err != nil {
			return nil, err
		}
		return ListRecordsInitial{Endpoint: endpoint, Filter: filter}, nil
	}
	return nil, decodingErrorf("unknown verb value %q", r.Verb)
}

func mapFilter(r xmlRequest) (Filter, error) {
	f := Filter{MetadataPrefix: r.MetadataPrefix, Set: r.Set}
	for _, v := range []struct {
		s   string
		dst **TimeBoundary
	}{
		{r.From, &f.From},
		{r.Until, &f.Until},
	} {
		if v.s == "" {
			continue
		}
		b, err := ParseTimeBoundary(v.s)
		if err != nil {
			return f, &DecodingError{Msg: "request", Err: err}
		}
		*v.dst = &b
	}
	return f, nil
}

// mapBody picks the body matching the echoed request. Errors take precedence
// over everything else.
func mapBody(env envelope, req Request) (Body, error) {
	if len(env.Errors) > 0 {
		return mapErrors(env.Errors)
	}
	missing := func() error {
		return decodingErrorf("no %s element in response", req.Verb())
	}
	switch req.(type) {
	case Identify:
		if env.Identify == nil {
			return nil, missing()
		}
		return mapIdentify(env.Identify)
	case GetRecord:
		if env.GetRecord == nil {
			return nil, missing()
		}
		record, err := mapRecord(env.GetRecord.Record)
		if err != nil {
			return nil, err
		}
		return GetRecordBody{Record: record}, nil
	case ListMetadataFormats:
		if env.ListMetadataFormats == nil {
			return nil, missing()
		}
		return mapListMetadataFormats(env.ListMetadataFormats), nil
	case ListSets:
		if env.ListSets == nil {
			return nil, missing()
		}
		return mapListSets(env.ListSets)
	case ListIdentifiersInitial, ListIdentifiersResume:
		if env.ListIdentifiers == nil {
			return nil, missing()
		}
		return mapListIdentifiers(env.ListIdentifiers)
	case ListRecordsInitial, ListRecordsResume:
		if env.ListRecords == nil {
			return nil, missing()
		}
		return mapListRecords(env.ListRecords)
	}
	return nil, decodingErrorf("no body for request without verb")
}

func mapErrors(xs []xmlError) (ErrorsBody, error) {
	var body ErrorsBody
	for _, x := range xs {
		code, err := ParseErrorCode(x.Code)
		if err != nil {
			return body, err
		}
		body.Errors = append(body.Errors, OAIError{Code: code, Message: strings.TrimSpace(x.Message)})
	}
	return body, nil
}

func mapIdentify(x *xmlIdentify) (IdentifyBody, error) {
	var body IdentifyBody
	earliest, err := parseInstant(x.EarliestDatestamp)
	if err != nil {
		return body, err
	}
	deleted, err := parseDeletedRecord(x.DeletedRecord)
	if err != nil {
		return body, err
	}
	granularity, err := ParseGranularity(x.Granularity)
	if err != nil {
		return body, err
	}
	return IdentifyBody{
		RepositoryName:    strings.TrimSpace(x.RepositoryName),
		BaseURL:           strings.TrimSpace(x.BaseURL),
		ProtocolVersion:   strings.TrimSpace(x.ProtocolVersion),
		AdminEmails:       x.AdminEmails,
		EarliestDatestamp: earliest,
		DeletedRecord:     deleted,
		Granularity:       granularity,
		Compressions:      x.Compressions,
		Descriptions:      raws(x.Descriptions),
	}, nil
}

func mapHeader(x xmlHeader) (Header, error) {
	var h Header
	datestamp, err := parseInstant(x.Datestamp)
	if err != nil {
		return h, err
	}
	status, err := parseHeaderStatus(x.Status)
	if err != nil {
		return h, err
	}
	return Header{
		Identifier: strings.TrimSpace(x.Identifier),
		Datestamp:  datestamp,
		SetSpecs:   x.SetSpecs,
		Status:     status,
	}, nil
}

func mapRecord(x xmlRecord) (Record, error) {
	header, err := mapHeader(x.Header)
	if err != nil {
		return Record{}, err
	}
	record := Record{Header: header}
	if x.Metadata != nil {
		record.Metadata = withScope([]byte(strings.TrimSpace(x.Metadata.Raw)), x.Scope)
	}
	for _, a := range x.About {
		record.About = append(record.About, []byte(strings.TrimSpace(a.Raw)))
	}
	return record, nil
}

// mapToken treats an empty token element like a missing one, since that is
// how the last page of a list is marked.
func mapToken(x *xmlToken) (*ResumptionToken, error) {
	if x == nil || strings.TrimSpace(x.Value) == "" {
		return nil, nil
	}
	token := &ResumptionToken{Value: strings.TrimSpace(x.Value)}
	if x.ExpirationDate != "" {
		t, err := parseInstant(x.ExpirationDate)
		if err != nil {
			return nil, err
		}
		token.ExpirationDate = &t
	}
	for _, v := range []struct {
		s   string
		dst **int64
	}{
		{x.CompleteListSize, &token.CompleteListSize},
		{x.Cursor, &token.Cursor},
	} {
		if v.s == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return nil, &DecodingError{Msg: "resumption token", Err: err}
		}
		*v.dst = &n
	}
	return token, nil
}

func mapListIdentifiers(x *xmlListIdentifiers) (ListIdentifiersBody, error) {
	var body ListIdentifiersBody
	for _, xh := range x.Headers {
		h, err := mapHeader(xh)
		if err != nil {
			return body, err
		}
		body.Headers = append(body.Headers, h)
	}
	token, err := mapToken(x.Token)
	if err != nil {
		return body, err
	}
	body.Token = token
	return body, nil
}

func mapListRecords(x *xmlListRecords) (ListRecordsBody, error) {
	var body ListRecordsBody
	for _, xr := range x.Records {
		r, err := mapRecord(xr)
		if err != nil {
			return body, err
		}
		body.Records = append(body.Records, r)
	}
	token, err := mapToken(x.Token)
	if err != nil {
		return body, err
	}
	body.Token = token
	return body, nil
}

func mapListMetadataFormats(x *xmlListMetadataFormats) ListMetadataFormatsBody {
	var body ListMetadataFormatsBody
	for _, f := range x.Formats {
		body.Formats = append(body.Formats, MetadataFormat{
			Prefix:    strings.TrimSpace(f.Prefix),
			Schema:    strings.TrimSpace(f.Schema),
			Namespace: strings.TrimSpace(f.Namespace),
		})
	}
	return body
}

func mapListSets(x *xmlListSets) (ListSetsBody, error) {
	var body ListSetsBody
	for _, s := range x.Sets {
		body.Sets = append(body.Sets, Set{
			Spec:         strings.TrimSpace(s.Spec),
			Name:         strings.TrimSpace(s.Name),
			Descriptions: raws(s.Descriptions),
		})
	}
	token, err := mapToken(x.Token)
	if err != nil {
		return body, err
	}
	body.Token = token
	return body, nil
}

func raws(xs []xmlAny) []string {
	var result []string
	for _, x := range xs {
		result = append(result, strings.TrimSpace(x.Raw))
	}
	return result
}
