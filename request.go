package oai

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Request is one OAI-PMH protocol request. The set of implementations is
// closed, one type per verb, list requests split into an initial and a resume
// variant.
type Request interface {
	Verb() Verb
	// BaseURL is the endpoint of the repository.
	BaseURL() string
	isRequest()
}

// Identify asks for repository information, like granularity.
type Identify struct {
	Endpoint string
}

// GetRecord retrieves a single record in a given format.
type GetRecord struct {
	Endpoint       string
	Identifier     string
	MetadataPrefix string
}

// ListMetadataFormats lists the formats of the repository, or only those of
// a single item, if Identifier is set.
type ListMetadataFormats struct {
	Endpoint   string
	Identifier string
}

// ListSets lists the set structure, an empty token starts a new list.
type ListSets struct {
	Endpoint        string
	ResumptionToken string
}

// BadRequest stands for an echoed request without a verb, as found in
// responses to illegal requests. It cannot be sent.
type BadRequest struct {
	Endpoint string
}

// Filter holds the selective harvesting arguments of list requests. An empty
// Set and nil boundaries are left out.
type Filter struct {
	MetadataPrefix string
	Set            string
	From           *TimeBoundary
	Until          *TimeBoundary
}

func (f Filter) String() string {
	var parts = []string{"metadataPrefix=" + f.MetadataPrefix}
	if f.Set != "" {
		parts = append(parts, "set="+f.Set)
	}
	if f.From != nil {
		parts = append(parts, "from="+f.From.String())
	}
	if f.Until != nil {
		parts = append(parts, "until="+f.Until.String())
	}
	return strings.Join(parts, " ")
}

// ListIdentifiers is either ListIdentifiersInitial or ListIdentifiersResume.
type ListIdentifiers interface {
	Request
	isListIdentifiers()
}

// ListIdentifiersInitial starts a list of headers.
type ListIdentifiersInitial struct {
	Endpoint string
	Filter   Filter
}

// ListIdentifiersResume continues a list of headers. A resumption token is an
// exclusive argument, filters are never sent along.
type ListIdentifiersResume struct {
	Endpoint        string
	ResumptionToken string
}

// ListRecords is either ListRecordsInitial or ListRecordsResume.
type ListRecords interface {
	Request
	isListRecords()
}

// ListRecordsInitial starts a list of records.
type ListRecordsInitial struct {
	Endpoint string
	Filter   Filter
}

// ListRecordsResume continues a list of records.
type ListRecordsResume struct {
	Endpoint        string
	ResumptionToken string
}

func (r Identify) Verb() Verb               { return VerbIdentify }
func (r GetRecord) Verb() Verb              { return VerbGetRecord }
func (r ListMetadataFormats) Verb() Verb    { return VerbListMetadataFormats }
func (r ListSets) Verb() Verb               { return VerbListSets }
func (r BadRequest) Verb() Verb             { return "" }
func (r ListIdentifiersInitial) Verb() Verb { return VerbListIdentifiers }
func (r ListIdentifiersResume) Verb() Verb  { return VerbListIdentifiers }
func (r ListRecordsInitial) Verb() Verb     { return VerbListRecords }
func (r ListRecordsResume) Verb() Verb      { return VerbListRecords }

func (r Identify) BaseURL() string               { return r.Endpoint }
func (r GetRecord) BaseURL() string              { return r.Endpoint }
func (r ListMetadataFormats) BaseURL() string    { return r.Endpoint }
func (r ListSets) BaseURL() string               { return r.Endpoint }
func (r BadRequest) BaseURL() string             { return r.Endpoint }
func (r ListIdentifiersInitial) BaseURL() string { return r.Endpoint }
func (r ListIdentifiersResume) BaseURL() string  { return r.Endpoint }
func (r ListRecordsInitial) BaseURL() string     { return r.Endpoint }
func (r ListRecordsResume) BaseURL() string      { return r.Endpoint }

func (Identify) isRequest()               {}
func (GetRecord) isRequest()              {}
func (ListMetadataFormats) isRequest()    {}
func (ListSets) isRequest()               {}
func (BadRequest) isRequest()             {}
func (ListIdentifiersInitial) isRequest() {}
func (ListIdentifiersResume) isRequest()  {}
func (ListRecordsInitial) isRequest()     {}
func (ListRecordsResume) isRequest()      {}

func (ListIdentifiersInitial) isListIdentifiers() {}
func (ListIdentifiersResume) isListIdentifiers()  {}
func (ListRecordsInitial) isListRecords()         {}
func (ListRecordsResume) isListRecords()          {}

func (r ListIdentifiersInitial) String() string {
	return fmt.Sprintf("ListIdentifiers(%s)", r.Filter)
}

func (r ListIdentifiersResume) String() string {
	return fmt.Sprintf("ListIdentifiers(resumptionToken=%s)", r.ResumptionToken)
}

func (r ListRecordsInitial) String() string {
	return fmt.Sprintf("ListRecords(%s)", r.Filter)
}

func (r ListRecordsResume) String() string {
	return fmt.Sprintf("ListRecords(resumptionToken=%s)", r.ResumptionToken)
}

// URL returns the absolute URL for a given request. Time boundaries are
// serialized according to the granularity of the repository; a date boundary
// for a second granularity repository is an error, it must be normalized
// first.
func URL(req Request, g Granularity) (string, error) {
	if req == nil {
		return "", errors.Wrap(ErrBadVerb, "nil request")
	}
	if req.BaseURL() == "" {
		return "", ErrNoEndpoint
	}

	values := url.Values{}
	values.Add("verb", string(req.Verb()))

	maybeAdd := func(k, v string) {
		if v != "" {
			values.Add(k, v)
		}
	}

	switch r := req.(type) {
	case Identify:
	case GetRecord:
		values.Add("identifier", r.Identifier)
		values.Add("metadataPrefix", r.MetadataPrefix)
	case ListMetadataFormats:
		maybeAdd("identifier", r.Identifier)
	case ListSets:
		maybeAdd("resumptionToken", r.ResumptionToken)
	case ListIdentifiersInitial:
		if err := addFilter(values, r.Filter, g); err != nil {
			return "", err
		}
	case ListIdentifiersResume:
		// An exclusive argument with a value that is the flow control token.
		values.Add("resumptionToken", r.ResumptionToken)
	case ListRecordsInitial:
		if err := addFilter(values, r.Filter, g); err != nil {
			return "", err
		}
	case ListRecordsResume:
		values.Add("resumptionToken", r.ResumptionToken)
	default:
		return "", errors.Wrapf(ErrBadVerb, "cannot build URL for %T", req)
	}

	sep := "?"
	if strings.Contains(req.BaseURL(), "?") {
		sep = "&"
	}
	return req.BaseURL() + sep + values.Encode(), nil
}

func addFilter(values url.Values, f Filter, g Granularity) error {
	for _, b := range []struct {
		key      string
		boundary *TimeBoundary
	}{
		{"from", f.From},
		{"until", f.Until},
	} {
		if b.boundary == nil {
			continue
		}
		s, err := b.boundary.Format(g)
		if err != nil {
			return errors.Wrap(err, b.key)
		}
		values.Add(b.key, s)
	}
	if f.Set != "" {
		values.Add("set", f.Set)
	}
	values.Add("metadataPrefix", f.MetadataPrefix)
	return nil
}
