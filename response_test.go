package oai

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const identifyResponse = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="Identify">http://example.com/oai</request>
  <Identify>
    <repositoryName>Example</repositoryName>
    <baseURL>http://example.com/oai</baseURL>
    <protocolVersion>2.0</protocolVersion>
    <adminEmail>admin@example.com</adminEmail>
    <earliestDatestamp>1990-02-01</earliestDatestamp>
    <deletedRecord>persistent</deletedRecord>
    <granularity>YYYY-MM-DD</granularity>
    <compression>gzip</compression>
  </Identify>
</OAI-PMH>`

func TestDecodeIdentify(t *testing.T) {
	resp, err := Decode(strings.NewReader(identifyResponse))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), resp.Date)
	require.Equal(t, Identify{Endpoint: "http://example.com/oai"}, resp.Request)

	body, ok := resp.Body.(IdentifyBody)
	require.True(t, ok)
	require.Equal(t, "Example", body.RepositoryName)
	require.Equal(t, GranularityDay, body.Granularity)
	require.Equal(t, DeletedRecordPersistent, body.DeletedRecord)
	require.Equal(t, []string{"admin@example.com"}, body.AdminEmails)
	require.Equal(t, []string{"gzip"}, body.Compressions)
	require.Equal(t, time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), body.EarliestDatestamp)
}

func TestDecodeListIdentifiers(t *testing.T) {
	var tests = []struct {
		about   string
		doc     string
		request Request
		headers []Header
		token   string
	}{
		{
			about: "initial page with token",
			doc: `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="ListIdentifiers" metadataPrefix="oai_dc" set="A" from="2024-01-01">http://example.com/oai</request>
  <ListIdentifiers>
    <header><identifier>oai:x:1</identifier><datestamp>2024-01-02</datestamp><setSpec>A</setSpec></header>
    <header status="deleted"><identifier>oai:x:2</identifier><datestamp>2024-01-03T08:00:00Z</datestamp></header>
    <resumptionToken completeListSize="4" cursor="0">tokABC</resumptionToken>
  </ListIdentifiers>
</OAI-PMH>`,
			request: ListIdentifiersInitial{Endpoint: "http://example.com/oai", Filter: Filter{
				MetadataPrefix: "oai_dc", Set: "A", From: boundary(Date(2024, 1, 1)),
			}},
			headers: []Header{
				{Identifier: "oai:x:1", Datestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), SetSpecs: []string{"A"}},
				{Identifier: "oai:x:2", Datestamp: time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC), Status: StatusDeleted},
			},
			token: "tokABC",
		},
		{
			about: "last page with empty token",
			doc: `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="ListIdentifiers" resumptionToken="tokABC">http://example.com/oai</request>
  <ListIdentifiers>
    <header><identifier>oai:x:3</identifier><datestamp>2024-01-04</datestamp></header>
    <resumptionToken completeListSize="4" cursor="2"/>
  </ListIdentifiers>
</OAI-PMH>`,
			request: ListIdentifiersResume{Endpoint: "http://example.com/oai", ResumptionToken: "tokABC"},
			headers: []Header{
				{Identifier: "oai:x:3", Datestamp: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			resp, err := Decode(strings.NewReader(test.doc))
			require.NoError(t, err)
			require.Equal(t, test.request, resp.Request)
			body, ok := resp.Body.(ListIdentifiersBody)
			require.True(t, ok)
			require.Equal(t, test.headers, body.Headers)
			if test.token == "" {
				require.Nil(t, body.Token)
				return
			}
			require.NotNil(t, body.Token)
			require.Equal(t, test.token, body.Token.Value)
			require.Equal(t, int64(4), *body.Token.CompleteListSize)
		})
	}
}

func TestDecodeGetRecord(t *testing.T) {
	doc := `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="GetRecord" identifier="oai:x:1" metadataPrefix="oai_dc">http://example.com/oai</request>
  <GetRecord>
    <record>
      <header><identifier>oai:x:1</identifier><datestamp>2024-01-02</datestamp></header>
      <metadata><dc><title>T</title></dc></metadata>
    </record>
  </GetRecord>
</OAI-PMH>`
	resp, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, GetRecord{Endpoint: "http://example.com/oai", Identifier: "oai:x:1", MetadataPrefix: "oai_dc"}, resp.Request)
	body, ok := resp.Body.(GetRecordBody)
	require.True(t, ok)
	require.Equal(t, "<dc><title>T</title></dc>", string(body.Record.Metadata))
	require.False(t, body.Record.Header.Deleted())

	deleted := `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="GetRecord" identifier="oai:x:2" metadataPrefix="oai_dc">http://example.com/oai</request>
  <GetRecord>
    <record><header status="deleted"><identifier>oai:x:2</identifier><datestamp>2024-01-02</datestamp></header></record>
  </GetRecord>
</OAI-PMH>`
	resp, err = Decode(strings.NewReader(deleted))
	require.NoError(t, err)
	body = resp.Body.(GetRecordBody)
	require.True(t, body.Record.Header.Deleted())
	require.Nil(t, body.Record.Metadata)
}

func TestDecodeMetadataNamespaces(t *testing.T) {
	doc := `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"
    xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
    xmlns:dc="http://purl.org/dc/elements/1.1/">
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="ListRecords" metadataPrefix="oai_dc">http://example.com/oai</request>
  <ListRecords xmlns:x="urn:x">
    <record>
      <header><identifier>oai:x:1</identifier><datestamp>2024-01-02</datestamp></header>
      <metadata><oai_dc:dc><dc:title>T</dc:title></oai_dc:dc></metadata>
    </record>
    <record>
      <header status="deleted"><identifier>oai:x:2</identifier><datestamp>2024-01-02</datestamp></header>
    </record>
    <record>
      <header><identifier>oai:x:3</identifier><datestamp>2024-01-02</datestamp></header>
      <metadata>
        <!-- own declaration wins -->
        <oai_dc:dc xmlns:dc="urn:other"><dc:title>U</dc:title></oai_dc:dc>
      </metadata>
    </record>
  </ListRecords>
</OAI-PMH>`
	resp, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	body := resp.Body.(ListRecordsBody)
	require.Len(t, body.Records, 3)
	require.Equal(t, `<oai_dc:dc`+
		` xmlns="http://www.openarchives.org/OAI/2.0/"`+
		` xmlns:dc="http://purl.org/dc/elements/1.1/"`+
		` xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"`+
		` xmlns:x="urn:x"><dc:title>T</dc:title></oai_dc:dc>`, string(body.Records[0].Metadata))
	require.Nil(t, body.Records[1].Metadata)

	third := string(body.Records[2].Metadata)
	require.Contains(t, third, `<oai_dc:dc xmlns="http://www.openarchives.org/OAI/2.0/" xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:x="urn:x" xmlns:dc="urn:other">`)
	require.NotContains(t, third, "purl.org")

	// the fragment must decode on its own, every prefix bound
	var dc struct {
		XMLName xml.Name
		Title   struct {
			XMLName xml.Name
		} `xml:"title"`
	}
	require.NoError(t, xml.Unmarshal(body.Records[0].Metadata, &dc))
	require.Equal(t, "http://www.openarchives.org/OAI/2.0/oai_dc/", dc.XMLName.Space)
	require.Equal(t, "http://purl.org/dc/elements/1.1/", dc.Title.XMLName.Space)
}

func TestDecodeErrors(t *testing.T) {
	doc := `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request verb="ListIdentifiers" metadataPrefix="oai_dc">http://example.com/oai</request>
  <error code="noRecordsMatch">nothing</error>
  <error code="badArgument">bad</error>
  <ListIdentifiers><header><identifier>ignored</identifier><datestamp>2024-01-02</datestamp></header></ListIdentifiers>
</OAI-PMH>`
	resp, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	body, ok := resp.Body.(ErrorsBody)
	require.True(t, ok)
	require.Equal(t, []OAIError{
		{Code: NoRecordsMatch, Message: "nothing"},
		{Code: BadArgument, Message: "bad"},
	}, body.Errors)

	badVerb := `<OAI-PMH>
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  <request>http://example.com/oai</request>
  <error code="badVerb">Illegal verb</error>
</OAI-PMH>`
	resp, err = Decode(strings.NewReader(badVerb))
	require.NoError(t, err)
	require.Equal(t, BadRequest{Endpoint: "http://example.com/oai"}, resp.Request)
}

func TestDecodeFailures(t *testing.T) {
	var tests = []struct {
		about string
		doc   string
	}{
		{"not xml", `hello`},
		{"unknown granularity", strings.Replace(identifyResponse, "YYYY-MM-DD<", "YYYY<", 1)},
		{"unknown deleted record", strings.Replace(identifyResponse, "persistent", "sometimes", 1)},
		{"unknown verb", strings.Replace(identifyResponse, `verb="Identify"`, `verb="Harvest"`, 1)},
		{"bad response date", strings.Replace(identifyResponse, "2024-01-15T10:00:00Z", "yesterday", 1)},
		{"missing body", `<OAI-PMH><responseDate>2024-01-15T10:00:00Z</responseDate><request verb="ListSets">x</request></OAI-PMH>`},
		{"unknown error code", `<OAI-PMH><responseDate>2024-01-15T10:00:00Z</responseDate><request verb="ListSets">x</request><error code="tooBusy"/></OAI-PMH>`},
		{"unknown header status", `<OAI-PMH><responseDate>2024-01-15T10:00:00Z</responseDate><request verb="ListIdentifiers" resumptionToken="t">x</request>
<ListIdentifiers><header status="gone"><identifier>a</identifier><datestamp>2024-01-02</datestamp></header></ListIdentifiers></OAI-PMH>`},
	}
	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			_, err := Decode(strings.NewReader(test.doc))
			var de *DecodingError
			require.ErrorAs(t, err, &de)
		})
	}
}
