package harvest

import (
	"context"
	"time"

	oai "github.com/houillon/basic-oai-harvester"
	"github.com/houillon/basic-oai-harvester/status"
)

// fakeService answers from canned pages and records every request.
type fakeService struct {
	granularity oai.Granularity
	date        time.Time
	identifyErr error
	// list answers ListIdentifiers requests.
	list func(req oai.ListIdentifiers) (oai.ListIdentifiersBody, error)
	// records are keyed by identifier and prefix, missing ones are
	// idDoesNotExist errors.
	records   map[string]oai.Record
	recordErr error

	identifies int
	lists      []oai.ListIdentifiers
	gets       []oai.GetRecord
}

func recordKey(identifier, prefix string) string { return identifier + " " + prefix }

func (s *fakeService) Identify(ctx context.Context, req oai.Identify) (oai.IdentifyBody, time.Time, error) {
	s.identifies++
	if s.identifyErr != nil {
		return oai.IdentifyBody{}, time.Time{}, s.identifyErr
	}
	return oai.IdentifyBody{BaseURL: req.Endpoint, Granularity: s.granularity}, s.date, nil
}

func (s *fakeService) ListIdentifiers(ctx context.Context, req oai.ListIdentifiers, g oai.Granularity) (oai.ListIdentifiersBody, error) {
	s.lists = append(s.lists, req)
	if _, err := oai.URL(req, g); err != nil {
		return oai.ListIdentifiersBody{}, err
	}
	return s.list(req)
}

func (s *fakeService) GetRecord(ctx context.Context, req oai.GetRecord) (oai.GetRecordBody, error) {
	s.gets = append(s.gets, req)
	if s.recordErr != nil {
		return oai.GetRecordBody{}, s.recordErr
	}
	r, ok := s.records[recordKey(req.Identifier, req.MetadataPrefix)]
	if !ok {
		return oai.GetRecordBody{}, &oai.RequestError{Request: req, Errors: []oai.OAIError{{Code: oai.IDDoesNotExist}}}
	}
	return oai.GetRecordBody{Record: r}, nil
}

// fakeStore keeps copies of every written status.
type fakeStore struct {
	current *status.HarvestStatus
	writes  []status.HarvestStatus
}

func copyStatus(hs status.HarvestStatus) status.HarvestStatus {
	c := hs
	c.TrackStatuses = make(map[status.Track]status.TrackStatus)
	for k, v := range hs.TrackStatuses {
		c.TrackStatuses[k] = v
	}
	return c
}

func (s *fakeStore) Read(dir string) (status.HarvestStatus, error) {
	if s.current == nil {
		return status.HarvestStatus{}, status.ErrNoStatus
	}
	return copyStatus(*s.current), nil
}

func (s *fakeStore) Write(dir string, hs status.HarvestStatus) error {
	if err := hs.Validate(); err != nil {
		return err
	}
	c := copyStatus(hs)
	s.current = &c
	s.writes = append(s.writes, copyStatus(hs))
	return nil
}

type fakeSink struct {
	written []string
	onWrite func()
	err     error
}

func (s *fakeSink) Write(dir string, metadata []byte, identifier, prefix string) error {
	if s.onWrite != nil {
		s.onWrite()
	}
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, recordKey(identifier, prefix))
	return nil
}

func header(id string) oai.Header {
	return oai.Header{Identifier: id, Datestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
}

func record(id string) oai.Record {
	return oai.Record{Header: header(id), Metadata: []byte("<dc>" + id + "</dc>")}
}

func token(v string) *oai.ResumptionToken { return &oai.ResumptionToken{Value: v} }

func requestError(codes ...oai.ErrorCode) error {
	var errs []oai.OAIError
	for _, c := range codes {
		errs = append(errs, oai.OAIError{Code: c})
	}
	return &oai.RequestError{Request: oai.ListIdentifiersInitial{}, Errors: errs}
}

func testHarvester(svc *fakeService, store *fakeStore, sink *fakeSink) *Harvester {
	h := New(svc, store, sink)
	h.now = func() time.Time { return time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC) }
	h.newID = func() string { return "test-id" }
	return h
}
