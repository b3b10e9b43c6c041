// Package harvest drives a selective harvest: one ListIdentifiers stream per
// track, one GetRecord call per identifier and metadata prefix, and a status
// update after every completed page, so that an interrupted harvest can be
// resumed and a finished one updated.
package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
	"github.com/houillon/basic-oai-harvester/status"
)

var log = logging.Logger("harvest")

var (
	ErrHarvestIncomplete = errors.New("harvest incomplete, resume first")
	ErrTracksFailed      = errors.New("harvest stopped before all tracks were done")
)

// Service executes protocol requests, *oai.Client is the implementation.
type Service interface {
	Identify(ctx context.Context, req oai.Identify) (oai.IdentifyBody, time.Time, error)
	ListIdentifiers(ctx context.Context, req oai.ListIdentifiers, g oai.Granularity) (oai.ListIdentifiersBody, error)
	GetRecord(ctx context.Context, req oai.GetRecord) (oai.GetRecordBody, error)
}

// Store persists the harvest status of a directory.
type Store interface {
	Read(dir string) (status.HarvestStatus, error)
	Write(dir string, hs status.HarvestStatus) error
}

// Sink receives the metadata of every harvested record.
type Sink interface {
	Write(dir string, metadata []byte, identifier, prefix string) error
}

// Options of a new harvest. Without sets the whole repository is harvested,
// without prefixes the default prefix is used.
type Options struct {
	BaseURL          string
	MetadataPrefixes []string
	Sets             []string
	From             *oai.TimeBoundary
	Until            *oai.TimeBoundary
	Dir              string
}

// Harvester runs harvests, one request at a time.
type Harvester struct {
	Service Service
	Store   Store
	Sink    Sink
	// DefaultPrefix is harvested when no prefix is given. It is also the
	// prefix of every ListIdentifiers request, since all repositories
	// support it.
	DefaultPrefix string

	now   func() time.Time
	newID func() string
}

// New returns a harvester with default settings.
func New(svc Service, store Store, sink Sink) *Harvester {
	return &Harvester{
		Service:       svc,
		Store:         store,
		Sink:          sink,
		DefaultPrefix: oai.DefaultPrefix,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Harvest starts a new harvest into opts.Dir, replacing any previous status
// found there.
func (h *Harvester) Harvest(ctx context.Context, opts Options) error {
	if opts.BaseURL == "" {
		return oai.ErrNoEndpoint
	}
	g, date, err := h.identify(ctx, opts.BaseURL)
	if err != nil {
		return err
	}

	var started oai.TimeBoundary
	switch g {
	case oai.GranularityDay:
		started = oai.DateOf(h.now())
	default:
		started = oai.DateTime(date)
	}

	prefixes := opts.MetadataPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{h.DefaultPrefix}
	}
	from, until := normalize("from", opts.From, g), normalize("until", opts.Until, g)
	hs := status.New(h.newID(), started, opts.BaseURL, prefixes, opts.Sets, from, until)
	if err := h.Store.Write(opts.Dir, hs); err != nil {
		return err
	}
	log.Infof("harvest %s of %s started at %s, %d track(s)", hs.ID, hs.BaseURL, hs.Started, len(hs.TrackStatuses))
	return h.newRun(opts.Dir, hs, g).tracks(ctx)
}

// Resume continues the harvest in dir: in progress tracks from their stored
// token, pending tracks from the beginning.
func (h *Harvester) Resume(ctx context.Context, dir string) error {
	hs, err := h.Store.Read(dir)
	if err != nil {
		return err
	}
	g, _, err := h.identify(ctx, hs.BaseURL)
	if err != nil {
		return err
	}
	log.Infof("resuming harvest %s of %s", hs.ID, hs.BaseURL)
	return h.newRun(dir, hs, g).tracks(ctx)
}

// Update harvests everything changed since the harvest in dir started. The
// previous harvest must be complete.
func (h *Harvester) Update(ctx context.Context, dir string) error {
	hs, err := h.Store.Read(dir)
	if err != nil {
		return err
	}
	if !hs.Completed() {
		log.Warnf("%s: %v", dir, ErrHarvestIncomplete)
		return ErrHarvestIncomplete
	}
	from := hs.Started
	log.Infof("updating harvest %s of %s from %s", hs.ID, hs.BaseURL, from)
	return h.Harvest(ctx, Options{
		BaseURL:          hs.BaseURL,
		MetadataPrefixes: hs.MetadataPrefixes,
		Sets:             hs.Sets(),
		From:             &from,
		Until:            hs.Until,
		Dir:              dir,
	})
}

// identify returns the granularity of the repository and its current time.
func (h *Harvester) identify(ctx context.Context, baseURL string) (oai.Granularity, time.Time, error) {
	body, date, err := h.Service.Identify(ctx, oai.Identify{Endpoint: baseURL})
	if err != nil {
		log.Errorf("identify %s: %v", baseURL, err)
		return "", date, errors.Wrap(err, "identify")
	}
	log.Debugf("%s: granularity %s", baseURL, body.Granularity)
	return body.Granularity, date, nil
}

// newRun normalizes the boundaries again, a status may have been written
// before the repository changed its granularity.
func (h *Harvester) newRun(dir string, hs status.HarvestStatus, g oai.Granularity) *run {
	prefixes := hs.MetadataPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{h.DefaultPrefix}
	}
	return &run{
		Harvester: h,
		dir:       dir,
		hs:        hs,
		g:         g,
		prefixes:  prefixes,
		from:      normalize("from", hs.From, g),
		until:     normalize("until", hs.Until, g),
		log:       log.With("harvest", hs.ID),
	}
}

// normalize turns a date into an instant for second granularity repositories,
// which cannot take dates.
func normalize(name string, b *oai.TimeBoundary, g oai.Granularity) *oai.TimeBoundary {
	if b == nil || g != oai.GranularitySecond || !b.IsDate() {
		return b
	}
	n := b.AtSecondPrecision()
	log.Warnf("%s %s is a date, but the repository has second granularity, using %s", name, b, n)
	return &n
}
