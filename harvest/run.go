package harvest

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
	"github.com/houillon/basic-oai-harvester/status"
)

type logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// trackError stops a single track. Its persisted status is left as is, so a
// later resume starts over from the last completed page.
type trackError struct {
	track status.Track
	err   error
}

func (e *trackError) Error() string { return fmt.Sprintf("%s: %v", e.track, e.err) }

func (e *trackError) Unwrap() error { return e.err }

// run is a single invocation. It owns the harvest status until it returns.
type run struct {
	*Harvester
	dir      string
	hs       status.HarvestStatus
	g        oai.Granularity
	prefixes []string
	from     *oai.TimeBoundary
	until    *oai.TimeBoundary
	log      logger
}

// tracks processes all unfinished tracks, one after another. A failing track
// does not keep the others from running; decoding errors, status write
// failures and cancellation end the run.
func (r *run) tracks(ctx context.Context) error {
	tracks := r.hs.Tracks()
	var failed int
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.track(ctx, t)
		var te *trackError
		switch {
		case err == nil:
			r.log.Infof("%s done", t)
		case errors.As(err, &te):
			r.log.Warnf("%s stopped: %v", t, te.err)
			failed++
		default:
			return err
		}
	}
	if failed > 0 {
		return errors.Wrapf(ErrTracksFailed, "%d of %d track(s) failed", failed, len(tracks))
	}
	r.log.Infof("harvest complete")
	return nil
}

// first returns the request a track starts or continues with.
func (r *run) first(t status.Track) oai.ListIdentifiers {
	if ts := r.hs.TrackStatuses[t]; ts.State == status.InProgress {
		return oai.ListIdentifiersResume{Endpoint: r.hs.BaseURL, ResumptionToken: ts.ResumptionToken}
	}
	return oai.ListIdentifiersInitial{
		Endpoint: r.hs.BaseURL,
		Filter: oai.Filter{
			MetadataPrefix: r.DefaultPrefix,
			Set:            t.Set,
			From:           r.from,
			Until:          r.until,
		},
	}
}

// track pages through the identifiers of a track. The status is written
// after every page, never in the middle of one.
func (r *run) track(ctx context.Context, t status.Track) error {
	queue := []oai.ListIdentifiers{r.first(t)}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := queue[0]
		queue = queue[1:]
		r.log.Debugf("%s: %s", t, req)

		body, err := r.Service.ListIdentifiers(ctx, req, r.g)
		if err != nil {
			var (
				re *oai.RequestError
				te *oai.TransportError
			)
			switch {
			case errors.As(err, &re) && re.NoRecordsMatch():
				r.log.Infof("%s: no records match", t)
				body = oai.ListIdentifiersBody{}
			case errors.As(err, &re), errors.As(err, &te):
				return &trackError{track: t, err: err}
			default:
				return err
			}
		}

		for _, h := range body.Headers {
			if err := r.record(ctx, t, h); err != nil {
				return err
			}
		}

		next := status.StatusDone
		if body.Token != nil {
			queue = append(queue, oai.ListIdentifiersResume{Endpoint: r.hs.BaseURL, ResumptionToken: body.Token.Value})
			next = status.StatusInProgress(body.Token.Value)
		}
		if err := r.hs.SetTrackStatus(t, next); err != nil {
			return err
		}
		if err := r.Store.Write(r.dir, r.hs); err != nil {
			return errors.Wrap(err, "persisting status")
		}
		r.log.Debugf("%s: %d header(s), now %s", t, len(body.Headers), next)
	}
	return nil
}

// record fetches and stores one item in every requested format. Formats the
// repository cannot deliver for the item and deleted records are skipped.
func (r *run) record(ctx context.Context, t status.Track, h oai.Header) error {
	for _, prefix := range r.prefixes {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := oai.GetRecord{Endpoint: r.hs.BaseURL, Identifier: h.Identifier, MetadataPrefix: prefix}
		body, err := r.Service.GetRecord(ctx, req)
		if err != nil {
			var (
				re *oai.RequestError
				te *oai.TransportError
			)
			switch {
			case errors.As(err, &re):
				r.log.Warnf("%s [%s]: %v", h.Identifier, prefix, err)
				continue
			case errors.As(err, &te):
				return &trackError{track: t, err: err}
			default:
				return err
			}
		}
		if body.Record.Metadata == nil {
			r.log.Warnf("%s [%s]: no metadata, record deleted, skipping", h.Identifier, prefix)
			continue
		}
		if err := r.Sink.Write(r.dir, body.Record.Metadata, h.Identifier, prefix); err != nil {
			return &trackError{track: t, err: err}
		}
	}
	return ctx.Err()
}
