// Package status holds the durable state of a harvest: which tracks exist,
// how far each of them got and which arguments started the harvest.
package status

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	oai "github.com/houillon/basic-oai-harvester"
)

const (
	fullTrackKey     = "@"
	pendingValue     = "@pending"
	doneValue        = "@done"
	inProgressPrefix = "@in-progress:"
)

var (
	ErrInvalidTracks      = errors.New("a harvest has either a single full track or one track per set")
	ErrBackwardTransition = errors.New("track status cannot go backwards")
	ErrUnknownTrackStatus = errors.New("unknown track status")
)

// Track is one independent pagination stream, the whole repository or a
// single set. The zero value is the full track.
type Track struct {
	Set string
}

// Full is the track without set filter.
var Full = Track{}

// SetTrack returns the track for a set.
func SetTrack(name string) Track { return Track{Set: name} }

// IsFull reports whether t is the full repository track.
func (t Track) IsFull() bool { return t.Set == "" }

func (t Track) String() string {
	if t.IsFull() {
		return "full"
	}
	return "set " + t.Set
}

// MarshalText uses a reserved key for the full track and the set name
// otherwise.
func (t Track) MarshalText() ([]byte, error) {
	if t.IsFull() {
		return []byte(fullTrackKey), nil
	}
	return []byte(t.Set), nil
}

func (t *Track) UnmarshalText(text []byte) error {
	if s := string(text); s != fullTrackKey {
		*t = Track{Set: s}
		return nil
	}
	*t = Full
	return nil
}

// State of a track.
type State int

const (
	Pending State = iota
	InProgress
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in progress"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// TrackStatus moves from pending, through any number of in progress steps,
// to done. ResumptionToken is set for in progress tracks only.
type TrackStatus struct {
	State           State
	ResumptionToken string
}

var (
	StatusPending = TrackStatus{State: Pending}
	StatusDone    = TrackStatus{State: Done}
)

// StatusInProgress records the token of the next page.
func StatusInProgress(token string) TrackStatus {
	return TrackStatus{State: InProgress, ResumptionToken: token}
}

func (s TrackStatus) String() string {
	if s.State == InProgress {
		return fmt.Sprintf("in progress (%s)", s.ResumptionToken)
	}
	return s.State.String()
}

// CanBecome reports whether moving from s to next keeps the order pending,
// in progress, done. A done track is final.
func (s TrackStatus) CanBecome(next TrackStatus) bool {
	switch s.State {
	case Pending:
		return true
	case InProgress:
		return next.State != Pending
	}
	return false
}

func (s TrackStatus) MarshalJSON() ([]byte, error) {
	var v string
	switch s.State {
	case Pending:
		v = pendingValue
	case Done:
		v = doneValue
	case InProgress:
		v = inProgressPrefix + s.ResumptionToken
	default:
		return nil, errors.Wrapf(ErrUnknownTrackStatus, "%d", s.State)
	}
	return json.Marshal(v)
}

func (s *TrackStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch {
	case v == pendingValue:
		*s = StatusPending
	case v == doneValue:
		*s = StatusDone
	case strings.HasPrefix(v, inProgressPrefix):
		*s = StatusInProgress(strings.TrimPrefix(v, inProgressPrefix))
	default:
		return errors.Wrapf(ErrUnknownTrackStatus, "%q", v)
	}
	return nil
}

// HarvestStatus is everything needed to resume or update a harvest.
type HarvestStatus struct {
	// ID identifies a harvest in logs, files written before it existed
	// have none.
	ID string `json:"id,omitempty"`
	// Started is a date for day granularity repositories and an instant
	// otherwise. It is the from boundary of the next update.
	Started          oai.TimeBoundary      `json:"started"`
	BaseURL          string                `json:"baseUrl"`
	MetadataPrefixes []string              `json:"metadataPrefixes"`
	TrackStatuses    map[Track]TrackStatus `json:"trackStatuses"`
	From             *oai.TimeBoundary     `json:"from,omitempty"`
	Until            *oai.TimeBoundary     `json:"until,omitempty"`
}

// New returns the status of a harvest about to start: one pending track per
// set, or a single full track without sets.
func New(id string, started oai.TimeBoundary, baseURL string, prefixes, sets []string, from, until *oai.TimeBoundary) HarvestStatus {
	tracks := make(map[Track]TrackStatus)
	for _, s := range sets {
		if s == "" {
			continue
		}
		tracks[SetTrack(s)] = StatusPending
	}
	if len(tracks) == 0 {
		tracks[Full] = StatusPending
	}
	return HarvestStatus{
		ID:               id,
		Started:          started,
		BaseURL:          baseURL,
		MetadataPrefixes: normalizePrefixes(prefixes),
		TrackStatuses:    tracks,
		From:             from,
		Until:            until,
	}
}

// normalizePrefixes makes the prefixes behave like a set.
func normalizePrefixes(prefixes []string) []string {
	seen := make(map[string]bool)
	result := []string{}
	for _, p := range prefixes {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Validate checks the track invariant: never empty, never a full track next
// to set tracks.
func (s HarvestStatus) Validate() error {
	if len(s.TrackStatuses) == 0 {
		return ErrInvalidTracks
	}
	if _, ok := s.TrackStatuses[Full]; ok && len(s.TrackStatuses) > 1 {
		return ErrInvalidTracks
	}
	return nil
}

// SetTrackStatus moves a track forward.
func (s HarvestStatus) SetTrackStatus(track Track, next TrackStatus) error {
	current, ok := s.TrackStatuses[track]
	if !ok {
		return errors.Errorf("unknown track: %s", track)
	}
	if !current.CanBecome(next) {
		return errors.Wrapf(ErrBackwardTransition, "%s: %s to %s", track, current, next)
	}
	s.TrackStatuses[track] = next
	return nil
}

// Completed is true, if every track is done.
func (s HarvestStatus) Completed() bool {
	for _, ts := range s.TrackStatuses {
		if ts.State != Done {
			return false
		}
	}
	return true
}

// Sets returns the set names of the harvest, empty for a full harvest.
func (s HarvestStatus) Sets() []string {
	var sets []string
	for t := range s.TrackStatuses {
		if !t.IsFull() {
			sets = append(sets, t.Set)
		}
	}
	sort.Strings(sets)
	return sets
}

// Tracks returns the tracks still to process: in progress tracks first,
// pending tracks second, done tracks left out. Ties are ordered by set name.
func (s HarvestStatus) Tracks() []Track {
	var tracks []Track
	for t, ts := range s.TrackStatuses {
		if ts.State != Done {
			tracks = append(tracks, t)
		}
	}
	priority := func(t Track) int {
		if s.TrackStatuses[t].State == InProgress {
			return 0
		}
		return 1
	}
	sort.Slice(tracks, func(i, j int) bool {
		pi, pj := priority(tracks[i]), priority(tracks[j])
		if pi != pj {
			return pi < pj
		}
		return tracks[i].Set < tracks[j].Set
	})
	return tracks
}
