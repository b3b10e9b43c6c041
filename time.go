//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>
//

package oai

import (
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/pkg/errors"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05Z"
)

// TimeBoundary is either a calendar date or an UTC instant. It is used for
// from and until arguments and for datestamps.
type TimeBoundary struct {
	t    time.Time
	date bool
}

// Date returns a day granularity boundary.
func Date(year int, month time.Month, day int) TimeBoundary {
	return TimeBoundary{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), date: true}
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) TimeBoundary {
	return TimeBoundary{t: now.New(t.UTC()).BeginningOfDay(), date: true}
}

// DateTime returns a second granularity boundary.
func DateTime(t time.Time) TimeBoundary {
	return TimeBoundary{t: t.UTC()}
}

// IsDate reports whether b carries a calendar date only.
func (b TimeBoundary) IsDate() bool { return b.date }

// Time returns the instant, UTC midnight for dates.
func (b TimeBoundary) Time() time.Time { return b.t }

// Equal compares kind and instant.
func (b TimeBoundary) Equal(o TimeBoundary) bool {
	return b.date == o.date && b.t.Equal(o.t)
}

// AtSecondPrecision turns a date into the instant at UTC start of that day.
// Instants are returned unchanged.
func (b TimeBoundary) AtSecondPrecision() TimeBoundary {
	if !b.date {
		return b
	}
	return DateTime(now.New(b.t).BeginningOfDay())
}

// Format serializes b for a repository with granularity g. Instants are
// truncated to their day for day granularity, dates are rejected for second
// granularity.
func (b TimeBoundary) Format(g Granularity) (string, error) {
	switch g {
	case GranularityDay:
		return b.t.Format(dateLayout), nil
	case GranularitySecond:
		if b.date {
			return "", ErrDateWithSecondGranularity
		}
		return b.t.Truncate(time.Second).Format(dateTimeLayout), nil
	}
	return "", errors.Errorf("unknown granularity %q", g)
}

func (b TimeBoundary) String() string {
	if b.date {
		return b.t.Format(dateLayout)
	}
	return b.t.Truncate(time.Second).Format(dateTimeLayout)
}

func (b TimeBoundary) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *TimeBoundary) UnmarshalText(text []byte) error {
	v, err := ParseTimeBoundary(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseTimeBoundary accepts YYYY-MM-DD and YYYY-MM-DDThh:mm:ssZ, the latter
// also with fractional seconds or an offset.
func ParseTimeBoundary(s string) (TimeBoundary, error) {
	s = strings.TrimSpace(s)
	if strings.IndexByte(s, 'T') > 1 {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return TimeBoundary{}, errors.Wrapf(ErrBadTimeBoundary, "%q", s)
		}
		return DateTime(t), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimeBoundary{}, errors.Wrapf(ErrBadTimeBoundary, "%q", s)
	}
	return TimeBoundary{t: t, date: true}, nil
}

// parseInstant parses a datestamp into an UTC instant.
func parseInstant(s string) (time.Time, error) {
	b, err := ParseTimeBoundary(s)
	if err != nil {
		return time.Time{}, &DecodingError{Msg: "datestamp", Err: err}
	}
	return b.Time(), nil
}
