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
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
)

// Client turns a single OAI request into a single OAI response. Each call is
// retried by a resilient HTTP client, on network errors and on any status
// outside 2xx once redirects have been followed.
type Client struct {
	// MaxRetries is the total number of attempts for one call.
	MaxRetries int
	// Timeout applies to each attempt.
	Timeout time.Duration
	// RetryDelay is the wait between attempts, unless a 503 response
	// carries a Retry-After header.
	RetryDelay time.Duration
	UserAgent  string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// MaxRetries, Timeout and Transport are fixed on first use.
	once sync.Once
	doer *pester.Client
}

// NewClient create a default client.
func NewClient() *Client {
	return &Client{
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
		RetryDelay: DefaultRetryDelay,
		UserAgent:  UserAgent,
	}
}

// resilient returns the retrying HTTP client shared by all calls. The state
// of a single call travels in the request context.
func (c *Client) resilient() *pester.Client {
	c.once.Do(func() {
		next := c.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		limit := c.MaxRetries
		if limit < 1 {
			limit = 1
		}
		doer := pester.NewExtendedClient(&http.Client{
			Transport: &statusTransport{next: next},
			Timeout:   c.Timeout,
		})
		doer.MaxRetries = limit
		// The wait happens in pause, which sees the request context.
		doer.Backoff = func(int) time.Duration { return 0 }
		doer.ContextLogHook = pause(limit)
		c.doer = doer
	})
	return c.doer
}

// Execute runs a request and decodes the response, which may carry an error
// list in place of the expected body. Transport failures are returned as
// *TransportError, malformed responses as *DecodingError.
func (c *Client) Execute(ctx context.Context, req Request, g Granularity) (Response, error) {
	link, err := URL(req, g)
	if err != nil {
		return Response{}, err
	}
	log.Debugf("executing request: %s", link)

	policy := &retryPolicy{fallback: c.RetryDelay, now: time.Now}
	hreq, err := http.NewRequestWithContext(context.WithValue(ctx, policyKey{}, policy), http.MethodGet, link, nil)
	if err != nil {
		return Response{}, errors.Wrap(err, "request")
	}
	hreq.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.resilient().Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, &TransportError{URL: link, Attempts: policy.attempts(), Err: err}
	}
	defer resp.Body.Close()

	// a redirect without location ends up here
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &TransportError{
			URL:      link,
			Attempts: policy.attempts() + 1,
			Err:      &StatusError{Code: resp.StatusCode, Status: resp.Status},
		}
	}
	return Decode(resp.Body)
}

// Identify returns the repository description together with the response
// date, which is the current time at the repository.
func (c *Client) Identify(ctx context.Context, req Identify) (IdentifyBody, time.Time, error) {
	resp, err := c.Execute(ctx, req, GranularitySecond)
	if err != nil {
		return IdentifyBody{}, time.Time{}, err
	}
	body, err := expect[IdentifyBody](req, resp)
	return body, resp.Date, err
}

// ListIdentifiers fetches one page of headers.
func (c *Client) ListIdentifiers(ctx context.Context, req ListIdentifiers, g Granularity) (ListIdentifiersBody, error) {
	resp, err := c.Execute(ctx, req, g)
	if err != nil {
		return ListIdentifiersBody{}, err
	}
	return expect[ListIdentifiersBody](req, resp)
}

// ListRecords fetches one page of records.
func (c *Client) ListRecords(ctx context.Context, req ListRecords, g Granularity) (ListRecordsBody, error) {
	resp, err := c.Execute(ctx, req, g)
	if err != nil {
		return ListRecordsBody{}, err
	}
	return expect[ListRecordsBody](req, resp)
}

// GetRecord fetches a single record.
func (c *Client) GetRecord(ctx context.Context, req GetRecord) (GetRecordBody, error) {
	resp, err := c.Execute(ctx, req, GranularitySecond)
	if err != nil {
		return GetRecordBody{}, err
	}
	return expect[GetRecordBody](req, resp)
}

// ListSets fetches one page of sets.
func (c *Client) ListSets(ctx context.Context, req ListSets) (ListSetsBody, error) {
	resp, err := c.Execute(ctx, req, GranularitySecond)
	if err != nil {
		return ListSetsBody{}, err
	}
	return expect[ListSetsBody](req, resp)
}

// ListMetadataFormats fetches the available formats.
func (c *Client) ListMetadataFormats(ctx context.Context, req ListMetadataFormats) (ListMetadataFormatsBody, error) {
	resp, err := c.Execute(ctx, req, GranularitySecond)
	if err != nil {
		return ListMetadataFormatsBody{}, err
	}
	return expect[ListMetadataFormatsBody](req, resp)
}

// expect unwraps the body, turning an error list into a *RequestError.
func expect[T Body](req Request, resp Response) (T, error) {
	var zero T
	if body, ok := resp.Body.(T); ok {
		return body, nil
	}
	if errs, ok := resp.Body.(ErrorsBody); ok {
		return zero, &RequestError{Request: req, Errors: errs.Errors}
	}
	return zero, decodingErrorf("unexpected body %T for %s request", resp.Body, req.Verb())
}

// statusTransport fails every response with status below 200 or from 400 on,
// so that pester retries it. Redirects pass and are followed by http.Client.
// What the retry policy needs to know is recorded on the call's policy.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if p := policyFrom(req.Context()); p != nil {
		p.observe(resp, err)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

type policyKey struct{}

func policyFrom(ctx context.Context) *retryPolicy {
	p, _ := ctx.Value(policyKey{}).(*retryPolicy)
	return p
}

// pause is called by pester after every failed attempt, with the request
// context. It waits before the next attempt, as long as there is one.
func pause(limit int) pester.ContextLogHook {
	return func(ctx context.Context, e pester.ErrEntry) {
		log.Warnf("attempt %d failed: %s: %v", e.Attempt, e.URL, e.Err)
		p := policyFrom(ctx)
		if p == nil {
			return
		}
		d := p.failed(e.Attempt)
		if e.Attempt >= limit {
			return
		}
		log.Debugf("retrying in %s", d)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	}
}

// retryPolicy holds the state of one call. Pester runs attempts on its own
// goroutine, hence the lock.
type retryPolicy struct {
	sync.Mutex
	fallback   time.Duration
	now        func() time.Time
	count      int
	lastStatus int
	retryAfter string
}

// observe keeps the status of the latest response, the last hop when
// redirected.
func (p *retryPolicy) observe(resp *http.Response, err error) {
	p.Lock()
	defer p.Unlock()
	p.lastStatus, p.retryAfter = 0, ""
	if err == nil && resp != nil {
		p.lastStatus = resp.StatusCode
		p.retryAfter = resp.Header.Get("Retry-After")
	}
}

// failed records a failed attempt and returns the delay before the next one.
func (p *retryPolicy) failed(attempt int) time.Duration {
	p.Lock()
	defer p.Unlock()
	p.count = attempt
	return retryDelay(p.lastStatus, p.retryAfter, p.now(), p.fallback)
}

func (p *retryPolicy) attempts() int {
	p.Lock()
	defer p.Unlock()
	return p.count
}

// retryDelay honors Retry-After on 503 responses, given either as
// delta-seconds or as HTTP date. Everything else waits for fallback.
func retryDelay(status int, retryAfter string, now time.Time, fallback time.Duration) time.Duration {
	retryAfter = strings.TrimSpace(retryAfter)
	if status != http.StatusServiceUnavailable || retryAfter == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return fallback
}
