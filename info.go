package oai

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Info summarizes a repository.
type Info struct {
	Identify *IdentifyBody    `json:"id,omitempty"`
	Sets     []Set            `json:"sets,omitempty"`
	Formats  []MetadataFormat `json:"formats,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Elapsed  float64          `json:"elapsed"`
}

// RepositoryInfo returns information about a repository. The three lists are
// requested side by side; failures are collected in Errors, a repository
// without sets just has none.
func RepositoryInfo(ctx context.Context, c *Client, endpoint string) (Info, error) {
	start := time.Now()
	var info Info

	type message struct {
		key   string
		value interface{}
		err   error
	}

	// room for every sender, an early return leaves none blocked
	ch := make(chan message, 3)

	go func() {
		body, _, err := c.Identify(ctx, Identify{Endpoint: endpoint})
		ch <- message{key: "id", value: body, err: err}
	}()

	go func() {
		sets, err := allSets(ctx, c, endpoint)
		ch <- message{key: "sets", value: sets, err: err}
	}()

	go func() {
		body, err := c.ListMetadataFormats(ctx, ListMetadataFormats{Endpoint: endpoint})
		ch <- message{key: "formats", value: body.Formats, err: err}
	}()

	for received := 0; received < 3; received++ {
		msg := <-ch
		if msg.err != nil {
			var de *DecodingError
			if errors.As(msg.err, &de) {
				return info, msg.err
			}
			info.Errors = append(info.Errors, msg.key+": "+msg.err.Error())
			continue
		}
		switch v := msg.value.(type) {
		case IdentifyBody:
			info.Identify = &v
		case []Set:
			info.Sets = v
		case []MetadataFormat:
			info.Formats = v
		}
	}
	if err := ctx.Err(); err != nil {
		return info, err
	}
	info.Elapsed = time.Since(start).Seconds()
	return info, nil
}

// allSets follows resumption tokens until the set list is exhausted.
func allSets(ctx context.Context, c *Client, endpoint string) ([]Set, error) {
	var sets []Set
	req := ListSets{Endpoint: endpoint}
	for {
		body, err := c.ListSets(ctx, req)
		if err != nil {
			var re *RequestError
			if errors.As(err, &re) && len(re.Errors) == 1 && re.Errors[0].Code == NoSetHierarchy {
				return nil, nil
			}
			return sets, err
		}
		sets = append(sets, body.Sets...)
		if body.Token == nil {
			return sets, nil
		}
		req.ResumptionToken = body.Token.Value
	}
}
