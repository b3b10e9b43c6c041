package oai

import (
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

// Version
const Version = "0.2.0"

var log = logging.Logger("oai")

var (
	ErrNoEndpoint                = errors.New("request: an endpoint is required")
	ErrBadVerb                   = errors.New("bad verb")
	ErrDateWithSecondGranularity = errors.New("second granularity does not support date boundaries")
	ErrBadTimeBoundary           = errors.New("bad time boundary")

	// UserAgent to use for requests
	UserAgent = fmt.Sprintf("basic-oai-harvester/%s", Version)
	// DefaultPrefix must be supported by every repository (3.4).
	DefaultPrefix = "oai_dc"
	// DefaultTimeout applies to every single HTTP attempt.
	DefaultTimeout = time.Minute
	// DefaultMaxRetries is the number of attempts made for one call.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is used between attempts, unless the server asks
	// for something else.
	DefaultRetryDelay = time.Second
)

// Verb is the name of an OAI-PMH operation.
type Verb string

const (
	VerbIdentify            Verb = "Identify"
	VerbGetRecord           Verb = "GetRecord"
	VerbListIdentifiers     Verb = "ListIdentifiers"
	VerbListMetadataFormats Verb = "ListMetadataFormats"
	VerbListRecords         Verb = "ListRecords"
	VerbListSets            Verb = "ListSets"
)

// Verbs (4. Protocol Requests and Responses)
var Verbs = map[Verb]bool{
	VerbIdentify:            true,
	VerbGetRecord:           true,
	VerbListIdentifiers:     true,
	VerbListMetadataFormats: true,
	VerbListRecords:         true,
	VerbListSets:            true,
}

// Granularity is the finest datestamp precision a repository supports. The
// values are the literal strings found in Identify responses.
type Granularity string

const (
	GranularityDay    Granularity = "YYYY-MM-DD"
	GranularitySecond Granularity = "YYYY-MM-DDThh:mm:ssZ"
)

// ParseGranularity fails on anything the protocol does not define.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.TrimSpace(s)); g {
	case GranularityDay, GranularitySecond:
		return g, nil
	}
	return "", decodingErrorf("unknown granularity value %q", s)
}

// DeletedRecord is the deleted record policy of a repository.
type DeletedRecord string

const (
	DeletedRecordNo         DeletedRecord = "no"
	DeletedRecordPersistent DeletedRecord = "persistent"
	DeletedRecordTransient  DeletedRecord = "transient"
)

func parseDeletedRecord(s string) (DeletedRecord, error) {
	switch d := DeletedRecord(strings.TrimSpace(s)); d {
	case DeletedRecordNo, DeletedRecordPersistent, DeletedRecordTransient:
		return d, nil
	}
	return "", decodingErrorf("unknown deleted record value %q", s)
}

// HeaderStatus is only ever set for deleted records.
type HeaderStatus string

const StatusDeleted HeaderStatus = "deleted"

func parseHeaderStatus(s string) (HeaderStatus, error) {
	switch st := HeaderStatus(strings.TrimSpace(s)); st {
	case "", StatusDeleted:
		return st, nil
	}
	return "", decodingErrorf("unknown status value %q", s)
}

// ErrorCode is one of the error conditions of section 3.6.
type ErrorCode string

const (
	BadArgument             ErrorCode = "badArgument"
	BadResumptionToken      ErrorCode = "badResumptionToken"
	BadVerb                 ErrorCode = "badVerb"
	CannotDisseminateFormat ErrorCode = "cannotDisseminateFormat"
	IDDoesNotExist          ErrorCode = "idDoesNotExist"
	NoRecordsMatch          ErrorCode = "noRecordsMatch"
	NoMetadataFormats       ErrorCode = "noMetadataFormats"
	NoSetHierarchy          ErrorCode = "noSetHierarchy"
)

// ParseErrorCode fails on codes outside of the protocol.
func ParseErrorCode(s string) (ErrorCode, error) {
	switch c := ErrorCode(strings.TrimSpace(s)); c {
	case BadArgument, BadResumptionToken, BadVerb, CannotDisseminateFormat,
		IDDoesNotExist, NoRecordsMatch, NoMetadataFormats, NoSetHierarchy:
		return c, nil
	}
	return "", decodingErrorf("unknown error code %q", s)
}

// OAIError wraps OAI error codes and messages.
type OAIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// Error to satisfy interface.
func (e OAIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RequestError is returned by the typed client methods, when the repository
// answered with a list of errors instead of the expected body.
type RequestError struct {
	Request Request
	Errors  []OAIError
}

func (e *RequestError) Error() string {
	var parts []string
	for _, oe := range e.Errors {
		parts = append(parts, oe.Error())
	}
	return fmt.Sprintf("%s request failed: %s", e.Request.Verb(), strings.Join(parts, "; "))
}

// NoRecordsMatch is true, if every reported error is noRecordsMatch. A mix
// with any other code is a real failure.
func (e *RequestError) NoRecordsMatch() bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, oe := range e.Errors {
		if oe.Code != NoRecordsMatch {
			return false
		}
	}
	return true
}

// StatusError is a non-2xx HTTP response to a single attempt.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
}

// TransportError means no usable HTTP response could be obtained, after all
// attempts were made.
type TransportError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodingError signals a response that does not fit the protocol, e.g. an
// unknown enumeration value. It is never retried.
type DecodingError struct {
	Msg string
	Err error
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding: %s: %v", e.Msg, e.Err)
	}
	return "decoding: " + e.Msg
}

func (e *DecodingError) Unwrap() error { return e.Err }

func decodingErrorf(format string, args ...interface{}) error {
	return &DecodingError{Msg: fmt.Sprintf(format, args...)}
}
