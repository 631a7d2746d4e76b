package listener

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sunneed/sunneed/internal/pip"
)

// ErrMalformedRequest is returned for a request line that does not parse.
var ErrMalformedRequest = errors.New("listener: malformed request")

// Encoding selects the response serialisation.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Response statuses.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// queryPosition is the only query the protocol knows.
const queryPosition = "position"

// Request is a parsed request line.
type Request struct {
	Query    string
	Encoding Encoding
}

// ParseRequest parses one request line. Words are case-insensitive and may
// appear in either order.
func ParseRequest(line string) (Request, error) {
	req := Request{Query: queryPosition, Encoding: EncodingJSON}
	seenQuery, seenEncoding := false, false

	for _, word := range strings.Fields(strings.ToLower(line)) {
		switch word {
		case queryPosition:
			if seenQuery {
				return req, fmt.Errorf("%w: repeated %q", ErrMalformedRequest, word)
			}
			seenQuery = true
		case string(EncodingJSON), string(EncodingMsgpack):
			if seenEncoding {
				return req, fmt.Errorf("%w: more than one encoding", ErrMalformedRequest)
			}
			seenEncoding = true
			req.Encoding = Encoding(word)
		default:
			return req, fmt.Errorf("%w: unknown word %q", ErrMalformedRequest, word)
		}
	}
	return req, nil
}

// String renders the request as a line without the terminator.
func (r Request) String() string {
	return r.Query + " " + string(r.Encoding)
}

// Response is what the server writes back.
type Response struct {
	Status     string        `json:"status" msgpack:"status"`
	Provider   *pip.Snapshot `json:"provider,omitempty" msgpack:"provider,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty" msgpack:"resolved_at,omitempty"`
	Error      string        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// NewResponse builds the answer for snap.
func NewResponse(snap *pip.Snapshot) Response {
	if snap == nil || !snap.Available {
		resp := Response{Status: StatusUnavailable}
		if snap != nil && !snap.ResolvedAt.IsZero() {
			at := snap.ResolvedAt
			resp.ResolvedAt = &at
		}
		return resp
	}
	return Response{Status: StatusOK, Provider: snap}
}

// errorResponse reports err to the client.
func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}
