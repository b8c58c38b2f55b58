package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"
)

// Response is the uniform result of a request.
//
// When the body decodes as a JSON object, Body holds it with the status code
// added under StatusCodeKey and Decoded is true. Otherwise Body is empty, Raw
// holds the undecoded bytes and Err wraps ErrDecode. Callers must treat any
// response for which OK is false as a failure.
type Response struct {
	// StatusCode is the HTTP status, or 0 when no request was sent.
	StatusCode int

	// Body is the decoded JSON object augmented with StatusCodeKey.
	Body map[string]any

	// Raw is the response body as received.
	Raw []byte

	// Decoded reports whether Raw parsed as a JSON object.
	Decoded bool

	// Err classifies why the response is unusable, if it is.
	Err error
}

// OK reports whether the request reached the server, decoded and returned 200.
func (r Response) OK() bool {
	return r.Err == nil && r.Decoded && r.StatusCode == http.StatusOK
}

// Sent reports whether a request was actually issued.
func (r Response) Sent() bool {
	return r.StatusCode != 0
}

// JSON returns a gjson view of the raw body for strict field extraction.
func (r Response) JSON() gjson.Result {
	if !r.Decoded {
		return gjson.Result{}
	}
	return gjson.ParseBytes(r.Raw)
}

// Get extracts a gjson path from the raw body.
func (r Response) Get(path string) gjson.Result {
	if !r.Decoded {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Raw, path)
}

// Has reports whether the decoded body carries key at the top level.
func (r Response) Has(key string) bool {
	_, ok := r.Body[key]
	return ok
}

// IsUnknownWorkspace reports whether err indicates a workspace without a token.
func IsUnknownWorkspace(err error) bool {
	return errors.Is(err, ErrUnknownWorkspace)
}

// IsEmptyPayload reports whether err indicates a write without payload.
func IsEmptyPayload(err error) bool {
	return errors.Is(err, ErrEmptyPayload)
}

// IsDecode reports whether err indicates an undecodable body.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}

// IsTransport reports whether err indicates a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// NewResponse builds a Response from a status code and raw body the same way
// the client does for live requests.
func NewResponse(status int, raw []byte) Response {
	return decode(status, raw)
}

func emptyResponse(err error) Response {
	return Response{Body: map[string]any{}, Err: err}
}

// decode builds a Response from a status code and body.
//
// A JSON object body is decoded and annotated with the status code. Any
// other body, including an empty body, is surfaced raw with ErrDecode.
func decode(status int, raw []byte) Response {
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return Response{StatusCode: status, Body: map[string]any{}, Raw: raw, Err: ErrDecode}
	}
	body[StatusCodeKey] = status
	return Response{StatusCode: status, Body: body, Raw: raw, Decoded: true}
}
