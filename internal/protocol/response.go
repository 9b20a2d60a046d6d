package protocol

import (
	"encoding/json"
	"strings"

	"github.com/rendis/formula/pkg/schema"
)

// Response is the outcome of one request. Value holds the encoded result
// when Err is nil.
type Response struct {
	RequestID string
	Value     []byte
	Err       error
}

// OK reports whether the request succeeded.
func (r Response) OK() bool { return r.Err == nil }

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Render produces the response line without its terminating newline.
//
// In legacy mode a success is the bare JSON value and a failure is the bare
// error message. Envelope mode wraps both in {"ok": ...} so callers can tell
// them apart without inspecting content.
func (r Response) Render(envelope bool) []byte {
	if !envelope {
		if r.Err != nil {
			return []byte(lineBreaks.Replace(schema.MessageOf(r.Err)))
		}
		return r.Value
	}
	if r.Err != nil {
		body, err := json.Marshal(errorEnvelope{Error: wireError{
			Code:    schema.CodeOf(r.Err),
			Message: schema.MessageOf(r.Err),
		}})
		if err != nil {
			return []byte(`{"ok":false,"error":{"code":"` + schema.ErrCodeSerialization + `","message":"unrenderable error"}}`)
		}
		return body
	}
	// The value is spliced in raw: it may hold NaN or Infinity, which
	// encoding/json refuses.
	out := make([]byte, 0, len(r.Value)+20)
	out = append(out, `{"ok":true,"value":`...)
	out = append(out, r.Value...)
	return append(out, '}')
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error wireError `json:"error"`
}
