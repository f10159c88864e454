// Package wire implements the text formats spoken with validation servers:
// the URL query carrying a signed request and the line oriented key=value
// response body.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field names defined by the validation protocol.
const (
	FieldID        = "id"
	FieldNonce     = "nonce"
	FieldOTP       = "otp"
	FieldStatus    = "status"
	FieldSignature = "h"
	FieldTimestamp = "t"
	FieldSyncLevel = "sl"
)

// ErrMalformedLine is returned when a response line has no '=' separator.
var ErrMalformedLine = errors.New("malformed response line")

// Fields is a protocol message: the query sent to a server or the response it returns.
type Fields map[string]string

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Status returns the status field and whether it was present.
func (f Fields) Status() (string, bool) {
	s, ok := f[FieldStatus]
	return s, ok
}

// ParseResponse decodes a server reply into its fields.
// Lines are CRLF separated; blank lines are skipped and everything after the
// first '=' is the value. When a key repeats, the last occurrence wins.
func ParseResponse(body []byte) (Fields, error) {
	fields := make(Fields)
	for n, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: %w", n+1, ErrMalformedLine)
		}
		fields[key] = value
	}
	return fields, nil
}

// FormatResponse serializes fields into the CRLF separated response form,
// keys in sorted order.
func FormatResponse(fields Fields) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(fields[k])
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}
