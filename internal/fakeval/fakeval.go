// Package fakeval provides an in-process stand-in for a validation server.
// It checks the request signature, echoes otp and nonce, and signs its reply
// with the client key, with knobs for delays and misbehaviour so the client's
// accept and reject paths can be exercised without network access.
package fakeval

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"otp-validator/pkg/auth"
	"otp-validator/pkg/wire"
)

// Behavior controls how a fake server answers.
type Behavior struct {
	Status       string        // Status to report; empty means "OK"
	Delay        time.Duration // Wait before answering
	HTTPStatus   int           // Non-zero answers with this HTTP status and no body
	TamperOTP    bool          // Echo a different otp than the one received
	TamperNonce  bool          // Echo a different nonce than the one received
	BadSignature bool          // Send a signature that does not verify
	Malformed    bool          // Send a body that does not parse
}

// Handler is an http.Handler speaking the validation protocol.
type Handler struct {
	key []byte

	mu       sync.Mutex
	behavior Behavior

	hits atomic.Int64
}

// NewHandler creates a fake server signing with key.
func NewHandler(key []byte, behavior Behavior) *Handler {
	return &Handler{key: key, behavior: behavior}
}

// SetBehavior replaces the answering behaviour.
func (h *Handler) SetBehavior(b Behavior) {
	h.mu.Lock()
	h.behavior = b
	h.mu.Unlock()
}

// Hits returns the number of requests received.
func (h *Handler) Hits() int {
	return int(h.hits.Load())
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.hits.Add(1)

	h.mu.Lock()
	b := h.behavior
	h.mu.Unlock()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if b.HTTPStatus != 0 {
		w.WriteHeader(b.HTTPStatus)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if b.Malformed {
		w.Write([]byte("<html>gateway error</html>\r\n"))
		return
	}

	q := r.URL.Query()
	request := wire.Fields{}
	for k := range q {
		request[k] = q.Get(k)
	}

	resp := wire.Fields{
		wire.FieldTimestamp: Timestamp(time.Now()),
	}
	if otp, ok := request[wire.FieldOTP]; ok {
		resp[wire.FieldOTP] = otp
	}
	if nonce, ok := request[wire.FieldNonce]; ok {
		resp[wire.FieldNonce] = nonce
	}

	switch {
	case request[wire.FieldID] == "" || request[wire.FieldOTP] == "" || request[wire.FieldNonce] == "":
		resp[wire.FieldStatus] = "MISSING_PARAMETER"
	case request[wire.FieldSignature] != "" && !auth.VerifyFields(request, h.key):
		resp[wire.FieldStatus] = "BAD_SIGNATURE"
	case b.Status != "":
		resp[wire.FieldStatus] = b.Status
	default:
		resp[wire.FieldStatus] = "OK"
		resp[wire.FieldSyncLevel] = "100"
	}

	resp[wire.FieldSignature] = auth.SignFields(resp, h.key)

	// Tampering happens after signing, like a man in the middle would.
	if b.TamperOTP {
		resp[wire.FieldOTP] = "cccccccccccc" + "dddddddddddddddddddddddddddddddd"
	}
	if b.TamperNonce {
		resp[wire.FieldNonce] = "ZZZZZZZZZZZZZZZZZZZZ"
	}
	if b.BadSignature {
		resp[wire.FieldSignature] = auth.SignFields(resp, []byte("not-the-client-key"))
	}

	w.Write(wire.FormatResponse(resp))
}

// Timestamp formats t the way validation servers report it: UTC with a
// trailing millisecond counter, e.g. 2019-06-06T05:14:07Z0711.
func Timestamp(t time.Time) string {
	t = t.UTC()
	return t.Format("2006-01-02T15:04:05Z") + pad4(t.Nanosecond()/int(time.Millisecond))
}

func pad4(n int) string {
	b := []byte("0000")
	for i := 3; i >= 0 && n > 0; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b)
}
