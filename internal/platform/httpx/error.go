// Package httpx holds the JSON response helpers shared by every HTTP handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
)

// Error is an API failure: a stable machine code, a human message and the HTTP status.
// It satisfies error so handlers can return it from helpers.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: singleLine(code, maxCodeLen), Message: singleLine(message, maxMessageLen), Status: status}
}

// WithDetails returns a copy of e carrying details, for example the product that ran out of
// stock.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// envelope is the body of every non-2xx response.
type envelope struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	TraceID   string         `json:"traceId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// WriteError writes e as the error envelope, stamped with the request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	WriteJSON(w, e.Status, envelope{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: singleLine(middleware.GetReqID(ctx), maxCodeLen),
		TraceID:   singleLine(requestctx.TraceID(ctx), 64),
		Details:   e.Details,
	})
}

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// singleLine keeps header-like values to one line of at most limit bytes so they cannot
// forge log lines once echoed.
func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
