package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/catalogsync/catalogsync/internal/metrics"
)

// Recovery converts a handler panic into a critical INTERNAL_ERROR envelope
// carrying the stack trace.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			metrics.RecordPanic()

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(GetRequestID(r.Context()))
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"stack_trace": string(debug.Stack()),
			})
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writePanicResponse(w, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}

type panicResponse struct {
	Error struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"request_id,omitempty"`
	} `json:"error"`
}

// writePanicResponse mirrors the internal/errors body shape; that package
// imports this one, so it cannot be used here.
func writePanicResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope) {
	var body panicResponse
	body.Error.Code = envelope.Code
	body.Error.Message = envelope.Message
	body.Error.Details = envelope.Context
	body.Error.RequestID = envelope.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
}
