package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/physiohub/progress-engine/internal/interface/http/handlers"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError carries a stable machine code and, for validation failures,
// the offending fields.
type APIError struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []handlers.FieldError `json:"fields,omitempty"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeResponse(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: handlers.RequestIDFrom(r.Context()),
	})
}

// writeJSONError has the handlers.Reject signature so middleware can answer
// in the same envelope.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, status, &APIError{Code: code, Message: message})
}

func writeAPIError(w http.ResponseWriter, status int, apiErr *APIError) {
	writeResponse(w, status, JSONResponse{
		Error: apiErr,
		Meta:  &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

func writeResponse(w http.ResponseWriter, status int, body JSONResponse) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
