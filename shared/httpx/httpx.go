// Package httpx holds the JSON response helpers and middleware shared by
// the collector binaries.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the body of every non-2xx collector response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Details   any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code string, message string, details any) {
	body := ErrorBody{Code: code, Message: message, Details: details}
	if r != nil {
		body.RequestID = RequestIDFromContext(r.Context())
	}
	WriteJSON(w, statusCode, ErrorEnvelope{Error: body})
}

// WriteNoContent acknowledges an accepted batch. The SDK only looks at the
// status, so there is no body.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeJSON reads at most limit bytes from r into v. Unknown fields are
// allowed because SDK payloads are open-ended. Oversized bodies surface as
// *http.MaxBytesError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// WrapServeMux sends requests no pattern matches to fallback instead of the
// mux's plain-text 404.
func WrapServeMux(mux *http.ServeMux, fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, pattern := mux.Handler(r); pattern != "" {
			h.ServeHTTP(w, r)
			return
		}
		fallback.ServeHTTP(w, r)
	})
}
