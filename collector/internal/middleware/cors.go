// Package middleware holds the collector's browser-facing HTTP middleware.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORS answers preflights for the ingest endpoint. SDK requests carry no
// credentials, so a wildcard origin is fine when none are configured.
type CORS struct {
	AllowedOrigins []string
	AllowedHeaders []string
	MaxAge         time.Duration
	Skip           func(*http.Request) bool
}

func (m CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if allowed := m.allowOrigin(strings.TrimSpace(r.Header.Get("Origin"))); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.allowedHeaders(), ", "))
			if m.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(max(int(m.MaxAge.Seconds()), 0)))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m CORS) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	if len(m.AllowedOrigins) == 0 {
		return "*"
	}
	for _, allowed := range m.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "*":
			return "*"
		case allowed != "" && strings.EqualFold(allowed, origin):
			return origin
		}
	}
	return ""
}

func (m CORS) allowedHeaders() []string {
	if len(m.AllowedHeaders) > 0 {
		return m.AllowedHeaders
	}
	return []string{"Content-Type", "X-Project-Key", "X-Client-Time", "X-Request-ID"}
}
