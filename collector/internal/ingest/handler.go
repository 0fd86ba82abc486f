package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tapistry/shared/authx"
	"tapistry/shared/events"
	"tapistry/shared/httpx"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
	"tapistry/shared/projectx"
)

const (
	HeaderProjectKey = "X-Project-Key"
	HeaderClientTime = "X-Client-Time"
)

// Sink takes a validated batch. Errors wrapping ErrUnavailable become 503.
type Sink interface {
	Accept(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch) error
}

type KeyResolver interface {
	Resolve(key string) (projectx.Project, error)
}

type HandlerConfig struct {
	Log       logx.Logger
	Keys      KeyResolver
	Sink      Sink
	MaxBody   int64
	MaxEvents int
	Now       func() time.Time
}

type Handler struct {
	log       logx.Logger
	keys      KeyResolver
	sink      Sink
	maxBody   int64
	maxEvents int
	now       func() time.Time
}

func NewHandler(c HandlerConfig) *Handler {
	h := &Handler{
		log:       c.Log,
		keys:      c.Keys,
		sink:      c.Sink,
		maxBody:   c.MaxBody,
		maxEvents: c.MaxEvents,
		now:       c.Now,
	}
	if h.maxBody <= 0 {
		h.maxBody = 2 << 20
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.now()
	project, err := h.keys.Resolve(r.Header.Get(HeaderProjectKey))
	if err != nil {
		metricsx.IncRejected("auth")
		code := "UNAUTHENTICATED"
		if errors.Is(err, authx.ErrNoSecret) {
			code = "FAILED_PRECONDITION"
		}
		httpx.WriteError(w, r, http.StatusUnauthorized, code, err.Error(), nil)
		return
	}
	ctx := projectx.WithProject(r.Context(), project)
	r = r.WithContext(ctx)

	var batch events.Batch
	if err := httpx.DecodeJSON(w, r, h.maxBody, &batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metricsx.IncRejected("too_large")
			httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "request body too large", nil)
			return
		}
		metricsx.IncRejected("invalid")
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body", nil)
		return
	}
	if err := ValidateBatch(batch, h.maxEvents); err != nil {
		metricsx.IncRejected("invalid")
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if skew, ok := clientSkew(r, receivedAt); ok {
		h.log.Debug(ctx, "client_clock", "client clock offset",
			slog.String("project_id", project.ID), slog.Int64("skew_ms", skew.Milliseconds()))
	}

	if err := h.sink.Accept(ctx, project.ID, receivedAt, batch); err != nil {
		if errors.Is(err, ErrUnavailable) {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "ingest temporarily unavailable", nil)
			return
		}
		h.log.Error(ctx, "ingest_error", "batch rejected",
			slog.String("error_code", "INTERNAL_ERROR"), slog.String("error", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to ingest batch", nil)
		return
	}
	httpx.WriteNoContent(w)
}

// clientSkew is how far the sender's clock is ahead of ours.
func clientSkew(r *http.Request, receivedAt time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(r.Header.Get(HeaderClientTime))
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.UnixMilli(ms).Sub(receivedAt), true
}
