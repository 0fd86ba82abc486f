// Command tapistry-sim drives the SDK like a host page would: it navigates,
// clicks and scrolls, then hides the page, so the pipeline can be watched
// against a running collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tapistry/sdk"
	"tapistry/sdk/clock"
	"tapistry/sdk/collectors"
	"tapistry/sdk/identity"
	"tapistry/sdk/page"
	"tapistry/shared/cachex"
	"tapistry/shared/config"
	"tapistry/shared/events"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
	"tapistry/shared/observability"
)

func main() {
	_ = godotenv.Load()

	var (
		startURL = flag.String("url", "https://shop.example.com/?utm_source=sim", "initial page URL")
		pages    = flag.Int("pages", 3, "number of pages to visit")
		clicks   = flag.Int("clicks", 5, "clicks per page")
		pause    = flag.Duration("pause", 300*time.Millisecond, "delay between interactions")
		metrics  = flag.String("metrics-addr", strings.TrimSpace(os.Getenv("TAPISTRY_SIM_METRICS_ADDR")), "serve /metrics on this address")
	)
	flag.Parse()

	overrides, problems := config.LoadSDKOverrides()
	svc, svcProblems := config.Load("tapistry-sim", 8099)
	logger := logx.New("tapistry-sim", svc.Env, sdk.Version, svc.LogLevel)
	for _, p := range append(problems, svcProblems...) {
		logger.Warn(context.Background(), "config_problem", p.Message, slog.String("field", p.Field))
	}
	metricsx.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if svc.OtelEnabled {
		shutdown, err := observability.InitTracer(ctx, observability.TracerConfigFrom(svc, sdk.Version), logger)
		if err != nil {
			logger.Error(ctx, "otel_init_failed", "otel init failed",
				slog.String("error_code", "FAILED_PRECONDITION"), slog.String("error", err.Error()))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	if *metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metricsx.Handler())
		srv := &http.Server{Addr: *metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "metrics_server_failed", "metrics server failed",
					slog.String("error_code", "INTERNAL_ERROR"), slog.String("error", err.Error()))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	store, closeStore := openStore(ctx, svc, logger)
	defer closeStore()

	host := page.New(page.Info{
		URL:      *startURL,
		Title:    "Simulated shop",
		Viewport: events.Viewport{W: 1280, H: 800},
		Screen:   &events.Screen{W: 1920, H: 1080},
		TZ:       "UTC",
		Lang:     "en-US",
	})
	host.SetReferrer("https://search.example.com/?q=tapistry")
	client := sdk.New(host, overrides, sdk.WithLogger(logger), sdk.WithStore(store))
	client.Track("sim_started", map[string]any{"pages": *pages})

	if err := client.Initialize(ctx); err != nil {
		logger.Warn(ctx, "sdk_not_started", "sdk did not start", slog.String("error", err.Error()))
		return
	}

	run(ctx, client, host, *pages, *clicks, *pause)

	client.HandleVisibility(true)
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		logger.Warn(closeCtx, "sdk_close_failed", "beacon drain incomplete", slog.String("error", err.Error()))
	}
	st := client.Stats()
	logger.Info(context.Background(), "sim_done", "simulation finished",
		slog.Int("admitted", st.Admitted), slog.Int("abandoned", st.Abandoned), slog.Int("queued", st.Queued))
}

func run(ctx context.Context, client *sdk.Client, host *page.State, pages, clicks int, pause time.Duration) {
	base := strings.TrimRight(strings.SplitN(host.URL(), "?", 2)[0], "/")
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pause):
			return true
		}
	}
	for p := 0; p < pages; p++ {
		if p == pages/2 {
			host.Resize(events.Viewport{W: 390, H: 844})
		}
		if p > 0 {
			host.SetTitle(fmt.Sprintf("Page %d", p))
			host.Navigate(fmt.Sprintf("%s/products/%d", base, p))
		}
		for c := 0; c < clicks; c++ {
			if !wait() {
				return
			}
			client.ObserveClick(collectors.ClickObservation{
				Target: collectors.ClickTarget{
					Key:  fmt.Sprintf("p%d-c%d", p, c),
					Path: []collectors.Node{{Tag: "button", TestID: fmt.Sprintf("item-%d", c)}, {Tag: "main", ID: "content"}},
					Text: "Add to cart",
				},
				ClientX: float64(100 + 150*c),
				ClientY: 400,
			})
			client.ObserveScroll(collectors.ScrollObservation{
				ScrollTop:      float64(c+1) * 600,
				PageHeight:     4000,
				ViewportHeight: float64(host.Viewport().H),
			})
		}
		client.Track("page_done", map[string]any{"index": p})
	}
}

// openStore prefers a local SQLite file, then Redis, then memory. The
// chosen store is chained in front of memory so a failing backend still
// keeps identifiers for the run.
func openStore(ctx context.Context, svc config.Config, logger logx.Logger) (identity.Store, func()) {
	mem := identity.NewMemoryStore(clock.Real())
	if path := strings.TrimSpace(os.Getenv("TAPISTRY_IDENTITY_PATH")); path != "" {
		s, err := identity.OpenSQLite(ctx, path, clock.Real())
		if err == nil {
			return identity.Chain{s, mem}, func() { _ = s.Close() }
		}
		logger.Warn(ctx, "identity_store_unavailable", "sqlite identity store unavailable",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	if svc.RedisAddr != "" {
		cache, err := cachex.NewWithOptions(cachex.Options{
			Addr:     svc.RedisAddr,
			Password: svc.RedisPassword,
			DB:       svc.RedisDB,
			Prefix:   "tapistry:sim:",
		})
		if err == nil {
			return identity.Chain{identity.NewRedisStore(cache), mem}, func() { _ = cache.Close() }
		}
		logger.Warn(ctx, "identity_store_unavailable", "redis identity store unavailable",
			slog.String("error", err.Error()))
	}
	return mem, func() {}
}
