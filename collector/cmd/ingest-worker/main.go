package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"tapistry/collector/internal/app"
	"tapistry/collector/internal/ingest"
	"tapistry/shared/config"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
	"tapistry/shared/observability"
)

func main() {
	_ = godotenv.Load()
	cfg, problems := config.Load("ingest-worker", 8081)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg, version), logger); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	backends, problems := app.Build(context.Background(), cfg, logger)
	defer backends.Close()
	if len(problems) > 0 {
		logger.Error(context.Background(), "backend_init_failed", "backend init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn(ctx, "ingest_task_failed", "ingest task failed",
				slog.String("error_code", "UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("task", task.Type()),
				slog.Int("retried", retried),
				slog.Int("max_retry", maxRetry),
			)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(ingest.TypeIngestBatch, func(ctx context.Context, t *asynq.Task) error {
		ctx, span := otel.Tracer("asynq").Start(ctx, ingest.TypeIngestBatch)
		span.SetAttributes(attribute.String("queue", cfg.AsynqQueue))
		defer span.End()
		return backends.Processor.HandleBatchTask(ctx, t)
	})

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	stopDepth := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopDepth:
				return
			case <-ticker.C:
				info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
				if err != nil {
					continue
				}
				metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
			}
		}
	}()

	metricsServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           metricsx.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(context.Background(), "metrics_server_failed", "metrics server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}()

	logger.Info(context.Background(), "worker_start", "ingest worker started",
		slog.String("queue", cfg.AsynqQueue),
		slog.Int("concurrency", cfg.AsynqConcurrency),
		slog.String("routes_path", backends.RoutesPath),
	)
	if err := server.Start(mux); err != nil {
		logger.Error(context.Background(), "worker_failed", "worker failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))

	close(stopDepth)
	server.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "ingest worker stopped")
}
