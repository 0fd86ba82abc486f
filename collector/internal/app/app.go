// Package app wires the ingest processor to whatever backends the
// configuration names. Missing backends are skipped; broken ones are
// reported as readiness problems.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tapistry/collector/internal/ingest"
	"tapistry/collector/internal/repos"
	"tapistry/collector/internal/routing"
	"tapistry/shared/cachex"
	"tapistry/shared/config"
	"tapistry/shared/dbx"
	"tapistry/shared/influxx"
	"tapistry/shared/lockx"
	"tapistry/shared/logx"
	"tapistry/shared/mqx"
)

const dedupePrefix = "tapistry:dedupe:"

type Backends struct {
	Processor  *ingest.Processor
	RoutesPath string

	producers map[string]*mqx.Producer
	pool      *pgxpool.Pool
	cache     *cachex.Client
	influx    *influxx.Client
}

// Build connects to Kafka, Redis, Postgres and InfluxDB as configured and
// returns the processor over them.
func Build(ctx context.Context, cfg config.Config, logger logx.Logger) (*Backends, []config.Problem) {
	b := &Backends{producers: map[string]*mqx.Producer{}}
	var problems []config.Problem
	pc := ingest.ProcessorConfig{Log: logger, Publishers: map[string]ingest.Publisher{}}

	resolver, path, routeProblems := loadRoutes(cfg)
	problems = append(problems, routeProblems...)
	b.RoutesPath = path
	if len(resolver.Config.Clusters) > 0 {
		pc.Router = resolver
		for name, cluster := range resolver.Config.Clusters {
			clone := cfg
			clone.KafkaBrokers = cluster.Brokers
			if strings.TrimSpace(cluster.ClientID) != "" {
				clone.KafkaClientID = cluster.ClientID
			} else if cfg.ServiceName != "" {
				clone.KafkaClientID = cfg.ServiceName + "-" + name
			}
			producer, err := mqx.NewProducer(clone)
			if err != nil {
				problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: fmt.Sprintf("cluster %s: %v", name, err)})
				continue
			}
			b.producers[name] = producer
			pc.Publishers[name] = producer
		}
	}

	if cfg.RedisAddr != "" {
		cache, err := cachex.New(cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: err.Error()})
		} else {
			b.cache = cache
			pc.Dedupe = lockx.NewWindow(cache.Client(), dedupePrefix, time.Duration(cfg.DedupeTTLSeconds)*time.Second)
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := dbx.NewPool(ctx, cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: err.Error()})
		} else {
			b.pool = pool
			repo := repos.NewEventRepo(pool)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Warn(ctx, "schema_init_failed", "events schema not applied",
					slog.String("error_code", "FAILED_PRECONDITION"), slog.String("error", err.Error()))
			}
			pc.Store = repo
		}
	}

	if cfg.InfluxURL != "" {
		client, err := influxx.New(cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "INFLUX_URL", Message: err.Error()})
		} else {
			b.influx = client
			pc.Points = client
		}
	}

	b.Processor = ingest.NewProcessor(pc)
	return b, problems
}

// loadRoutes reads the routes file when one is configured or found, and
// otherwise routes everything to KAFKA_BROKERS.
func loadRoutes(cfg config.Config) (routing.Resolver, string, []config.Problem) {
	path := strings.TrimSpace(cfg.RoutesPath)
	if path == "" {
		if p, err := routing.DefaultRoutesPath(cfg.Env); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		resolver, err := routing.Load(path)
		if err != nil {
			return routing.Resolver{}, path, []config.Problem{{Field: "ROUTES_PATH", Message: err.Error()}}
		}
		return resolver, path, nil
	}
	if len(cfg.KafkaBrokers) == 0 {
		return routing.Resolver{}, "", nil
	}
	single := routing.Single("default", cfg.KafkaBrokers, cfg.KafkaClientID)
	single.Config.DefaultTopic = cfg.KafkaTopic
	return single, "", nil
}

// Check pings every connected backend.
func (b *Backends) Check(ctx context.Context) []config.Problem {
	var problems []config.Problem
	if b.pool != nil {
		if err := dbx.Ping(ctx, b.pool); err != nil {
			problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: err.Error()})
		}
	}
	if b.cache != nil {
		if err := b.cache.Ping(ctx); err != nil {
			problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: err.Error()})
		}
	}
	if b.influx != nil {
		if err := b.influx.Ping(ctx); err != nil {
			problems = append(problems, config.Problem{Field: "INFLUX_URL", Message: err.Error()})
		}
	}
	return problems
}

func (b *Backends) Close() {
	for _, p := range b.producers {
		_ = p.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.cache != nil {
		_ = b.cache.Close()
	}
	if b.influx != nil {
		b.influx.Close()
	}
}
