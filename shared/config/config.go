package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Config is the service configuration shared by the collector binaries.
type Config struct {
	Env               string
	ServiceName       string
	HTTPPort          int
	LogLevel          string
	ConfigPath        string
	RequestTimeoutMS  int
	RequestTimeout    time.Duration
	IngestPath        string
	MaxBodyBytes      int
	MaxEventsPerBatch int
	ProjectKeys       []string
	ProjectKeySecret  string
	AllowKeyless      bool
	CORSOrigins       []string
	RateLimitRPS      float64
	RateLimitBurst    int
	DedupeTTLSeconds  int
	DatabaseURL       string
	DBMaxConns        int
	DBMinConns        int
	DBConnMaxIdleSec  int
	DBConnMaxLifeSec  int
	KafkaBrokers      []string
	KafkaClientID     string
	KafkaGroupID      string
	KafkaRetryMax     int
	KafkaWriteMS      int
	KafkaTopic        string
	RoutesPath        string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	AsynqRedisAddr    string
	AsynqRedisPass    string
	AsynqRedisDB      int
	AsynqQueue        string
	AsynqConcurrency  int
	AsynqEnabled      bool
	AsynqMaxRetry     int
	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxTimeoutMS   int
	OtelEnabled       bool
	OtelEndpoint      string
	OtelInsecure      bool
	OtelSampleRatio   float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:               envRaw,
		ServiceName:       serviceNameDefault,
		HTTPPort:          httpPortDefault,
		LogLevel:          "info",
		ConfigPath:        strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:  30000,
		IngestPath:        "/i",
		MaxBodyBytes:      2 << 20,
		MaxEventsPerBatch: 500,
		AllowKeyless:      true,
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		DedupeTTLSeconds:  600,
		DBMaxConns:        10,
		DBMinConns:        1,
		DBConnMaxIdleSec:  300,
		DBConnMaxLifeSec:  1800,
		KafkaRetryMax:     5,
		KafkaWriteMS:      5000,
		KafkaTopic:        "tapistry.events",
		AsynqQueue:        "ingest",
		AsynqConcurrency:  10,
		AsynqMaxRetry:     5,
		InfluxTimeoutMS:   5000,
		OtelInsecure:      true,
		OtelSampleRatio:   1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, httpPortDefault, &problems)

	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		*problems = append(*problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if !strings.HasPrefix(cfg.IngestPath, "/") {
		*problems = append(*problems, Problem{Field: "INGEST_PATH", Message: "INGEST_PATH must start with /"})
		cfg.IngestPath = "/i"
	}
	if cfg.MaxBodyBytes <= 0 {
		*problems = append(*problems, Problem{Field: "MAX_BODY_BYTES", Message: "MAX_BODY_BYTES must be > 0"})
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.MaxEventsPerBatch <= 0 {
		*problems = append(*problems, Problem{Field: "MAX_EVENTS_PER_BATCH", Message: "MAX_EVENTS_PER_BATCH must be > 0"})
		cfg.MaxEventsPerBatch = 500
	}
	if cfg.RateLimitRPS < 0 {
		*problems = append(*problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be >= 0"})
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst <= 0 {
		*problems = append(*problems, Problem{Field: "RATE_LIMIT_BURST", Message: "RATE_LIMIT_BURST must be > 0"})
		cfg.RateLimitBurst = 100
	}
	if cfg.DedupeTTLSeconds < 0 {
		*problems = append(*problems, Problem{Field: "DEDUPE_TTL_SECONDS", Message: "DEDUPE_TTL_SECONDS must be >= 0"})
		cfg.DedupeTTLSeconds = 600
	}
	if cfg.DBMaxConns <= 0 {
		*problems = append(*problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		*problems = append(*problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		*problems = append(*problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.KafkaRetryMax < 0 {
		*problems = append(*problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		*problems = append(*problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if strings.TrimSpace(cfg.KafkaTopic) == "" {
		*problems = append(*problems, Problem{Field: "KAFKA_TOPIC", Message: "KAFKA_TOPIC must not be empty"})
		cfg.KafkaTopic = "tapistry.events"
	}
	if cfg.RedisDB < 0 {
		*problems = append(*problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.AsynqRedisDB < 0 {
		*problems = append(*problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		*problems = append(*problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.AsynqMaxRetry < 0 {
		*problems = append(*problems, Problem{Field: "ASYNQ_MAX_RETRY", Message: "ASYNQ_MAX_RETRY must be >= 0"})
		cfg.AsynqMaxRetry = 5
	}
	if cfg.InfluxTimeoutMS <= 0 {
		*problems = append(*problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

// field binds one configuration key to a setter. Values come either from
// the JSON config file (any JSON type) or from the environment (strings).
type field struct {
	key  string
	kind string
	set  func(cfg *Config, v any) bool
}

var fields = []field{
	strField("SERVICE_NAME", func(c *Config, s string) {
		if s != "" {
			c.ServiceName = s
		}
	}),
	intField("HTTP_PORT", func(c *Config, n int) { c.HTTPPort = n }),
	strField("LOG_LEVEL", func(c *Config, s string) {
		if s != "" {
			c.LogLevel = s
		}
	}),
	intField("REQUEST_TIMEOUT_MS", func(c *Config, n int) { c.RequestTimeoutMS = n }),
	strField("INGEST_PATH", func(c *Config, s string) { c.IngestPath = s }),
	intField("MAX_BODY_BYTES", func(c *Config, n int) { c.MaxBodyBytes = n }),
	intField("MAX_EVENTS_PER_BATCH", func(c *Config, n int) { c.MaxEventsPerBatch = n }),
	listField("PROJECT_KEYS", func(c *Config, l []string) { c.ProjectKeys = l }),
	rawStrField("PROJECT_KEY_SECRET", func(c *Config, s string) { c.ProjectKeySecret = s }),
	boolField("ALLOW_KEYLESS", func(c *Config, b bool) { c.AllowKeyless = b }),
	listField("CORS_ALLOWED_ORIGINS", func(c *Config, l []string) { c.CORSOrigins = l }),
	floatField("RATE_LIMIT_RPS", func(c *Config, f float64) { c.RateLimitRPS = f }),
	intField("RATE_LIMIT_BURST", func(c *Config, n int) { c.RateLimitBurst = n }),
	intField("DEDUPE_TTL_SECONDS", func(c *Config, n int) { c.DedupeTTLSeconds = n }),
	strField("DATABASE_URL", func(c *Config, s string) { c.DatabaseURL = s }),
	intField("DB_MAX_CONNS", func(c *Config, n int) { c.DBMaxConns = n }),
	intField("DB_MIN_CONNS", func(c *Config, n int) { c.DBMinConns = n }),
	intField("DB_CONN_MAX_IDLE_SECONDS", func(c *Config, n int) { c.DBConnMaxIdleSec = n }),
	intField("DB_CONN_MAX_LIFETIME_SECONDS", func(c *Config, n int) { c.DBConnMaxLifeSec = n }),
	listField("KAFKA_BROKERS", func(c *Config, l []string) { c.KafkaBrokers = l }),
	strField("KAFKA_CLIENT_ID", func(c *Config, s string) { c.KafkaClientID = s }),
	strField("KAFKA_CONSUMER_GROUP", func(c *Config, s string) { c.KafkaGroupID = s }),
	intField("KAFKA_RETRY_MAX", func(c *Config, n int) { c.KafkaRetryMax = n }),
	intField("KAFKA_WRITE_TIMEOUT_MS", func(c *Config, n int) { c.KafkaWriteMS = n }),
	strField("KAFKA_TOPIC", func(c *Config, s string) { c.KafkaTopic = s }),
	strField("ROUTES_PATH", func(c *Config, s string) { c.RoutesPath = s }),
	strField("REDIS_ADDR", func(c *Config, s string) { c.RedisAddr = s }),
	rawStrField("REDIS_PASSWORD", func(c *Config, s string) { c.RedisPassword = s }),
	intField("REDIS_DB", func(c *Config, n int) { c.RedisDB = n }),
	strField("ASYNQ_REDIS_ADDR", func(c *Config, s string) { c.AsynqRedisAddr = s }),
	rawStrField("ASYNQ_REDIS_PASSWORD", func(c *Config, s string) { c.AsynqRedisPass = s }),
	intField("ASYNQ_REDIS_DB", func(c *Config, n int) { c.AsynqRedisDB = n }),
	strField("ASYNQ_QUEUE", func(c *Config, s string) {
		if s != "" {
			c.AsynqQueue = s
		}
	}),
	intField("ASYNQ_CONCURRENCY", func(c *Config, n int) { c.AsynqConcurrency = n }),
	boolField("ASYNQ_ENABLED", func(c *Config, b bool) { c.AsynqEnabled = b }),
	intField("ASYNQ_MAX_RETRY", func(c *Config, n int) { c.AsynqMaxRetry = n }),
	strField("INFLUX_URL", func(c *Config, s string) { c.InfluxURL = s }),
	rawStrField("INFLUX_TOKEN", func(c *Config, s string) { c.InfluxToken = s }),
	strField("INFLUX_ORG", func(c *Config, s string) { c.InfluxOrg = s }),
	strField("INFLUX_BUCKET", func(c *Config, s string) { c.InfluxBucket = s }),
	intField("INFLUX_TIMEOUT_MS", func(c *Config, n int) { c.InfluxTimeoutMS = n }),
	boolField("OTEL_ENABLED", func(c *Config, b bool) { c.OtelEnabled = b }),
	strField("OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, s string) { c.OtelEndpoint = s }),
	boolField("OTEL_EXPORTER_OTLP_INSECURE", func(c *Config, b bool) { c.OtelInsecure = b }),
	floatField("OTEL_SAMPLE_RATIO", func(c *Config, f float64) { c.OtelSampleRatio = f }),
}

func strField(key string, set func(*Config, string)) field {
	return field{key: key, set: func(c *Config, v any) bool {
		s, ok := v.(string)
		if ok {
			set(c, strings.TrimSpace(s))
		}
		return ok
	}}
}

func rawStrField(key string, set func(*Config, string)) field {
	return field{key: key, set: func(c *Config, v any) bool {
		s, ok := v.(string)
		if ok {
			set(c, s)
		}
		return ok
	}}
}

func intField(key string, set func(*Config, int)) field {
	return field{key: key, kind: "an integer", set: func(c *Config, v any) bool {
		n, ok := asInt(v)
		if ok {
			set(c, n)
		}
		return ok
	}}
}

func floatField(key string, set func(*Config, float64)) field {
	return field{key: key, kind: "a number", set: func(c *Config, v any) bool {
		f, ok := asFloat(v)
		if ok {
			set(c, f)
		}
		return ok
	}}
}

func boolField(key string, set func(*Config, bool)) field {
	return field{key: key, kind: "a boolean", set: func(c *Config, v any) bool {
		switch t := v.(type) {
		case bool:
			set(c, t)
			return true
		case string:
			b, ok := asBool(t)
			if ok {
				set(c, b)
			}
			return ok
		default:
			return false
		}
	}}
}

func listField(key string, set func(*Config, []string)) field {
	return field{key: key, kind: "a list", set: func(c *Config, v any) bool {
		switch t := v.(type) {
		case string:
			set(c, parseCSV(t))
			return true
		case []any:
			set(c, parseAnyCSV(t))
			return true
		default:
			return false
		}
	}}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "ENV" {
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
			continue
		}
		for _, f := range fields {
			if f.key != key {
				continue
			}
			if !f.set(cfg, v) && f.kind != "" {
				*problems = append(*problems, Problem{Field: f.key, Message: f.key + " must be " + f.kind})
			}
			break
		}
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for _, f := range fields {
		v := strings.TrimSpace(os.Getenv(f.key))
		if v == "" && f.key == "HTTP_PORT" {
			v = strings.TrimSpace(os.Getenv("PORT"))
		}
		if v == "" {
			continue
		}
		if !f.set(cfg, v) {
			*problems = append(*problems, Problem{Field: f.key, Message: f.key + " must be " + f.kind})
		}
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
