package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	data := `{
  "ENV": "test",
  "HTTP_PORT": 9100,
  "KAFKA_BROKERS": ["k1:9092", "k2:9092"],
  "ALLOW_KEYLESS": false,
  "RATE_LIMIT_RPS": "12.5"
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV", "")
	t.Setenv("HTTP_PORT", "9200")

	cfg, problems := Load("collector", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected env from file, got %q", cfg.Env)
	}
	if cfg.HTTPPort != 9200 {
		t.Fatalf("expected env port to win, got %d", cfg.HTTPPort)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
	if cfg.AllowKeyless {
		t.Fatalf("expected ALLOW_KEYLESS=false from file")
	}
	if cfg.RateLimitRPS != 12.5 {
		t.Fatalf("expected rate 12.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected default request timeout, got %v", cfg.RequestTimeout)
	}
}

func TestLoadReportsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ENV", "dev")
	t.Setenv("DB_MAX_CONNS", "lots")
	t.Setenv("OTEL_SAMPLE_RATIO", "4")

	cfg, problems := Load("collector", 8080)
	fields := map[string]bool{}
	for _, p := range problems {
		fields[p.Field] = true
	}
	if !fields["DB_MAX_CONNS"] || !fields["OTEL_SAMPLE_RATIO"] {
		t.Fatalf("expected problems for DB_MAX_CONNS and OTEL_SAMPLE_RATIO, got %#v", problems)
	}
	if cfg.OtelSampleRatio != 1.0 {
		t.Fatalf("expected sample ratio reset to default, got %v", cfg.OtelSampleRatio)
	}
}
