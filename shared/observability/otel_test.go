package observability

import (
	"context"
	"testing"

	"tapistry/shared/config"
	"tapistry/shared/logx"
)

func TestTracerConfigFromDisabled(t *testing.T) {
	tc := TracerConfigFrom(config.Config{ServiceName: "collector", OtelEndpoint: "otel:4317", OtelSampleRatio: 0.5}, "1.2.3")
	if tc.Endpoint != "" {
		t.Fatalf("expected empty endpoint when tracing is disabled, got %q", tc.Endpoint)
	}
	if tc.Version != "1.2.3" {
		t.Fatalf("expected version to be carried, got %q", tc.Version)
	}
	shutdown, err := InitTracer(context.Background(), tc, logx.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerConfigFromEnabled(t *testing.T) {
	tc := TracerConfigFrom(config.Config{OtelEnabled: true, OtelEndpoint: " otel:4317 ", OtelInsecure: true, OtelSampleRatio: 3}, "")
	if tc.Endpoint != "otel:4317" || !tc.Insecure {
		t.Fatalf("unexpected tracer config: %+v", tc)
	}
	if tc.SampleRatio != 1 {
		t.Fatalf("expected ratio clamped to 1, got %v", tc.SampleRatio)
	}
}

func TestResourceCarriesServiceAttributes(t *testing.T) {
	res := TracerConfig{ServiceName: "collector", Env: "test", Version: "0.1.0"}.resource()
	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	if found["service.name"] != "collector" || found["service.version"] != "0.1.0" || found["deployment.environment"] != "test" {
		t.Fatalf("unexpected resource attributes: %v", found)
	}
}
