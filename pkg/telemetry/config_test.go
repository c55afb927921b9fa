package telemetry

import (
	"testing"

	"github.com/classreg/pkg/config"
)

var otelEnv = []string{
	"OTEL_ENABLED",
	"OTEL_SDK_DISABLED",
	"OTEL_SERVICE_NAME",
	"OTEL_SERVICE_VERSION",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_PROTOCOL",
	"OTEL_EXPORTER_OTLP_HEADERS",
	"OTEL_EXPORTER_OTLP_INSECURE",
	"OTEL_TRACES_SAMPLER",
	"OTEL_TRACES_SAMPLER_ARG",
	"OTEL_RESOURCE_ATTRIBUTES",
}

func clearEnv(t *testing.T) {
	for _, k := range otelEnv {
		t.Setenv(k, "")
	}
}

func TestFromSettings(t *testing.T) {
	clearEnv(t)
	cfg := FromSettings(&config.TelemetryConfig{
		Enabled:      true,
		Endpoint:     "collector:4317",
		Insecure:     true,
		Sampler:      "traceidratio",
		SamplerRatio: 0.25,
	})

	if !cfg.Enabled || !cfg.Insecure {
		t.Errorf("expected enabled and insecure, got %+v", cfg)
	}
	if cfg.ServiceName != "classreg" {
		t.Errorf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Protocol != "grpc" {
		t.Errorf("expected grpc, got %q", cfg.Protocol)
	}
	if cfg.Endpoint != "collector:4317" || cfg.SamplerRatio != 0.25 {
		t.Errorf("settings not carried: %+v", cfg)
	}
}

func TestFromSettings_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SERVICE_NAME", "registry-dump")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team = runtime")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "3")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "env=test")

	cfg := FromSettings(&config.TelemetryConfig{ServiceName: "classreg", Protocol: "grpc"})

	if !cfg.Enabled {
		t.Error("OTEL_ENABLED should enable tracing")
	}
	if cfg.ServiceName != "registry-dump" || cfg.Protocol != "http/protobuf" || cfg.Endpoint != "http://otel:4318" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Headers["Authorization"] != "Bearer a=b" || cfg.Headers["x-team"] != "runtime" {
		t.Errorf("unexpected headers %v", cfg.Headers)
	}
	if cfg.SamplerRatio != 1 {
		t.Errorf("ratio should be clamped to 1, got %v", cfg.SamplerRatio)
	}
	if cfg.ResourceAttrs["env"] != "test" {
		t.Errorf("unexpected resource attributes %v", cfg.ResourceAttrs)
	}
}

func TestFromSettings_SDKDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_SDK_DISABLED", "TRUE")

	if FromSettings(&config.TelemetryConfig{Enabled: true}).Enabled {
		t.Error("OTEL_SDK_DISABLED should win over the settings")
	}
}

func TestParseRatio(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.5", 0.5},
		{" 0.1 ", 0.1},
		{"-1", 0},
		{"7", 1},
		{"half", 1},
	}
	for _, tt := range tests {
		if got := parseRatio(tt.in); got != tt.want {
			t.Errorf("parseRatio(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyValuePairs(t *testing.T) {
	got := parseKeyValuePairs("a=1,,b = 2,novalue,=x,c=d=e")
	want := map[string]string{"a": "1", "b": "2", "c": "d=e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q, want %q", k, got[k], v)
		}
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in    string
		host  string
		plain bool
	}{
		{"localhost:4317", "localhost:4317", false},
		{"http://otel:4318", "otel:4318", true},
		{"https://otel:4318", "otel:4318", false},
		{"", "", false},
	}
	for _, tt := range tests {
		host, plain := splitEndpoint(tt.in)
		if host != tt.host || plain != tt.plain {
			t.Errorf("splitEndpoint(%q) = %q, %v", tt.in, host, plain)
		}
	}
}
