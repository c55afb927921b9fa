package telemetry

import (
	"os"
	"strconv"
	"strings"

	"github.com/classreg/pkg/config"
)

// Config holds the tracer provider settings.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP collector address, with or without a scheme.
	Endpoint string
	// Protocol is grpc or http/protobuf.
	Protocol string
	Headers  map[string]string
	Insecure bool
	// Sampler is one of always_on, always_off, traceidratio and their
	// parentbased_ forms.
	Sampler      string
	SamplerRatio float64
	// ResourceAttrs are added to every span's resource.
	ResourceAttrs map[string]string
}

// FromSettings builds a Config from the telemetry section of the
// configuration file. The standard OTEL_* variables override it.
func FromSettings(s *config.TelemetryConfig) *Config {
	cfg := &Config{
		Enabled:        s.Enabled,
		ServiceName:    s.ServiceName,
		ServiceVersion: "unknown",
		Endpoint:       s.Endpoint,
		Protocol:       s.Protocol,
		Headers:        make(map[string]string),
		Insecure:       s.Insecure,
		Sampler:        s.Sampler,
		SamplerRatio:   s.SamplerRatio,
		ResourceAttrs:  make(map[string]string),
	}
	cfg.applyEnv()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "classreg"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "grpc"
	}
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_SDK_DISABLED"); strings.EqualFold(v, "true") {
		c.Enabled = false
	}
	setString(&c.ServiceName, "OTEL_SERVICE_NAME")
	setString(&c.ServiceVersion, "OTEL_SERVICE_VERSION")
	setString(&c.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Protocol, "OTEL_EXPORTER_OTLP_PROTOCOL")
	setString(&c.Sampler, "OTEL_TRACES_SAMPLER")
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		c.Insecure = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		c.SamplerRatio = parseRatio(v)
	}
	for k, v := range parseKeyValuePairs(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")) {
		c.Headers[k] = v
	}
	for k, v := range parseKeyValuePairs(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")) {
		c.ResourceAttrs[k] = v
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// parseRatio parses a sampling ratio clamped to [0, 1]. Unparsable
// input samples everything.
func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 1
	}
	return min(max(ratio, 0), 1)
}

// parseKeyValuePairs parses "k1=v1,k2=v2". Values may contain '='.
func parseKeyValuePairs(s string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
