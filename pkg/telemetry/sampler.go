package telemetry

import (
	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler returns the configured sampler; unknown names sample
// everything.
func newSampler(cfg *Config) trace.Sampler {
	ratio := cfg.SamplerRatio
	if ratio == 0 && cfg.Sampler != "traceidratio" && cfg.Sampler != "parentbased_traceidratio" {
		ratio = 1
	}
	switch cfg.Sampler {
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		return trace.AlwaysSample()
	}
}
