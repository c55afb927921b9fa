package telemetry

import (
	"testing"

	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestBuildResource(t *testing.T) {
	res, err := buildResource(&Config{
		ServiceName:    "classreg",
		ServiceVersion: "1.2.0",
		ResourceAttrs:  map[string]string{"classreg.archive.format": "1"},
	})
	if err != nil {
		t.Fatalf("buildResource: %v", err)
	}

	want := map[string]string{
		string(semconv.ServiceNameKey):    "classreg",
		string(semconv.ServiceVersionKey): "1.2.0",
		"classreg.archive.format":         "1",
	}
	got := make(map[string]string)
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q, want %q", k, got[k], v)
		}
	}
}
