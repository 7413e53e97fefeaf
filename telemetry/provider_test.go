package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/vinayprograms/textcall/errors"
)

func TestInitProviderErrors(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if _, err := InitProvider(context.Background(), ProviderConfig{}); !errors.Is(err, errors.ErrCodeConfig) {
		t.Errorf("expected CONFIG error without endpoint, got %v", err)
	}
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	if !errors.Is(err, errors.ErrCodeConfig) || !strings.Contains(err.Error(), "udp") {
		t.Errorf("expected CONFIG error for unknown protocol, got %v", err)
	}
}

func TestSampler(t *testing.T) {
	for _, ratio := range []float64{0, 1, -1, 2} {
		if d := sampler(ratio).Description(); d != "AlwaysOnSampler" {
			t.Errorf("sampler(%v) = %s, want AlwaysOnSampler", ratio, d)
		}
	}
	if d := sampler(0.25).Description(); !strings.HasPrefix(d, "ParentBased") {
		t.Errorf("sampler(0.25) = %s", d)
	}
}
