package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), Options{ServiceName: "queue-service"}, zerolog.Nop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}
}
