package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestCheckHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	tests := []struct {
		name    string
		primary Ping
		durable Ping
		want    string
	}{
		{"both stores up", up, up, StatusHealthy},
		{"primary down", down, up, StatusDegraded},
		{"durable down", up, down, StatusDegraded},
		{"durable not configured", up, nil, StatusDegraded},
		{"both stores down", down, down, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(tt.primary, tt.durable, logger, "test")
			status := checker.CheckHealth(ctx)
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Components, 2)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestCheckReadinessOmitsBuildDetails(t *testing.T) {
	checker := NewChecker(up, down, slog.New(slog.NewTextHandler(io.Discard, nil)), "v1")
	status := checker.CheckReadiness(context.Background())

	assert.Equal(t, StatusDegraded, status.Status)
	assert.Empty(t, status.Version)
	assert.Equal(t, "connection refused", status.Components["durable_store"].Message)
}

func TestCheckLiveness(t *testing.T) {
	checker := NewChecker(down, down, slog.New(slog.NewTextHandler(io.Discard, nil)), "v1")
	assert.Equal(t, StatusHealthy, checker.CheckLiveness(context.Background()).Status)
}
