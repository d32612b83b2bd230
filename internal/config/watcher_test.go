package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aquaflow/sensorhub/internal/config"
)

func TestStartWatcher_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "rate_limit:\n  enabled: true\n  rate: 10\n  window_ms: 60000\n")

	store, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, store.Current().RateLimit.Rate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartWatcher(ctx)

	writeFile(t, path, "rate_limit:\n  enabled: true\n  rate: 77\n  window_ms: 60000\n")

	deadline := time.Now().Add(3 * time.Second)
	for store.Current().RateLimit.Rate != 77 {
		if time.Now().After(deadline) {
			t.Fatalf("config was never reloaded (rate still %d)", store.Current().RateLimit.Rate)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
