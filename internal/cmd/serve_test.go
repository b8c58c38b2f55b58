package cmd

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/runwatch/pkg/check"
	"github.com/3leaps/runwatch/pkg/checkstore"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckHealthChecker(t *testing.T) {
	now := time.Date(2025, 3, 20, 1, 0, 0, 0, time.UTC)
	newChecker := func() *checkHealthChecker {
		c := newCheckHealthChecker(time.Minute)
		c.now = func() time.Time { return now }
		c.started = now
		return c
	}

	t.Run("healthy before the first check inside the window", func(t *testing.T) {
		assert.NoError(t, newChecker().CheckHealth(context.Background()))
	})

	t.Run("stale when no check completes", func(t *testing.T) {
		c := newChecker()
		c.now = func() time.Time { return now.Add(4 * time.Minute) }
		err := c.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no check completed")
	})

	t.Run("failed state is unhealthy", func(t *testing.T) {
		c := newChecker()
		c.observe(&check.Report{CheckID: "c1", State: checkstore.StateFailed}, nil)
		assert.Error(t, c.CheckHealth(context.Background()))

		c.observe(&check.Report{CheckID: "c2", State: checkstore.StatePartial}, nil)
		assert.NoError(t, c.CheckHealth(context.Background()))
	})

	t.Run("runner error is unhealthy", func(t *testing.T) {
		c := newChecker()
		c.observe(nil, errors.New("disk full"))
		assert.ErrorContains(t, c.CheckHealth(context.Background()), "disk full")
	})
}

func TestPollLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		pollLoop(ctx, 5*time.Millisecond, func(context.Context) {
			if calls.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not stop")
	}
	assert.Equal(t, int32(3), calls.Load())
}
