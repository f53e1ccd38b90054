package cmdutils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-keeper/internal/config"
)

func stubConfig(t *testing.T, cfg *config.Config, err error) {
	t.Helper()

	orig := loadConfig
	loadConfig = func(string) (*config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfig = orig })
}

func passThrough(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return fn(ctx, cfg)
}

func TestCobraCommand(t *testing.T) {
	t.Run("creates command with correct properties", func(t *testing.T) {
		cmd := CobraCommand("test-cmd", "short desc", "long description", "v1.0.0", passThrough,
			func(context.Context, *config.Config) error { return nil })

		assert.Equal(t, "test-cmd", cmd.Use)
		assert.Equal(t, "short desc", cmd.Short)
		assert.Equal(t, "long description", cmd.Long)
		assert.NotNil(t, cmd.RunE)
	})

	tests := []struct {
		name        string
		loadErr     error
		wrapperErr  error
		wantErr     string
		wantInvoked bool
	}{
		{
			name:        "runs the business function with the loaded config",
			wantInvoked: true,
		},
		{
			name:    "config loading fails",
			loadErr: errors.New("no config file"),
			wantErr: "loading config",
		},
		{
			name:       "wrapper fails",
			wrapperErr: errors.New("wrapper error"),
			wantErr:    "running test: wrapper error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := &config.Config{Keeper: config.Keeper{ID: "keeper-one"}}
			stubConfig(t, want, tt.loadErr)

			invoked := false
			business := func(_ context.Context, cfg *config.Config) error {
				invoked = true
				assert.Same(t, want, cfg)
				return nil
			}
			wrapper := func(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
				if tt.wrapperErr != nil {
					return tt.wrapperErr
				}
				return fn(ctx, cfg)
			}

			cmd := CobraCommand("test", "short", "long", "v1.0.0", wrapper, business)
			cmd.SetArgs([]string{})

			err := cmd.ExecuteContext(t.Context())
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantInvoked, invoked)
		})
	}
}

func TestStatusListener(t *testing.T) {
	states := []health.State{
		{Status: "up", CheckState: map[string]health.CheckState{}},
		{
			Status: "degraded",
			CheckState: map[string]health.CheckState{
				"database": {Status: "up"},
				"cache":    {Status: "down", Result: errors.New("connection refused")},
			},
		},
	}

	for _, state := range states {
		assert.NotPanics(t, func() {
			statusListener(context.Background(), state)
		})
	}
}

func TestStartStatusServer(t *testing.T) {
	t.Run("returns error when connection string creation fails", func(t *testing.T) {
		cfg := &config.Config{
			Storage: config.Storage{Type: config.StoragePostgres},
			Database: config.Database{
				Host: commoncfg.SourceRef{Source: "invalid-source"},
			},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := startStatusServer(ctx, cfg)
		assert.ErrorContains(t, err, "making connection string from config")
	})
}

func TestHealthStatusTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, healthStatusTimeout)
}

func ExampleCobraCommand() {
	businessFunc := func(ctx context.Context, cfg *config.Config) error {
		fmt.Println("Running business logic")
		return nil
	}

	cmd := CobraCommand(
		"example",
		"Example command",
		"This is an example of how to use CobraCommand",
		"v1.0.0",
		passThrough,
		businessFunc,
	)

	fmt.Printf("Command use: %s\n", cmd.Use)
	// Output: Command use: example
}
