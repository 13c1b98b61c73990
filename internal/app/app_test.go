package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/oauthstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0600))
	require.NoError(t, config.LoadConfig(dir))
	cfg := config.Current
	return &cfg
}

func TestOpen(t *testing.T) {
	tt := []struct {
		name      string
		redis     bool
		wantState interface{}
	}{
		{"Database state", false, &oauthstate.DatabaseStore{}},
		{"Redis state", true, &oauthstate.RedisStore{}},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			cfg := loadConfig(t, "database:\n  driver: badger\n")
			if test.redis {
				cfg.Redis.Addr = miniredis.RunT(t).Addr()
			}

			a, err := Open(context.Background(), cfg)
			require.NoError(t, err)
			defer a.Close()

			assert.IsType(t, test.wantState, a.States)
			assert.Empty(t, a.Providers.Names())
			assert.NotNil(t, a.Handler())
		})
	}
}

func TestOpenErrors(t *testing.T) {
	cfg := loadConfig(t, "database:\n  driver: sqlite\n")
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown database driver "sqlite"`)

	cfg = loadConfig(t, "database:\n  driver: badger\nredis:\n  addr: 127.0.0.1:1\n")
	_, err = Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}
