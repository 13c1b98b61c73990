package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerURL(t *testing.T) {
	tt := []struct {
		server ServerConfig
		want   string
	}{
		{ServerConfig{Scheme: "http", Host: "localhost", Port: "8000"}, "http://localhost:8000"},
		{ServerConfig{Scheme: "http", Host: "example.com", Port: "80"}, "http://example.com"},
		{ServerConfig{Scheme: "https", Host: "example.com", Port: "443"}, "https://example.com"},
		{ServerConfig{Scheme: "https", Host: "example.com"}, "https://example.com"},
	}

	for _, test := range tt {
		assert.Equal(t, test.want, test.server.URL())
	}
}

const testConfig = `
server:
  port: "9000"
database:
  driver: badger
tokens:
  accessTTL: 5m
providers:
  google:
    clientID: google-client
frontend:
  loginErrorURL: https://app.test/login/error
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0600)
	require.NoError(t, err)

	t.Setenv("ACCOUNTS_DATABASE_DRIVER", DriverPostgres)
	t.Setenv("ACCOUNTS_SERVER_CORSORIGINS", "https://a.test,https://b.test")

	require.NoError(t, LoadConfig(dir))

	assert.Equal(t, dir, Dir())
	assert.Equal(t, "9000", Current.Server.Port)
	assert.Equal(t, DriverPostgres, Current.Database.Driver)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, Current.Server.CORSOrigins)
	assert.Equal(t, 5*time.Minute, Current.Tokens.AccessTTL)
	assert.Equal(t, 168*time.Hour, Current.Tokens.RefreshTTL)
	assert.Equal(t, 5*time.Second, Current.Providers.Timeout)
	assert.True(t, Current.Providers.Google.Enabled())
	assert.False(t, Current.Providers.GitHub.Enabled())
	assert.Equal(t, "https://app.test/login/error", Current.Frontend.LoginErrorURL)
	assert.Equal(t, filepath.Join(dir, "data"), Current.Database.Dir)

	// Key generated on first load
	require.NotNil(t, Current.Tokens.SigningKey())
	assert.FileExists(t, filepath.Join(dir, "signing_key.pem"))
	first := Current.Tokens.SigningKey()

	// and reused afterwards
	require.NoError(t, LoadConfig(dir))
	assert.True(t, first.Equal(Current.Tokens.SigningKey()))
}

func TestParseECPrivateKey(t *testing.T) {
	key, err := generatePrivateKey()
	require.NoError(t, err)

	filename := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, savePrivateKey(filename, key))

	loaded, err := loadPrivateKey(filename)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = ParseECPrivateKey([]byte("not a key"))
	assert.Error(t, err)
}
