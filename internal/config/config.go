package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ServerConfig holds configuration variables for the server.
type ServerConfig struct {
	Scheme      string
	Host        string
	Port        string
	CORSOrigins []string

	// Used when Scheme is https. Without them a self-signed certificate
	// is generated on startup.
	TLSCertFile string
	TLSKeyFile  string
}

// URL returns the main gateway URL for the server.
func (s *ServerConfig) URL() string {
	host := s.Host
	includePort := func() bool {
		if s.Port == "" {
			return false
		}
		if s.Scheme == "http" {
			return s.Port != "80"
		}
		// s.Scheme == "https"
		return s.Port != "443"
	}()
	if includePort {
		host = fmt.Sprintf("%s:%s", host, s.Port)
	}
	uri := url.URL{
		Scheme: s.Scheme,
		Host:   host,
	}
	return uri.String()
}

// Supported database drivers
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverDgraph   = "dgraph"
)

// DatabaseConfig holds configuration variables for the identity store.
type DatabaseConfig struct {
	Driver string

	// Connection string for Postgres
	URL string

	// gRPC address of a Dgraph alpha
	DgraphAddr string

	// For embedded DB
	Dir string // Path to store data in (for embedded)
}

// RedisConfig holds settings for the redirect state store. An empty Addr
// keeps state in the identity store instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TokensConfig holds settings for issued access and refresh tokens.
type TokensConfig struct {
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	PrivateKeyFile string

	privateKey *ecdsa.PrivateKey
}

// SigningKey returns the ES256 key used to sign tokens.
func (t *TokensConfig) SigningKey() *ecdsa.PrivateKey {
	return t.privateKey
}

// ProviderConfig holds the OAuth client registration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Sign in with Apple only
	TeamID         string
	KeyID          string
	PrivateKeyFile string
}

// Enabled returns true if the provider has been registered.
func (p *ProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

// ProvidersConfig holds settings for every third-party provider.
type ProvidersConfig struct {
	Timeout  time.Duration
	Google   ProviderConfig
	GitHub   ProviderConfig
	Apple    ProviderConfig
	Facebook ProviderConfig
	LinkedIn ProviderConfig
}

// FrontendConfig holds the web app URLs redirect-based logins return to.
type FrontendConfig struct {
	LoginSuccessURL   string
	LoginErrorURL     string
	RedirectOnSuccess bool
}

// MinIOConfig holds settings for S3-compatible avatar storage.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MediaConfig holds settings for stored profile pictures. Avatars are
// written to MinIO when an endpoint is configured, otherwise to Dir.
type MediaConfig struct {
	Dir     string
	BaseURL string
	MinIO   MinIOConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds configuration information for the program.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Tokens    TokensConfig
	Providers ProvidersConfig
	Frontend  FrontendConfig
	Media     MediaConfig
	Log       LogConfig
	Remain    map[string]interface{} `mapstructure:",remain"`
}

var (
	// Current is the current configuration for the server.
	Current Config

	configPath string
)

var providerNames = []string{"google", "github", "apple", "facebook", "linkedin"}

func setConfigDefaults() {
	viper.SetDefault("server", map[string]interface{}{
		"scheme":      "http",
		"host":        "localhost",
		"port":        "8000",
		"corsOrigins": []string{},
		"tlsCertFile": "",
		"tlsKeyFile":  "",
	})

	viper.SetDefault("database", map[string]interface{}{
		"driver":     DriverBadger,
		"url":        "",
		"dgraphAddr": "localhost:9080",
		"dir":        "",
	})

	viper.SetDefault("redis", map[string]interface{}{
		"addr":     "",
		"password": "",
		"db":       0,
	})

	viper.SetDefault("tokens", map[string]interface{}{
		"issuer":         "http://localhost:8000",
		"accessTTL":      "15m",
		"refreshTTL":     "168h",
		"privateKeyFile": "",
	})

	viper.SetDefault("providers.timeout", "5s")
	for _, name := range providerNames {
		viper.SetDefault("providers."+name, map[string]interface{}{
			"clientID":       "",
			"clientSecret":   "",
			"redirectURI":    "",
			"teamID":         "",
			"keyID":          "",
			"privateKeyFile": "",
		})
	}

	viper.SetDefault("frontend", map[string]interface{}{
		"loginSuccessURL":   "http://localhost:3000/login/success",
		"loginErrorURL":     "http://localhost:3000/login/error",
		"redirectOnSuccess": false,
	})

	viper.SetDefault("media", map[string]interface{}{
		"dir":     "",
		"baseURL": "http://localhost:8000/media",
	})
	viper.SetDefault("media.minio", map[string]interface{}{
		"endpoint":  "",
		"accessKey": "",
		"secretKey": "",
		"bucket":    "avatars",
		"useSSL":    false,
	})

	viper.SetDefault("log", map[string]interface{}{
		"level":  "info",
		"format": "text",
	})
}

// LoadConfig loads the config file from disk, searching extraPaths before
// the default locations, and applies ACCOUNTS_* environment overrides.
// A signing key is generated on first run.
func LoadConfig(extraPaths ...string) error {
	viper.Reset()
	for _, path := range extraPaths {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath("/etc/accounts/")
	viper.AddConfigPath("$HOME/.accounts")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	setConfigDefaults()

	viper.SetEnvPrefix("accounts")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			configPath, err = getConfigurationDirectory()
			if err != nil {
				return err
			}
		} else {
			return errors.Wrap(err, "unable to read config file")
		}
	} else {
		configPath = filepath.Dir(viper.ConfigFileUsed())
	}

	var loaded Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&loaded, hooks); err != nil {
		return errors.Wrap(err, "error unmarshalling config")
	}
	Current = loaded

	// Set paths with known configPath
	if Current.Tokens.PrivateKeyFile == "" {
		Current.Tokens.PrivateKeyFile = filepath.Join(configPath, "signing_key.pem")
	}
	if Current.Database.Dir == "" {
		Current.Database.Dir = filepath.Join(configPath, "data")
	}
	if Current.Media.Dir == "" {
		Current.Media.Dir = filepath.Join(configPath, "media")
	}

	if _, err := os.Stat(Current.Tokens.PrivateKeyFile); os.IsNotExist(err) {
		key, err := generatePrivateKey()
		if err != nil {
			return err
		}
		if err := savePrivateKey(Current.Tokens.PrivateKeyFile, key); err != nil {
			return err
		}
		Current.Tokens.privateKey = key
	} else {
		key, err := loadPrivateKey(Current.Tokens.PrivateKeyFile)
		if err != nil {
			return err
		}
		Current.Tokens.privateKey = key
	}

	return nil
}

// Dir returns the directory the configuration was loaded from.
func Dir() string {
	return configPath
}

func getConfigurationDirectory() (string, error) {
	var configDir string

	// Prefer /etc
	configDir = "/etc/accounts"
	if _, err := os.Stat(configDir); err == nil {
		return configDir, nil
	} else if os.IsNotExist(err) {
		// For non-sudo users, this is not possible
		if err := os.Mkdir(configDir, 0770); err == nil {
			return configDir, nil
		}
	} else {
		return "", err
	}

	// Check home directory
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "could not retrieve home directory")
	}
	configDir = filepath.Join(home, ".accounts")
	if _, err := os.Stat(configDir); err == nil {
		return configDir, nil
	} else if os.IsNotExist(err) {
		if err := os.Mkdir(configDir, 0700); err == nil {
			return configDir, nil
		}
	} else {
		return "", err
	}

	return "", errors.New("could not locate viable storage dir")
}

func loadPrivateKey(filename string) (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "error reading private key file")
	}
	return ParseECPrivateKey(b)
}

// ParseECPrivateKey decodes a PEM encoded PKCS #8 or SEC 1 EC private key.
func ParseECPrivateKey(b []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block found in private key file")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "error decoding private key file")
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an EC key")
	}
	return key, nil
}

// generatePrivateKey generates the P-256 key tokens are signed with.
func generatePrivateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// Saves the private key as PKCS #8 PEM to filename.
func savePrivateKey(filename string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return errors.Wrap(err, "error creating key directory")
	}
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "error opening file")
	}
	defer file.Close()

	err = pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err != nil {
		return errors.Wrap(err, "error writing file")
	}
	return nil
}
