// Package config loads the session service configuration. Values come from an optional YAML
// file, then from a .env file, then from environment variables, each layer overriding the last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are read.
const (
	DefaultPort       = 8317
	DefaultSessionDir = "~/.heb-session"
	DefaultPendingTTL = 10 * time.Minute
)

// ErrEncryptionKeyRequired is returned when encryption is required but no key is configured.
var ErrEncryptionKeyRequired = errors.New("config: session encryption is required but HEB_SESSION_KEY is not set")

// Config is the full service configuration.
type Config struct {
	// Host is the interface the API server binds. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`
	// Port is the API server port.
	Port int `yaml:"port" json:"port"`
	// Debug enables debug logging and verbose client traces.
	Debug bool `yaml:"debug" json:"debug"`
	// LoggingToFile writes logs to a rotating file under LogDir instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
	// LogDir overrides the log directory. Defaults to "logs" next to the working directory.
	LogDir string `yaml:"log-dir" json:"log-dir"`
	// LogMaxSizeMB rotates the log file once it reaches this size. Defaults to 10.
	LogMaxSizeMB int `yaml:"log-max-size-mb" json:"log-max-size-mb"`
	// LogMaxBackups is how many rotated files are kept. Zero keeps all of them.
	LogMaxBackups int `yaml:"log-max-backups" json:"log-max-backups"`
	// ProxyURL routes outbound traffic through an HTTP or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	Session     SessionConfig     `yaml:"session" json:"session"`
	OAuth       OAuthConfig       `yaml:"oauth" json:"oauth"`
	Postgres    PostgresConfig    `yaml:"postgres" json:"postgres"`
	ObjectStore ObjectStoreConfig `yaml:"object-store" json:"object-store"`
	GitStore    GitStoreConfig    `yaml:"git-store" json:"git-store"`

	// Tenants binds API keys to user ids for the hosted service.
	Tenants []TenantKey `yaml:"tenants" json:"tenants"`
}

// SessionConfig controls the session store and session defaults.
type SessionConfig struct {
	// Dir is the file store directory. A leading "~" expands to the home directory.
	Dir string `yaml:"dir" json:"dir"`
	// Key is the base64 encryption key, optionally prefixed with "base64:".
	Key string `yaml:"key" json:"-"`
	// RequireEncryption refuses to start without Key.
	RequireEncryption bool `yaml:"require-encryption" json:"require-encryption"`
	// Algorithm selects the envelope cipher: aes-256-gcm (default) or chacha20-poly1305.
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// AssumeValidWithoutExpiry treats credentials without a known expiry as valid. Defaults to true.
	AssumeValidWithoutExpiry *bool `yaml:"assume-valid-without-expiry" json:"assume-valid-without-expiry"`
	// WatchFiles reloads sessions when record files change on disk.
	WatchFiles bool `yaml:"watch-files" json:"watch-files"`
	// DisableWarmUp skips the background build id lookup after a session loads.
	DisableWarmUp bool `yaml:"disable-warm-up" json:"disable-warm-up"`
	// WebEndpoint and MobileEndpoint override the GraphQL endpoints.
	WebEndpoint    string `yaml:"web-endpoint" json:"web-endpoint"`
	MobileEndpoint string `yaml:"mobile-endpoint" json:"mobile-endpoint"`
	// ClientName and ClientVersion are sent as x-client-name / x-client-version.
	ClientName    string `yaml:"client-name" json:"client-name"`
	ClientVersion string `yaml:"client-version" json:"client-version"`
	// UserAgent overrides the per-mode default user agent.
	UserAgent string `yaml:"user-agent" json:"user-agent"`
}

// OAuthConfig describes the identity provider.
type OAuthConfig struct {
	ClientID     string   `yaml:"client-id" json:"client-id"`
	ClientSecret string   `yaml:"client-secret" json:"-"`
	DiscoveryURL string   `yaml:"discovery-url" json:"discovery-url"`
	AuthURL      string   `yaml:"auth-url" json:"auth-url"`
	TokenURL     string   `yaml:"token-url" json:"token-url"`
	RedirectURI  string   `yaml:"redirect-uri" json:"redirect-uri"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
	// PendingTTLSeconds bounds how long a started login may wait for its callback.
	PendingTTLSeconds int `yaml:"pending-ttl-seconds" json:"pending-ttl-seconds"`
}

// PendingTTL returns the pending-login lifetime.
func (o OAuthConfig) PendingTTL() time.Duration {
	if o.PendingTTLSeconds <= 0 {
		return DefaultPendingTTL
	}
	return time.Duration(o.PendingTTLSeconds) * time.Second
}

// PostgresConfig selects the PostgreSQL store when DSN is set.
type PostgresConfig struct {
	DSN    string `yaml:"dsn" json:"-"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

// ObjectStoreConfig selects the S3-compatible store when Endpoint is set.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// GitStoreConfig selects the git-backed store when Remote is set.
type GitStoreConfig struct {
	Remote   string `yaml:"remote" json:"remote"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// Dir is the local working tree. Defaults to "git" under the session directory.
	Dir string `yaml:"dir" json:"dir"`
}

// TenantKey binds one API key to one user id.
type TenantKey struct {
	APIKey string `yaml:"api-key" json:"-"`
	UserID string `yaml:"user-id" json:"user-id"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Port:    DefaultPort,
		Session: SessionConfig{Dir: DefaultSessionDir},
	}
}

// Load reads the YAML file at path (if any) on top of the defaults and then applies environment
// overrides. An empty path skips the file; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if errLoad := godotenv.Load(path); errLoad != nil {
		if errors.Is(errLoad, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, errLoad)
	}
	log.Debugf("loaded environment from %s", path)
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}
	parseBool := func(key, value string) (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("config: %s: %w", key, err)
		}
		return b, nil
	}

	if value, ok := lookupEnv("HEB_SESSION_KEY"); ok {
		c.Session.Key = value
	}
	if value, ok := lookupEnv("HEB_SESSION_DIR"); ok {
		c.Session.Dir = value
	}
	if value, ok := lookupEnv("HEB_REQUIRE_ENCRYPTION"); ok {
		b, err := parseBool("HEB_REQUIRE_ENCRYPTION", value)
		if err != nil {
			return err
		}
		c.Session.RequireEncryption = b
	}
	if value, ok := lookupEnv("HEB_OAUTH_CLIENT_ID"); ok {
		c.OAuth.ClientID = value
	}
	if value, ok := lookupEnv("HEB_OAUTH_CLIENT_SECRET"); ok {
		c.OAuth.ClientSecret = value
	}
	if value, ok := lookupEnv("HEB_OAUTH_DISCOVERY_URL"); ok {
		c.OAuth.DiscoveryURL = value
	}
	if value, ok := lookupEnv("HEB_OAUTH_TOKEN_URL"); ok {
		c.OAuth.TokenURL = value
	}
	if value, ok := lookupEnv("HEB_OAUTH_REDIRECT_URI"); ok {
		c.OAuth.RedirectURI = value
	}
	if value, ok := lookupEnv("HEB_OAUTH_SCOPES"); ok {
		c.OAuth.Scopes = strings.Fields(strings.ReplaceAll(value, ",", " "))
	}
	if value, ok := lookupEnv("HEB_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: HEB_PORT: %w", err)
		}
		c.Port = port
	}
	if value, ok := lookupEnv("HEB_DEBUG"); ok {
		b, err := parseBool("HEB_DEBUG", value)
		if err != nil {
			return err
		}
		c.Debug = b
	}
	if value, ok := lookupEnv("HEB_PROXY_URL"); ok {
		c.ProxyURL = value
	}
	if value, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		c.Postgres.DSN = value
	}
	if value, ok := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema"); ok {
		c.Postgres.Schema = value
	}
	if value, ok := lookupEnv("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		c.GitStore.Remote = value
	}
	if value, ok := lookupEnv("GITSTORE_GIT_USERNAME", "gitstore_git_username"); ok {
		c.GitStore.Username = value
	}
	if value, ok := lookupEnv("GITSTORE_GIT_TOKEN", "gitstore_git_token"); ok {
		c.GitStore.Password = value
	}
	if value, ok := lookupEnv("GITSTORE_LOCAL_PATH", "gitstore_local_path"); ok {
		c.GitStore.Dir = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		c.ObjectStore.Endpoint = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key"); ok {
		c.ObjectStore.AccessKey = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key"); ok {
		c.ObjectStore.SecretKey = value
	}
	if value, ok := lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket"); ok {
		c.ObjectStore.Bucket = value
	}
	return nil
}

// Validate reports configuration errors that must stop startup.
func (c *Config) Validate() error {
	if c.Session.RequireEncryption && strings.TrimSpace(c.Session.Key) == "" {
		return ErrEncryptionKeyRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.Session.Algorithm {
	case "", "aes-256-gcm", "chacha20-poly1305":
	default:
		return fmt.Errorf("config: unsupported session algorithm %q", c.Session.Algorithm)
	}
	seen := make(map[string]struct{}, len(c.Tenants))
	for i, tenant := range c.Tenants {
		if strings.TrimSpace(tenant.APIKey) == "" || strings.TrimSpace(tenant.UserID) == "" {
			return fmt.Errorf("config: tenants[%d] needs both api-key and user-id", i)
		}
		if _, dup := seen[tenant.APIKey]; dup {
			return fmt.Errorf("config: tenants[%d] reuses an api-key", i)
		}
		seen[tenant.APIKey] = struct{}{}
	}
	return nil
}

// AssumeValidWithoutExpiry resolves the unknown-expiry policy, defaulting to true.
func (c *Config) AssumeValidWithoutExpiry() bool {
	if c.Session.AssumeValidWithoutExpiry == nil {
		return true
	}
	return *c.Session.AssumeValidWithoutExpiry
}

// TenantKeys returns the API key to user id map.
func (c *Config) TenantKeys() map[string]string {
	out := make(map[string]string, len(c.Tenants))
	for _, tenant := range c.Tenants {
		out[tenant.APIKey] = tenant.UserID
	}
	return out
}

// ExpandedSessionDir resolves a leading "~" in Session.Dir.
func (c *Config) ExpandedSessionDir() (string, error) {
	dir := strings.TrimSpace(c.Session.Dir)
	if dir == "" {
		dir = DefaultSessionDir
	}
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home directory: %w", err)
		}
		dir = home + dir[1:]
	}
	return dir, nil
}
