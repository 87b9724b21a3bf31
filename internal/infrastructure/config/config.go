package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration is wrapped by every validation failure so callers can
// distinguish a bad configuration from an unreadable file.
var ErrConfiguration = errors.New("invalid configuration")

// MinHashIterations is the lowest PBKDF2 iteration count the service accepts.
const MinHashIterations = 100_000

// Config is the root configuration structure for Warden Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// DatabaseConfig contains SQLite database settings.
//
// Path may be stored encrypted with the field cipher ("v1:" prefix); the
// serve command decrypts it before opening the database.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig groups every secret and tunable the security core needs.
type SecurityConfig struct {
	JWT         JWTConfig         `yaml:"jwt"`
	Hashing     HashingConfig     `yaml:"hashing"`
	FieldCipher FieldCipherConfig `yaml:"field_cipher"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// JWTConfig contains token signing settings.
//
// Access and refresh tokens are signed with independent secrets so that a
// leaked access key cannot mint refresh tokens.
type JWTConfig struct {
	AccessSecret    string        `yaml:"access_secret"`
	RefreshSecret   string        `yaml:"refresh_secret"`
	Issuer          string        `yaml:"issuer"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// HashingConfig contains password KDF settings.
type HashingConfig struct {
	Iterations int `yaml:"iterations"`
	// Workers bounds how many derivations run at once. 0 means runtime.NumCPU().
	Workers int `yaml:"workers"`
}

// FieldCipherConfig holds the passphrase that protects at-rest configuration secrets.
type FieldCipherConfig struct {
	Passphrase string `yaml:"passphrase"`
}

// RateLimitConfig contains login throttling settings.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Backend     string        `yaml:"backend"` // memory, redis
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// CacheConfig contains in-process cache settings.
type CacheConfig struct {
	MenuTTL time.Duration `yaml:"menu_ttl"`
}

// RedisConfig contains Redis connection settings for the shared rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MQTTConfig contains MQTT broker connection settings for security event fan-out.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WARDEN_SECTION_KEY
// For example: WARDEN_DATABASE_PATH, WARDEN_JWT_ACCESS_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Secrets have no defaults: a deployment must provide them.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/warden.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "warden-core",
				AccessTokenTTL:  15 * time.Minute,
				RefreshTokenTTL: 7 * 24 * time.Hour,
			},
			Hashing: HashingConfig{
				Iterations: MinHashIterations,
			},
			RateLimit: RateLimitConfig{
				Enabled:     true,
				Backend:     "memory",
				MaxAttempts: 5,
				Window:      time.Minute,
			},
		},
		Cache: CacheConfig{
			MenuTTL: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "warden:rl:",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "warden-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WARDEN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARDEN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("WARDEN_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("WARDEN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Secrets. Always supply these from the environment in production.
	if v := os.Getenv("WARDEN_JWT_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("WARDEN_JWT_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
	if v := os.Getenv("WARDEN_FIELD_CIPHER_PASSPHRASE"); v != "" {
		cfg.Security.FieldCipher.Passphrase = v
	}

	if v := os.Getenv("WARDEN_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WARDEN_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("WARDEN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WARDEN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WARDEN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("WARDEN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Every problem is collected so an operator sees the full list in one run.
// The returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minSecretLength = 32
	jwt := c.Security.JWT
	switch {
	case jwt.AccessSecret == "":
		errs = append(errs, "security.jwt.access_secret is required (set WARDEN_JWT_ACCESS_SECRET)")
	case len(jwt.AccessSecret) < minSecretLength:
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	switch {
	case jwt.RefreshSecret == "":
		errs = append(errs, "security.jwt.refresh_secret is required (set WARDEN_JWT_REFRESH_SECRET)")
	case len(jwt.RefreshSecret) < minSecretLength:
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if jwt.AccessSecret != "" && jwt.AccessSecret == jwt.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and refresh_secret must differ")
	}
	if jwt.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if jwt.RefreshTokenTTL <= jwt.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must exceed access_token_ttl")
	}

	if c.Security.Hashing.Iterations < MinHashIterations {
		errs = append(errs, fmt.Sprintf("security.hashing.iterations must be at least %d", MinHashIterations))
	}
	if c.Security.Hashing.Workers < 0 {
		errs = append(errs, "security.hashing.workers must not be negative")
	}

	if c.Security.FieldCipher.Passphrase == "" {
		errs = append(errs, "security.field_cipher.passphrase is required (set WARDEN_FIELD_CIPHER_PASSPHRASE)")
	}

	rl := c.Security.RateLimit
	if rl.Enabled {
		if rl.Backend != "memory" && rl.Backend != "redis" {
			errs = append(errs, "security.rate_limit.backend must be memory or redis")
		}
		if rl.MaxAttempts < 1 {
			errs = append(errs, "security.rate_limit.max_attempts must be at least 1")
		}
		if rl.Window <= 0 {
			errs = append(errs, "security.rate_limit.window must be positive")
		}
		if rl.Backend == "redis" && c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when rate_limit.backend is redis")
		}
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
