// Package config provides unified configuration loading for the riskmesh
// core: defaults, YAML file, then environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RISKMESH").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the riskmesh core.
type Config struct {
	// Server configures the operational HTTP listener (health, metrics).
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Protocol configures envelope limits and registration auth.
	Protocol ProtocolConfig `yaml:"protocol" env:"PROTOCOL"`

	// Router configures delivery and heartbeat monitoring.
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Task configures lifecycle timeouts and retention.
	Task TaskConfig `yaml:"task" env:"TASK"`

	// Session configures session expiry.
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Artifact configures the artifact store backend.
	Artifact ArtifactConfig `yaml:"artifact" env:"ARTIFACT"`

	// Retry configures the shared retry policy for remote operations.
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Breaker configures per-destination circuit breakers.
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTLP export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the operational HTTP endpoint.
type ServerConfig struct {
	// HTTPPort serves /healthz and /metrics.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ProtocolConfig configures envelope construction and registration auth.
type ProtocolConfig struct {
	// MaxBinaryBytes caps binary-blob part payloads. Zero keeps the
	// built-in cap.
	MaxBinaryBytes int `yaml:"max_binary_bytes" env:"MAX_BINARY_BYTES"`
	// Auth configures bearer-token verification of agent cards.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// AuthConfig configures agent registration tokens (HS256).
type AuthConfig struct {
	// Enabled requires a valid bearer token on every card that declares
	// a bearer security scheme. Cards with scheme "none" always pass.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Secret is the HMAC signing secret.
	Secret string `yaml:"secret" env:"SECRET"`
	// Issuer restricts accepted tokens to this issuer when set.
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// TokenTTL bounds minted token lifetimes.
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// RouterConfig configures message delivery and liveness tracking.
type RouterConfig struct {
	// HeartbeatInterval is how often agents must signal liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// MissedHeartbeatLimit is how many intervals may elapse without a
	// heartbeat before the agent is marked ERROR and suppressed.
	MissedHeartbeatLimit int `yaml:"missed_heartbeat_limit" env:"MISSED_HEARTBEAT_LIMIT"`
	// InboxSize is the default buffered capacity of channel inboxes.
	InboxSize int `yaml:"inbox_size" env:"INBOX_SIZE"`
	// SendTimeout bounds a single delivery attempt into an inbox.
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	// RatePerSecond throttles deliveries per destination. Zero disables
	// the limiter.
	RatePerSecond float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
	// RateBurst is the limiter burst size when RatePerSecond is set.
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// TaskConfig configures the task lifecycle.
type TaskConfig struct {
	// DefaultTimeout applies when a task is created without one.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// SweepInterval is how often the timeout/retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// RetentionWindow is how long terminal tasks are kept before purge.
	RetentionWindow time.Duration `yaml:"retention_window" env:"RETENTION_WINDOW"`
	// CancelGrace is the worker-side window to stop cooperatively after
	// a cancellation signal.
	CancelGrace time.Duration `yaml:"cancel_grace" env:"CANCEL_GRACE"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	// DefaultTTL applies to sessions created without an explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// SweepInterval is how often expired sessions are collected.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// ArtifactConfig selects and configures the artifact store backend.
type ArtifactConfig struct {
	// Backend is one of: memory, redis, postgres.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Database configures the postgres backend.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// RedisConfig configures the redis artifact store.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// KeyPrefix namespaces all keys written by this deployment.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig configures the postgres artifact store.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RetryConfig configures the shared retry policy.
type RetryConfig struct {
	// MaxAttempts bounds total attempts including the first.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// InitialDelay is the base backoff delay.
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// Multiplier is the exponential growth factor.
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// Jitter adds random spread to delays when true.
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// BreakerConfig configures per-destination circuit breakers.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
	// Cooldown is how long an open breaker waits before one trial call.
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists sinks (stdout, stderr, file paths).
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stacktraces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTLP trace/metric export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the precedence
// defaults -> YAML file -> environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the RISKMESH env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RISKMESH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration accepts the "2s" form, not bare integers.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Router.HeartbeatInterval <= 0 {
		errs = append(errs, "heartbeat_interval must be positive")
	}
	if c.Router.MissedHeartbeatLimit <= 0 {
		errs = append(errs, "missed_heartbeat_limit must be positive")
	}
	if c.Task.DefaultTimeout <= 0 {
		errs = append(errs, "task default_timeout must be positive")
	}
	if c.Task.SweepInterval <= 0 {
		errs = append(errs, "task sweep_interval must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1.0 {
		errs = append(errs, "retry multiplier must be >= 1.0")
	}
	if c.Breaker.Threshold <= 0 {
		errs = append(errs, "breaker threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		errs = append(errs, "breaker cooldown must be positive")
	}
	switch c.Artifact.Backend {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unknown artifact backend %q", c.Artifact.Backend))
	}
	if c.Protocol.Auth.Enabled && c.Protocol.Auth.Secret == "" {
		errs = append(errs, "auth enabled without a secret")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the gorm postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration runner.
func (d *DatabaseConfig) URL() string {
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "require"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, ssl,
	)
}
