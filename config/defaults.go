package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Protocol:  DefaultProtocolConfig(),
		Router:    DefaultRouterConfig(),
		Task:      DefaultTaskConfig(),
		Session:   DefaultSessionConfig(),
		Artifact:  DefaultArtifactConfig(),
		Retry:     DefaultRetryConfig(),
		Breaker:   DefaultBreakerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default operational endpoint settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultProtocolConfig returns the default envelope settings.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{
		MaxBinaryBytes: 8 << 20,
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 24 * time.Hour,
		},
	}
}

// DefaultRouterConfig returns the default delivery settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		HeartbeatInterval:    10 * time.Second,
		MissedHeartbeatLimit: 3,
		InboxSize:            64,
		SendTimeout:          5 * time.Second,
		RatePerSecond:        0,
		RateBurst:            1,
	}
}

// DefaultTaskConfig returns the default lifecycle settings.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		DefaultTimeout:  5 * time.Minute,
		SweepInterval:   time.Second,
		RetentionWindow: time.Hour,
		CancelGrace:     5 * time.Second,
	}
}

// DefaultSessionConfig returns the default session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DefaultTTL:    30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// DefaultArtifactConfig returns the in-memory backend by default; production
// deployments select redis or postgres explicitly.
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Backend: "memory",
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "riskmesh",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "riskmesh",
			Name:            "riskmesh",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// DefaultRetryConfig returns the default retry policy settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "riskmesh",
		SampleRate:   0.1,
	}
}
