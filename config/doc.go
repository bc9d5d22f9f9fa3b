// Package config provides configuration management for the riskmesh core.
//
// Configuration is resolved with the precedence defaults -> YAML file ->
// environment variables (RISKMESH_* by default). The loaded Config carries
// every tunable the core consumes: heartbeat and sweep intervals, retry and
// breaker policy, artifact backend selection, logging, and telemetry.
package config
