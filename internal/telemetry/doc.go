// Package telemetry wraps OpenTelemetry SDK initialization: one call sets
// up OTLP export and installs the global trace and meter providers. When
// telemetry is disabled the providers stay noop and nothing connects
// anywhere.
package telemetry
