// Package server manages the operational HTTP listener: non-blocking
// start, graceful shutdown on signal or serve error, and the /healthz
// and /metrics endpoints the serve command exposes.
package server
