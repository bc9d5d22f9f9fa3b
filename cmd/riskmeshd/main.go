// riskmeshd runs the multi-agent coordination node.
//
// Usage:
//
//	riskmeshd serve                       # start the node
//	riskmeshd serve --config config.yaml  # with an explicit config file
//	riskmeshd migrate up                  # apply schema migrations
//	riskmeshd migrate status              # show migration status
//	riskmeshd health                      # probe a running node
//	riskmeshd version                     # print build information
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/riskmesh/riskmesh/config"
)

// Build metadata, injected with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runHealthCheck(args []string) {
	fs := newFlagSet("health")
	addr := fs.String("addr", "http://localhost:9090", "Node address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("riskmeshd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`riskmeshd - multi-agent coordination node

Usage:
  riskmeshd <command> [options]

Commands:
  serve     Start the coordination node
  migrate   Artifact schema migration commands
  health    Probe a running node's /healthz
  version   Show build information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --pipeline <path> Path to a pipeline definition file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current schema version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set schema version
  migrate reset     Rollback all migrations

Examples:
  riskmeshd serve
  riskmeshd serve --config /etc/riskmesh/config.yaml
  riskmeshd migrate up
  riskmeshd health --addr http://localhost:9090`)
}

// initLogger builds the zap logger from configuration, falling back to
// production defaults when the configuration cannot be built.
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var buildOpts []zap.Option
	if cfg.EnableCaller {
		buildOpts = append(buildOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		buildOpts = append(buildOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(buildOpts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
