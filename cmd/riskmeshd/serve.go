package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	riskmesh "github.com/riskmesh/riskmesh"
	"github.com/riskmesh/riskmesh/config"
	"github.com/riskmesh/riskmesh/internal/server"
	"github.com/riskmesh/riskmesh/internal/telemetry"
	"github.com/riskmesh/riskmesh/workflow"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func loadConfig(configPath string) (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(args []string) {
	fs := newFlagSet("serve")
	configPath := fs.String("config", "", "Path to config file")
	pipelinePath := fs.String("pipeline", "", "Path to a pipeline definition file (YAML)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting riskmeshd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	meshOpts := []riskmesh.Option{riskmesh.WithLogger(logger)}
	if *pipelinePath != "" {
		p, err := workflow.LoadPipeline(*pipelinePath)
		if err != nil {
			logger.Fatal("failed to load pipeline definition", zap.Error(err))
		}
		logger.Info("using pipeline definition",
			zap.String("pipeline", p.Name),
			zap.Int("stages", len(p.Stages)),
		)
		meshOpts = append(meshOpts, riskmesh.WithPipeline(p))
	}

	mesh, err := riskmesh.New(cfg, meshOpts...)
	if err != nil {
		logger.Fatal("failed to assemble mesh", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mesh.Start(ctx); err != nil {
		logger.Fatal("failed to start mesh", zap.Error(err))
	}

	ops := server.NewManager(
		server.OpsMux(map[string]server.Checker{
			"artifact_store": mesh.Artifacts.Ping,
		}),
		server.Config{
			Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		logger,
	)
	if err := ops.Start(); err != nil {
		logger.Fatal("failed to start operational endpoint", zap.Error(err))
	}

	ops.WaitForShutdown()
	cancel()

	if err := mesh.Stop(context.Background()); err != nil {
		logger.Error("mesh shutdown error", zap.Error(err))
	}
	if err := otelProviders.Shutdown(context.Background()); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("riskmeshd stopped")
}
