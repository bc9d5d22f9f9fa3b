package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/riskmesh/riskmesh/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "up":
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDown(ctx)
		})
	case "reset":
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "status":
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "goto":
		version, rest := takeVersionArg(rest, "goto")
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunGoto(ctx, uint(version))
		})
	case "force":
		version, rest := takeVersionArg(rest, "force")
		migrateRun(rest, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunForce(ctx, version)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}
}

// takeVersionArg pops the leading numeric argument for goto/force.
func takeVersionArg(args []string, sub string) (int, []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "migrate %s requires a version argument\n", sub)
		os.Exit(1)
	}
	version, err := strconv.Atoi(args[0])
	if err != nil || version < 0 {
		fmt.Fprintf(os.Stderr, "invalid version %q\n", args[0])
		os.Exit(1)
	}
	return version, args[1:]
}

// migrateRun builds the migrator from flags and executes one CLI action.
func migrateRun(args []string, action func(context.Context, *migration.CLI) error) {
	fs := newFlagSet("migrate")
	migrator, err := createMigrator(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := action(context.Background(), migration.NewCLI(migrator)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// createMigrator resolves the target database from flags, falling back to
// the artifact database section of the config file.
func createMigrator(fs *flag.FlagSet, args []string) (*migration.SchemaMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Artifact.Database)
}

func printMigrateUsage() {
	fmt.Println(`riskmeshd migrate - artifact schema migrations

Usage:
  riskmeshd migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  reset     Rollback all migrations
  status    Show migration status
  version   Show current schema version
  goto <v>  Migrate to a specific version
  force <v> Force set schema version (use with caution)

Options:
  --config <path>   Path to configuration file (YAML)
  --db-type <type>  Database type: postgres, sqlite (default: from config)
  --db-url <url>    Database connection URL (default: from config)

Examples:
  riskmeshd migrate up
  riskmeshd migrate status --config /etc/riskmesh/config.yaml
  riskmeshd migrate up --db-type sqlite --db-url "file:riskmesh.db?mode=rwc"`)
}
