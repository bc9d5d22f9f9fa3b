package migration

import (
	"fmt"

	"github.com/riskmesh/riskmesh/config"
)

// NewMigratorFromConfig builds a postgres migrator from the artifact
// database section of the application configuration.
func NewMigratorFromConfig(cfg *config.Config) (*SchemaMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("migration: config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Artifact.Database)
}

// NewMigratorFromDatabaseConfig builds a postgres migrator from the
// database connection settings.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*SchemaMigrator, error) {
	return NewMigrator(&Config{
		DatabaseType: DatabaseTypePostgres,
		DatabaseURL:  dbCfg.URL(),
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL builds a migrator for an explicit dialect and URL,
// the form the migrate CLI subcommand accepts.
func NewMigratorFromURL(dbType, dbURL string) (*SchemaMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
