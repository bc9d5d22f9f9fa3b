// Package migration manages the artifact schema version with
// golang-migrate over embedded SQL files. Postgres is the production
// dialect; sqlite backs tests and single-node deployments. The CLI type
// wraps the Migrator with formatted output for the migrate subcommand.
package migration
