package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI wraps a Migrator with formatted terminal output for the migrate
// subcommand.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI builds a CLI writing to stdout.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput redirects CLI messages, for tests.
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp applies all pending migrations.
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.output, "Running migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Migrations complete. Current version: %d\n", info.CurrentVersion)
	return nil
}

// RunDown rolls back the last migration.
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Rollback complete. Current version: %d\n", info.CurrentVersion)
	return nil
}

// RunDownAll rolls back every migration.
func (c *CLI) RunDownAll(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back all migrations...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	fmt.Fprintln(c.output, "All migrations rolled back.")
	return nil
}

// RunGoto migrates to an exact version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.output, "Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintf(c.output, "Migration complete. Current version: %d\n", version)
	return nil
}

// RunForce records a version without running migrations.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	fmt.Fprintf(c.output, "Forcing version to %d...\n", version)
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion prints the current schema version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.output, "Current version: %d", version)
	if dirty {
		fmt.Fprint(c.output, " (dirty)")
	}
	fmt.Fprintln(c.output)
	return nil
}

// RunStatus prints a table of every migration and its state.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	fmt.Fprintln(w, "-------\t----\t------")
	for _, s := range statuses {
		status := "Pending"
		if s.Applied {
			status = "Applied"
		}
		if s.Dirty {
			status = "Dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	w.Flush()

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "Total: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}
