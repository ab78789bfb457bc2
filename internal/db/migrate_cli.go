package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// ErrUsage is returned by RunMigrateCommand for a malformed command line.
var ErrUsage = errors.New("usage error")

// MigrateCommand runs the 'migrate' subcommand. In is read for the
// confirmation prompt of 'force'.
type MigrateCommand struct {
	Out io.Writer
	In  io.Reader
}

// Run dispatches args[0] against the database at dbPath.
func (c MigrateCommand) Run(args []string, dbPath string) error {
	if len(args) < 1 {
		c.PrintHelp()
		return fmt.Errorf("%w: missing migrate action", ErrUsage)
	}
	action := args[0]
	if action == "help" {
		c.PrintHelp()
		return nil
	}

	migFS, err := MigrationsFS()
	if err != nil {
		return err
	}

	// Open without running migrations; the action decides what to apply.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migFS); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "All migrations applied")
		return c.printVersion(database, migFS)

	case "down":
		if err := database.MigrateDown(migFS); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "Rolled back one migration")
		return c.printVersion(database, migFS)

	case "status":
		status, err := database.GetMigrationStatus(migFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "Current version: %d\n", status.CurrentVersion)
		fmt.Fprintf(c.Out, "Latest available: %d\n", status.LatestVersion)
		fmt.Fprintf(c.Out, "Dirty: %v\n", status.Dirty)
		if status.Dirty {
			fmt.Fprintln(c.Out, "A migration failed mid-execution. Inspect the database, then run: rangefinder migrate force <version>")
		} else if n := status.Pending(); n > 0 {
			fmt.Fprintf(c.Out, "%d migration(s) pending. Run: rangefinder migrate up\n", n)
		}
		return nil

	case "version":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migFS, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "Migrated to version %d\n", v)
		return nil

	case "force":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if !c.confirm(fmt.Sprintf("Force migration version to %d? This is only for recovering from a dirty state. [y/N]: ", v)) {
			fmt.Fprintln(c.Out, "Aborted")
			return nil
		}
		if err := database.MigrateForce(migFS, v); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "Migration version forced to %d\n", v)
		return nil

	default:
		c.PrintHelp()
		return fmt.Errorf("%w: unknown migrate action %q", ErrUsage, action)
	}
}

func versionArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%w: rangefinder migrate %s <version_number>", ErrUsage, args[0])
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid version number %q", ErrUsage, args[1])
	}
	return v, nil
}

func (c MigrateCommand) printVersion(database *DB, migFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c MigrateCommand) confirm(prompt string) bool {
	fmt.Fprint(c.Out, prompt)
	if c.In == nil {
		return false
	}
	line, _ := bufio.NewReader(c.In).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// PrintHelp displays the help message for the migrate command.
func (c MigrateCommand) PrintHelp() {
	fmt.Fprint(c.Out, `Database Migration Commands

Usage: rangefinder migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message

Options:
  --db-path <path>    Path to database file (default: rangefinder.db)
`)
}
