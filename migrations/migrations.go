// Package migrations embeds the schema for users, filter groups and subscriptions.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// NewProvider returns a goose provider for the embedded migrations on a SQLite database.
func NewProvider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, FS)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return p, nil
}

// Run applies all pending migrations to the given SQLite database.
func Run(db *sql.DB) error {
	p, err := NewProvider(db)
	if err != nil {
		return err
	}
	if _, err := p.Up(context.Background()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Commands lists the commands understood by Apply.
var Commands = []string{"up", "up-one", "down", "status", "version", "reset"}

// Apply runs one migration command and reports the outcome to w.
func Apply(ctx context.Context, db *sql.DB, command string, w io.Writer) error {
	p, err := NewProvider(db)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		if len(results) == 0 {
			fmt.Fprintln(w, "no migrations to apply")
		}
		for _, r := range results {
			writeResult(w, r)
		}
	case "up-one":
		r, err := p.UpByOne(ctx)
		if err != nil {
			return fmt.Errorf("up-one: %w", err)
		}
		writeResult(w, r)
	case "down":
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		writeResult(w, r)
	case "reset":
		results, err := p.DownTo(ctx, 0)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		for _, r := range results {
			writeResult(w, r)
		}
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%-24s %s\n", applied, s.Source.Path)
		}
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		fmt.Fprintf(w, "version %d\n", v)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	return nil
}

func writeResult(w io.Writer, r *goose.MigrationResult) {
	if r == nil || r.Source == nil {
		return
	}
	fmt.Fprintln(w, r.String())
}
