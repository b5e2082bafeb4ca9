package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplyMigrations runs every *.sql file in dir in lexical order. The files
// are written to be re-runnable, so applying them on each start is safe.
func ApplyMigrations(ctx context.Context, db *pgxpool.Pool, dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	applied := make([]string, 0, len(files))
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("failed to read migration %s: %w", f, err)
		}
		// no arguments, so pgx sends it over the simple protocol and
		// multi-statement files work
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return applied, fmt.Errorf("failed to apply migration %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}
