// Package dbquery inspects the product's SQLite databases.
package dbquery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrInvalidIdentifier is returned for table or column names that are not
// plain identifiers.
var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DB wraps one SQLite database file.
type DB struct {
	path   string
	db     *sql.DB
	policy core.TimeoutPolicy
	logger zerolog.Logger
}

// Open opens the database at path. The file is created if missing.
func Open(path string, policy core.TimeoutPolicy, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &DB{
		path:   path,
		db:     db,
		policy: policy,
		logger: logger.With().Str("component", "dbquery").Str("db", path).Logger(),
	}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Tables lists user tables by name.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RowCount returns the number of rows in table.
func (d *DB) RowCount(ctx context.Context, table string) (int64, error) {
	if !identRe.MatchString(table) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	var n int64
	err := d.withBusyRetry(ctx, func() error {
		return d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// Scalar runs a query returning a single value.
func (d *DB) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	var v any
	err := d.withBusyRetry(ctx, func() error {
		return d.db.QueryRowContext(ctx, query, args...).Scan(&v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ValueExists reports whether any row of table has column equal to value.
func (d *DB) ValueExists(ctx context.Context, table, column string, value any) (bool, error) {
	for _, id := range []string{table, column} {
		if !identRe.MatchString(id) {
			return false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
		}
	}
	var exists int
	err := d.withBusyRetry(ctx, func() error {
		return d.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM "%s" WHERE "%s" = ?)`, table, column), value).Scan(&exists)
	})
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// Query returns every row of a query as column-name maps, for display.
func (d *DB) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs stmts in one transaction, retrying the whole batch while the
// database is busy.
func (d *DB) Exec(ctx context.Context, stmts ...string) error {
	return d.withBusyRetry(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing %q: %w", abbreviate(st), err)
			}
		}
		return tx.Commit()
	})
}

// withBusyRetry retries fn with policy backoff for as long as it fails with
// SQLITE_BUSY or SQLITE_LOCKED, up to the "db_busy" timeout.
func (d *DB) withBusyRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(d.policy.Timeout("db_busy"))
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		wait := d.policy.Backoff(attempt)
		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("database %s still busy after %d attempts: %w", d.path, attempt+1, err)
		}
		d.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("database busy, retrying")
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// IsBusy reports whether err is SQLite's busy or locked condition.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
