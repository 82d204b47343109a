package main

// ---------------------------------------------------------------------------
// cmd_query.go — inspect a product SQLite database
// ---------------------------------------------------------------------------

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/1sec-project/1sec-qa/internal/dbquery"
)

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	dbPath := fs.String("db", "", "Database file (default: product.cve_database)")
	count := fs.String("count", "", "Print the row count of TABLE")
	sqlQuery := fs.String("sql", "", "Run a query and print its rows")
	tables := fs.Bool("tables", false, "List tables")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	cfg, logger := loadRuntime(*configPath, *logLevel)
	path := *dbPath
	if path == "" {
		path = cfg.Product.CVEDatabase
	}
	if _, err := os.Stat(path); err != nil {
		errorf("database: %v", err)
	}

	db, err := dbquery.Open(path, cfg.Timeouts, logger)
	if err != nil {
		errorf("%v", err)
	}
	defer db.Close()

	ctx, stop := signalContext()
	defer stop()

	q := query{count: *count, sql: *sqlQuery, tables: *tables}
	if err := runQuery(ctx, db, q, os.Stdout, parseFormat(*format)); err != nil {
		errorf("%v", err)
	}
}

type query struct {
	count  string
	sql    string
	tables bool
}

func runQuery(ctx context.Context, db *dbquery.DB, q query, out io.Writer, format OutputFormat) error {
	switch {
	case q.count != "":
		n, err := db.RowCount(ctx, q.count)
		if err != nil {
			return err
		}
		if format == FormatJSON {
			return writeJSON(out, map[string]interface{}{"table": q.count, "rows": n})
		}
		fmt.Fprintln(out, n)
		return nil

	case q.tables:
		names, err := db.Tables(ctx)
		if err != nil {
			return err
		}
		if format == FormatJSON {
			return writeJSON(out, names)
		}
		tbl := NewTable(out, "TABLE")
		for _, n := range names {
			tbl.AddRow(n)
		}
		tbl.Render()
		return nil

	case q.sql != "":
		rows, err := db.Query(ctx, q.sql)
		if err != nil {
			return err
		}
		if format == FormatJSON {
			return writeJSON(out, rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(out, dim("(no rows)"))
			return nil
		}
		cols := make([]string, 0, len(rows[0]))
		for c := range rows[0] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		tbl := NewTable(out, cols...)
		for _, r := range rows {
			vals := make([]string, len(cols))
			for i, c := range cols {
				vals[i] = cell(r[c])
			}
			tbl.AddRow(vals...)
		}
		tbl.Render()
		return nil
	}
	return fmt.Errorf("one of --count, --sql or --tables is required")
}

func cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
