package run

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rulecast/internal/emit"
	"rulecast/internal/logging"
	"rulecast/internal/schema"
)

// sqliteRunner loads the blanked rows into an in-memory database and executes
// the emitted conformance query. The runner owns the records table: raw
// columns only, created from the rulebook, so the query's CTE chain can add
// the calculated columns level by level.
type sqliteRunner struct{}

// NewSQLite returns the runner for the sqlite target.
func NewSQLite() Runner { return sqliteRunner{} }

func (sqliteRunner) Target() string { return emit.TargetSQLite }

func (sqliteRunner) Run(ctx context.Context, prog *emit.Program, rb *schema.Rulebook, blanked schema.Table) (schema.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryRun, "sqlite run")

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	defer db.Close()
	// an in-memory database lives on a single connection
	db.SetMaxOpenConns(1)

	raws := rb.RawFields()
	cols := make([]string, len(raws))
	names := make([]string, len(raws))
	marks := make([]string, len(raws))
	for i, f := range raws {
		cols[i] = emit.SQLIdent(f.Name) + " " + emit.SQLColumnType(f.Result)
		names[i] = emit.SQLIdent(f.Name)
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE records (%s)", strings.Join(cols, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	insert, err := db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()
	for i, rec := range blanked {
		args := make([]interface{}, len(raws))
		for j, f := range raws {
			args[j] = sqlArg(rec.Get(f.Name))
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	rows, err := db.QueryContext(ctx, prog.Source)
	if err != nil {
		return nil, fmt.Errorf("conformance query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	kinds := make([]schema.ResultKind, len(columns))
	for i, col := range columns {
		f, ok := rb.Field(col)
		if !ok {
			return nil, fmt.Errorf("query returned unknown column %q", col)
		}
		kinds[i] = f.Result
	}

	var out schema.Table
	for rows.Next() {
		vals := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		rec := make(schema.Record, len(columns))
		for i, col := range columns {
			v, err := cellFromSQL(kinds[i], vals[i])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			rec[col] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("result iteration failed: %w", err)
	}

	timer.Stop(zap.Int("records", len(out)))
	return out, nil
}

// sqlArg maps a cell to its driver value: booleans travel as 0/1, nulls as
// nil.
func sqlArg(v schema.Value) interface{} {
	switch v.Kind {
	case schema.KindBool:
		if v.Bool {
			return int64(1)
		}
		return int64(0)
	case schema.KindNumber:
		return v.Num
	case schema.KindString:
		return v.Str
	}
	return nil
}

// cellFromSQL maps a scanned column back to a cell of the declared kind.
// SQLite's dynamic typing means integers can surface where REAL was declared
// and either integers or booleans where a boolean expression was computed.
func cellFromSQL(kind schema.ResultKind, raw interface{}) (schema.Value, error) {
	if raw == nil {
		return schema.NullValue(), nil
	}
	switch kind {
	case schema.ResultBoolean:
		switch n := raw.(type) {
		case int64:
			return schema.BoolValue(n != 0), nil
		case bool:
			return schema.BoolValue(n), nil
		case float64:
			return schema.BoolValue(n != 0), nil
		}
	case schema.ResultNumber:
		switch n := raw.(type) {
		case int64:
			return schema.NumberValue(float64(n)), nil
		case float64:
			return schema.NumberValue(n), nil
		}
	case schema.ResultString:
		switch s := raw.(type) {
		case string:
			return schema.StringValue(s), nil
		case []byte:
			return schema.StringValue(string(s)), nil
		}
	}
	return schema.Value{}, fmt.Errorf("unexpected %T for a %s cell", raw, kind)
}
