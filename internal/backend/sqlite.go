package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// identRe matches safe SQL identifiers. Table and column names arrive
// from the model, so they are validated rather than interpolated blind.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqliteBackend wraps one SQLite database file.
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLite creates the SQL engine backend over the database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLite(name, path string, logger *slog.Logger) (*Builtin, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The kv tools need their table before the first call.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_store (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate kv_store: %w", err)
	}

	be := &sqliteBackend{db: db}

	tools := []Tool{
		{
			Name:        "sqlite_set",
			Description: "Set a key-value pair in the SQLite database",
			InputSchema: objectSchema(map[string]any{
				"key":   prop("string", "Key to set"),
				"value": prop("string", "Value to store"),
			}, "key", "value"),
			Handler: be.kvSet,
		},
		{
			Name:        "sqlite_get",
			Description: "Get a value from the SQLite database by key",
			InputSchema: objectSchema(map[string]any{
				"key": prop("string", "Key to get"),
			}, "key"),
			Handler: be.kvGet,
		},
		{
			Name:        "sqlite_delete",
			Description: "Delete a key-value pair from the SQLite database",
			InputSchema: objectSchema(map[string]any{
				"key": prop("string", "Key to delete"),
			}, "key"),
			Handler: be.kvDelete,
		},
		{
			Name:        "sqlite_execute",
			Description: "Execute a SQL statement (INSERT, UPDATE, DELETE, DDL)",
			InputSchema: objectSchema(map[string]any{
				"query": prop("string", "SQL statement to execute"),
			}, "query"),
			Handler: be.execute,
		},
		{
			Name:        "sqlite_query",
			Description: "Execute a SQL query and return the matching rows",
			InputSchema: objectSchema(map[string]any{
				"query": prop("string", "SQL query to execute"),
			}, "query"),
			Handler: be.query,
		},
		{
			Name:        "sqlite_create_table",
			Description: "Create a new table from a list of column definitions",
			InputSchema: objectSchema(map[string]any{
				"name": prop("string", "Name of the table to create"),
				"columns": map[string]any{
					"type":        "array",
					"description": "Column definitions: name, type (INTEGER, TEXT, REAL, BLOB), and optional primary_key/not_null/unique flags",
					"items":       map[string]any{"type": "object"},
				},
			}, "name", "columns"),
			Handler: be.createTable,
		},
		{
			Name:        "sqlite_drop_table",
			Description: "Drop a table",
			InputSchema: objectSchema(map[string]any{
				"name": prop("string", "Name of the table to drop"),
			}, "name"),
			Handler: be.dropTable,
		},
		{
			Name:        "sqlite_list_tables",
			Description: "List all tables in the database",
			InputSchema: objectSchema(map[string]any{}),
			Handler:     be.listTables,
		},
	}

	resources := []server.ResourceDescriptor{
		{Pattern: "sqlite://tables", Description: "Tables in the SQLite database"},
	}

	return newBuiltin(name, logger, tools, resources, db.Close), nil
}

func (be *sqliteBackend) kvSet(ctx context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, "value")
	if err != nil {
		return nil, err
	}

	if _, err := be.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_store (key, value) VALUES (?, ?)`, key, value); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "set key")
	}

	return map[string]any{"success": true}, nil
}

func (be *sqliteBackend) kvGet(ctx context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}

	var value string
	err = be.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return map[string]any{"value": "", "found": false}, nil
	case err != nil:
		return nil, proto.WrapError(proto.KindExecution, err, "get key")
	}

	return map[string]any{"value": value, "found": true}, nil
}

func (be *sqliteBackend) kvDelete(ctx context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}

	res, err := be.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "delete key")
	}

	deleted, _ := res.RowsAffected()
	return map[string]any{"success": true, "deleted": deleted}, nil
}

func (be *sqliteBackend) execute(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}

	res, err := be.db.ExecContext(ctx, query)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "execute statement")
	}

	affected, _ := res.RowsAffected()
	return map[string]any{"success": true, "rows_affected": affected}, nil
}

func (be *sqliteBackend) query(ctx context.Context, args map[string]any) (any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}

	rows, err := be.db.QueryContext(ctx, query)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "run query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "read columns")
	}

	var collected [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, proto.WrapError(proto.KindExecution, err, "scan row")
		}
		for i, v := range values {
			// The driver hands TEXT back as []byte; models want strings.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		collected = append(collected, values)
	}
	if err := rows.Err(); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "iterate rows")
	}

	return map[string]any{
		"success": true,
		"rows":    fmtRows(columns, collected),
		"count":   len(collected),
	}, nil
}

func (be *sqliteBackend) createTable(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	if !identRe.MatchString(name) {
		return nil, proto.NewError(proto.KindArgument, "invalid table name %q", name)
	}

	rawColumns, ok := args["columns"].([]any)
	if !ok || len(rawColumns) == 0 {
		return nil, proto.NewError(proto.KindArgument, "parameter \"columns\" must be a non-empty array")
	}

	defs := make([]string, 0, len(rawColumns))
	for i, raw := range rawColumns {
		col, ok := raw.(map[string]any)
		if !ok {
			return nil, proto.NewError(proto.KindArgument, "column %d must be an object", i)
		}
		def, err := columnDef(col)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
	if _, err := be.db.ExecContext(ctx, stmt); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "create table")
	}

	return map[string]any{"success": true}, nil
}

// columnDef renders one validated column definition.
func columnDef(col map[string]any) (string, error) {
	name, err := stringArg(col, "name")
	if err != nil {
		return "", err
	}
	typ, err := stringArg(col, "type")
	if err != nil {
		return "", err
	}
	if !identRe.MatchString(name) {
		return "", proto.NewError(proto.KindArgument, "invalid column name %q", name)
	}

	switch strings.ToUpper(typ) {
	case "INTEGER", "TEXT", "REAL", "BLOB", "NUMERIC":
	default:
		return "", proto.NewError(proto.KindArgument, "invalid column type %q", typ)
	}

	def := name + " " + strings.ToUpper(typ)
	if b, _ := col["primary_key"].(bool); b {
		def += " PRIMARY KEY"
	}
	if b, _ := col["not_null"].(bool); b {
		def += " NOT NULL"
	}
	if b, _ := col["unique"].(bool); b {
		def += " UNIQUE"
	}
	return def, nil
}

func (be *sqliteBackend) dropTable(ctx context.Context, args map[string]any) (any, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return nil, err
	}
	if !identRe.MatchString(name) {
		return nil, proto.NewError(proto.KindArgument, "invalid table name %q", name)
	}

	if _, err := be.db.ExecContext(ctx, "DROP TABLE "+name); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "drop table")
	}

	return map[string]any{"success": true}, nil
}

func (be *sqliteBackend) listTables(ctx context.Context, _ map[string]any) (any, error) {
	// kv_store is the backend's own storage, not a user table.
	rows, err := be.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'kv_store' ORDER BY name`)
	if err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, proto.WrapError(proto.KindExecution, err, "scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, proto.WrapError(proto.KindExecution, err, "iterate tables")
	}

	if tables == nil {
		tables = []string{}
	}
	return map[string]any{"tables": tables}, nil
}
