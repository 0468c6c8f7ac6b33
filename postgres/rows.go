package postgres

import "github.com/jackc/pgx/v5"

// pgxRows adapts pgx.Rows to pgtask.Rows so the Connector interface
// never leaks pgx types to callers.
type pgxRows struct {
	rows pgx.Rows
}

func wrapRows(rows pgx.Rows) *pgxRows {
	return &pgxRows{rows: rows}
}

func (r *pgxRows) Next() bool { return r.rows.Next() }

func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }

func (r *pgxRows) Err() error { return r.rows.Err() }

func (r *pgxRows) Close() { r.rows.Close() }
