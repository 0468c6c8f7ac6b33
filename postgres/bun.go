package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// OpenBun bridges a pgx connection string into a *bun.DB via pgx's
// database/sql adapter, so the query-builder side of Store (ListJobs,
// CancelJob, DeleteFinishedJobs, ListEvents, ReapStale, Heartbeat) runs
// through bun/pgdialect exactly as it would against any other
// bun-supported database, while FetchOne/Defer/Finish/DeferPeriodic go
// through the raw pgx Connector instead.
func OpenBun(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
