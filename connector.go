package pgtask

import "context"

// Rows is the minimal result-set cursor a Connector hands back from
// Execute. It mirrors the shape of pgx.Rows/database/sql.Rows closely
// enough that either can back it, without leaking either driver into
// callers.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Notification is a single LISTEN/NOTIFY payload delivered on a channel a
// caller subscribed to via Connector.Listen.
type Notification struct {
	Channel string
	Payload string
}

// Connector owns all database connections and carries SQL and
// notifications between the Store/Worker layers and Postgres.
//
// Execute must be safe to call from multiple goroutines concurrently; a
// Connector serializes onto its pool internally. Listen holds a
// persistent connection outside the pool for LISTEN (the postgres
// implementation opens one such connection per Listen call, so one per
// channel; channels do not share a connection); on disconnect the
// Connector reconnects with bounded exponential backoff and re-issues
// LISTEN. Missed notifications during a reconnect are tolerated —
// callers must always be able to fall back to polling.
//
// Connector never interprets SQL errors; it propagates them as-is.
// Execute does not retry: connection errors, transient or permanent,
// are returned to the caller from the call that hit them. The only
// connectivity failure handled internally is a lost LISTEN connection,
// which is re-established as described above.
type Connector interface {
	// Execute runs a parameterized statement and returns the full
	// result set. args are passed positionally as $1, $2, ....
	Execute(ctx context.Context, query string, args ...any) (Rows, error)

	// Listen subscribes to NOTIFY on channel; every notification
	// received on this channel is delivered to sink. Notifications on
	// channels passed to other Listen calls go to the sinks given with
	// those calls. Listen returns once the initial LISTEN has been
	// issued; delivery continues in the background until ctx is
	// canceled.
	Listen(ctx context.Context, channel string, sink chan<- Notification) error

	// Close releases the pooled connections used by Execute. LISTEN
	// connections are not closed by Close; each one is closed when the
	// ctx passed to its Listen call is canceled. After Close, Execute
	// and Listen return ErrConnectorClosed.
	Close() error
}
