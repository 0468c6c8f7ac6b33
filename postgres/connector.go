package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vgarvardt/backoff"

	"github.com/hollowroad/pgtask"
)

// Connector is the pgx-backed implementation of pgtask.Connector. Execute
// runs through a pooled connection and is not retried; Listen dedicates
// one long-lived connection to each call (each channel) and reconnects
// it with bounded exponential backoff on failure.
type Connector struct {
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConnector wraps an already-configured pgxpool.Pool. dsn is kept
// only so Listen can open its own dedicated connection outside the
// pool (LISTEN ties up a connection for its lifetime, which a pool
// should never hand out for ordinary Execute calls).
func NewConnector(pool *pgxpool.Pool, dsn string, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{pool: pool, dsn: dsn, log: log}
}

// Execute implements pgtask.Connector.
func (c *Connector) Execute(ctx context.Context, query string, args ...any) (pgtask.Rows, error) {
	if c.isClosed() {
		return nil, pgtask.ErrConnectorClosed
	}
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return wrapRows(rows), nil
}

// Listen implements pgtask.Connector. It opens one dedicated connection
// per call to Listen, issues LISTEN on channel, and forwards every
// notification received on that connection to sink. On disconnect it
// reconnects with exponential backoff and reissues LISTEN; the caller
// never observes the reconnect beyond a gap in delivery, which is
// always safe because sub-workers fall back to polling.
func (c *Connector) Listen(ctx context.Context, channel string, sink chan<- pgtask.Notification) error {
	if c.isClosed() {
		return pgtask.ErrConnectorClosed
	}
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		conn.Close(ctx)
		return err
	}
	go c.listenLoop(ctx, conn, channel, sink)
	return nil
}

func (c *Connector) listenLoop(ctx context.Context, conn *pgx.Conn, channel string, sink chan<- pgtask.Notification) {
	bo := backoff.NewExponentialBackOff()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			conn.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			conn, err = c.reconnectWithBackoff(ctx, channel, bo)
			if err != nil {
				// ctx was canceled while retrying.
				return
			}
			bo.Reset()
			continue
		}
		bo.Reset()
		select {
		case sink <- pgtask.Notification{Channel: n.Channel, Payload: n.Payload}:
		case <-ctx.Done():
			conn.Close(context.Background())
			return
		}
	}
}

// reconnectWithBackoff keeps retrying reconnect, waiting bo's schedule
// between attempts, until it succeeds or ctx is canceled. A failed
// attempt must never be returned to the caller with a nil *pgx.Conn — the
// caller always dereferences the returned connection next.
func (c *Connector) reconnectWithBackoff(ctx context.Context, channel string, bo *backoff.ExponentialBackOff) (*pgx.Conn, error) {
	for {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = bo.MaxInterval
		}
		c.log.Warn("listen connection lost, reconnecting", "channel", channel, "wait", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		conn, err := c.reconnect(ctx, channel)
		if err == nil {
			return conn, nil
		}
		c.log.Warn("reconnect attempt failed", "channel", channel, "err", err)
	}
}

func (c *Connector) reconnect(ctx context.Context, channel string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (c *Connector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements pgtask.Connector. It closes the pool only; LISTEN
// connections stay open until the ctx given to their Listen call is
// canceled.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.pool.Close()
	return nil
}

func quoteIdent(s string) string {
	return pgx.Identifier{s}.Sanitize()
}
