// Package pgclient implements the single-connection Backend Client
// described in spec.md section 4.B: connect, stream query results
// under a hard per-query timeout, and destroy.
package pgclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// ErrKind tags the terminal error a query can produce, per the
// taxonomy in spec.md section 7.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrQueryTimeout
	ErrQueryError
	ErrConnect
)

// QueryError is the terminal error value delivered on a query's error
// channel; Kind drives the engine's metric emission and pool handling.
type QueryError struct {
	Kind ErrKind
	Err  error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

// Row is one result row, keyed by column name. Values come back as
// whatever pgx decoded them to (int64, float64, string, time.Time,
// bool, nil, ...).
type Row = map[string]interface{}

// Client wraps a single Postgres connection. It is not safe for
// concurrent use: a new Query may only be issued after the previous
// one's terminal event, per spec.md section 4.B.
type Client struct {
	conn      *pgx.Conn
	connStr   string
	log       zerolog.Logger
	destroyed int32
	mu        sync.Mutex
	hadError  int32
}

// New wraps an already-established *pgx.Conn.
func New(conn *pgx.Conn, connStr string, log zerolog.Logger) *Client {
	return &Client{conn: conn, connStr: connStr, log: log}
}

// Connect establishes a TCP connection and performs the Postgres
// startup handshake. It fails with an ErrConnect-kind *QueryError if
// the transport or handshake fails.
func Connect(ctx context.Context, connStr string, log zerolog.Logger) (*Client, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, &QueryError{Kind: ErrConnect, Err: err}
	}
	return New(conn, connStr, log), nil
}

// normalizeSQL whitespace-normalizes SQL so tracing can match equal
// queries across backends, per spec.md section 4.B.
func normalizeSQL(sql string) string {
	fields := strings.Fields(sql)
	return strings.Join(fields, " ")
}

// Query streams sql's result rows. Exactly one of (rows completed, err
// non-nil) terminates the returned channel exchange: rows is closed
// after the last row (or immediately on error), and err receives at
// most one value.
//
// The wall clock between issuing the query and its terminal event is
// bounded by timeout; exceeding it yields an ErrQueryTimeout QueryError,
// drops any further server-side events, and marks the connection
// "had_error" so the pool will discard rather than release it.
func (c *Client) Query(ctx context.Context, sql string, timeout time.Duration) (<-chan Row, <-chan error) {
	rowsCh := make(chan Row)
	errCh := make(chan error, 1)

	if c.IsDestroyed() {
		close(rowsCh)
		errCh <- &QueryError{Kind: ErrQueryError, Err: errors.New("client destroyed")}
		return rowsCh, errCh
	}

	normalized := normalizeSQL(sql)
	c.log.Debug().Str("sql", normalized).Msg("issuing query")

	qctx, cancel := context.WithTimeout(ctx, timeout)

	go func() {
		defer cancel()
		defer close(rowsCh)

		rows, err := c.conn.Query(qctx, normalized, pgx.QuerySimpleProtocol(true))
		if err != nil {
			c.finishErr(qctx, errCh, err)
			return
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				c.finishErr(qctx, errCh, err)
				return
			}
			row := make(Row, len(fields))
			for i, f := range fields {
				row[string(f.Name)] = vals[i]
			}
			select {
			case rowsCh <- row:
			case <-qctx.Done():
				c.finishErr(qctx, errCh, qctx.Err())
				return
			}
		}
		if err := rows.Err(); err != nil {
			c.finishErr(qctx, errCh, err)
			return
		}
		errCh <- nil
	}()

	return rowsCh, errCh
}

func (c *Client) finishErr(qctx context.Context, errCh chan<- error, err error) {
	kind := ErrQueryError
	if errors.Is(qctx.Err(), context.DeadlineExceeded) {
		kind = ErrQueryTimeout
		atomic.StoreInt32(&c.hadError, 1)
	} else if pgconn.Timeout(err) {
		kind = ErrQueryTimeout
		atomic.StoreInt32(&c.hadError, 1)
	}
	errCh <- &QueryError{Kind: kind, Err: err}
}

// HadError reports whether the most recent query ended in a timeout
// that the pool should treat as connection-breaking (spec.md 4.C:
// "Claimed -> Broken if the connection emitted an error or a query
// timed out").
func (c *Client) HadError() bool {
	return atomic.LoadInt32(&c.hadError) == 1
}

// IsDestroyed reports whether Destroy has been called.
func (c *Client) IsDestroyed() bool {
	return atomic.LoadInt32(&c.destroyed) == 1
}

// Destroy forcibly closes the underlying connection. Safe to call more
// than once, and on a Client with no underlying connection.
func (c *Client) Destroy() {
	if !atomic.CompareAndSwapInt32(&c.destroyed, 0, 1) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	// Best-effort; a hard close does not need a graceful context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.conn.Close(ctx)
}
