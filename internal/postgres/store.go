// Package postgres implements the durable job store on PostgreSQL.
//
// The jobs table is the only coordination mechanism between schedulers,
// scanners, and workers. Claims use FOR UPDATE SKIP LOCKED so concurrent
// pollers never hand out the same job twice, and enqueue relies on a
// partial unique index over live rows for idempotency.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// jobReadyChannel is the LISTEN/NOTIFY channel used to wake pollers as soon
// as new work is enqueued, instead of waiting out the poll interval.
const jobReadyChannel = "jobs_ready"

// Store is a PostgreSQL-backed core.Store. All methods are safe for
// concurrent use; a single Store is shared by the API server, the scanner,
// the scheduler, and every dispatcher worker in the process.
type Store struct {
	pool       *pgxpool.Pool
	wake       chan string
	stopListen context.CancelFunc
}

// New connects to PostgreSQL, applies pending migrations, and starts the
// notification listener. The context bounds connection establishment only.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:       pool,
		wake:       make(chan string, 16),
		stopListen: cancel,
	}
	go s.listenForWake(listenCtx)
	return s, nil
}

// runMigrations applies embedded goose migrations over a database/sql handle.
// pgx's stdlib driver is registered for exactly this path.
func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// WakeC delivers the job type name of freshly enqueued work. The channel is
// best-effort: notifications are dropped when nobody is draining it.
func (s *Store) WakeC() <-chan string {
	return s.wake
}

// listenForWake holds a dedicated connection on the notify channel and
// reconnects after any error until the store is closed.
func (s *Store) listenForWake(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.waitForNotifications(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("job wake listener reconnecting", "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) waitForNotifications(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+jobReadyChannel); err != nil {
		return err
	}
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		select {
		case s.wake <- notification.Payload:
		default:
		}
	}
}

// notifyJobReady nudges pollers waiting on WakeC. Delivery is advisory, so
// failures are logged and swallowed; polling still picks the job up.
func (s *Store) notifyJobReady(ctx context.Context, jobType string) {
	if _, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", jobReadyChannel, jobType); err != nil {
		slog.Debug("notify job ready", "job_type", jobType, "error", err)
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return core.NewStoreUnavailableError("database unreachable: " + err.Error())
	}
	return nil
}

// Close stops the notification listener and releases all pooled connections.
func (s *Store) Close() error {
	s.stopListen()
	s.pool.Close()
	return nil
}

// storeErr wraps a database failure as a retryable engine error.
func storeErr(op string, err error) *core.EngineError {
	return core.NewStoreUnavailableError(op + ": " + err.Error())
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nilIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
