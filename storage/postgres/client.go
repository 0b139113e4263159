// Package postgres implements the activity journal backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // Registers the postgres:// migration driver.
	_ "github.com/golang-migrate/migrate/v4/source/file"       // Registers the file:// migration source.
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/oasisprotocol/datapool/common"
	"github.com/oasisprotocol/datapool/log"
	"github.com/oasisprotocol/datapool/storage"
)

const (
	moduleName = "postgres"
)

// Client is a client for connecting to PostgreSQL.
type Client struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ storage.Journal = (*Client)(nil)

// pgxLogger routes pgx trace output into the node logger.
type pgxLogger struct {
	logger *log.Logger
}

func (l *pgxLogger) logFuncForLevel(level tracelog.LogLevel) func(string, ...any) {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return l.logger.Debug
	case tracelog.LogLevelInfo:
		return l.logger.Info
	case tracelog.LogLevelWarn:
		return l.logger.Warn
	case tracelog.LogLevelError, tracelog.LogLevelNone:
		return l.logger.Error
	default:
		l.logger.Warn("unknown log level", "unknown_level", level)
		return l.logger.Info
	}
}

// Log implements tracelog.Logger.
func (l *pgxLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	args := make([]any, 0, 2*len(data))
	for k, v := range data {
		args = append(args, k, v)
	}
	l.logFuncForLevel(level)(msg, args...)
}

// NewClient creates a new PostgreSQL client.
func NewClient(connString string, l *log.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// A log line needs to pass both this level and the level of the
	// underlying logger. "Info" logs every statement.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger: &pgxLogger{
			logger: l.WithModule(moduleName).With("db", config.ConnConfig.Database),
		},
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: l.WithModule(moduleName),
	}, nil
}

// RunMigrations brings the database schema up to date.
func RunMigrations(source string, connString string, logger *log.Logger) error {
	m, err := migrate.New(source, connString)
	if err != nil {
		return fmt.Errorf("migrator failed to start: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("failed to close migrator", "source_err", srcErr, "db_err", dbErr)
		}
	}()

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	case err != nil:
		return fmt.Errorf("migrations failed: %w", err)
	default:
		logger.Info("migrations completed")
	}
	return nil
}

// Query submits a new read query to PostgreSQL.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		c.logger.Error("failed to query db",
			"err", err,
			"query_cmd", sql,
			"query_args", args,
		)
		return nil, err
	}
	return rows, nil
}

// QueryRow submits a new read query for a single row to PostgreSQL.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// RecordCommit implements storage.Journal.
func (c *Client) RecordCommit(ctx context.Context, entry storage.CommitEntry) error {
	_, err := c.pool.Exec(ctx, insertCommit,
		int64(entry.Pool),
		entry.BatchID,
		nullIfEmpty(entry.Ref),
		entry.Records,
		entry.Fee.String(),
		string(entry.Status),
		nullIfEmpty(entry.Error),
		entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert commit %s: %w", entry.BatchID, err)
	}
	return nil
}

// RecordDispute implements storage.Journal.
func (c *Client) RecordDispute(ctx context.Context, pool uint64, d common.DisputeRecord) error {
	_, err := c.pool.Exec(ctx, insertDispute,
		int64(pool),
		d.ActionRef,
		d.TransactionRef,
		int64(d.Height),
		d.RaisedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispute for %s: %w", d.TransactionRef, err)
	}
	return nil
}

// RecordWindow implements storage.Journal.
func (c *Client) RecordWindow(ctx context.Context, pool uint64, w common.LedgerWindow) error {
	if _, err := c.pool.Exec(ctx, upsertWindow, int64(pool), int64(w.LastObserved)); err != nil {
		return fmt.Errorf("upsert window: %w", err)
	}
	return nil
}

// LastWindow returns the last window recorded for the pool.
func (c *Client) LastWindow(ctx context.Context, pool uint64) (uint64, error) {
	var last int64
	if err := c.pool.QueryRow(ctx, selectWindow, int64(pool)).Scan(&last); err != nil {
		return 0, err
	}
	return uint64(last), nil
}

// Close implements storage.Journal.
func (c *Client) Close() {
	c.pool.Close()
}

// Wipe removes all journal tables, including the migration bookkeeping.
func (c *Client) Wipe(ctx context.Context) error {
	for _, table := range []string{"commits", "disputes", "windows", "schema_migrations"} {
		c.logger.Info("dropping table", "table", table)
		if _, err := c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", table)); err != nil {
			return err
		}
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
