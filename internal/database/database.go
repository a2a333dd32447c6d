// Package database wraps a DuckDB connection and provides repositories for
// the relational read-side of the system: engine variants, discovered
// engine models, segments, analysis results, global settings, and a
// listing-only mirror of jobs. The durable, transactional record of a job's
// work-items lives in internal/jobstore (Badger); this package exists for
// indexed filtering and reporting queries that a pure KV store does not
// serve well.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/logging"
)

// DB wraps the DuckDB connection.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the database file, creating its parent directory and schema if
// necessary.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return db, nil
}

// Conn returns the underlying SQL connection for packages that need
// direct access (none currently do; kept for parity with the repository
// pattern used elsewhere in the corpus).
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) initialize() error {
	if err := db.createTables(); err != nil {
		return err
	}
	return db.createIndexes()
}

// Checkpoint forces a WAL checkpoint, used before Close to avoid WAL replay
// surprises on next startup.
func (db *DB) Checkpoint(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	_, err := db.conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

// Close flushes the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("checkpoint before close failed")
	}
	return db.conn.Close()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}
