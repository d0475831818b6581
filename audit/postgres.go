package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/keelhq/llm-warden/logger"
)

// PostgresConfig contains audit trail database settings.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresSink writes entries to a durable audit trail table.
type PostgresSink struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresSink connects, configures the pool, and verifies reachability.
func NewPostgresSink(cfg PostgresConfig, log *logger.Logger) (*PostgresSink, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	sink := &PostgresSink{
		db:     db,
		logger: log.WithComponent("audit.postgres"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	sink.logger.Info("audit trail store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return sink, nil
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id             TEXT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			service        TEXT NOT NULL,
			environment    TEXT NOT NULL DEFAULT '',
			user_id        TEXT NOT NULL DEFAULT '',
			session_id     TEXT NOT NULL DEFAULT '',
			request_id     TEXT NOT NULL DEFAULT '',
			trace_id       TEXT NOT NULL DEFAULT '',
			action         TEXT NOT NULL,
			level          TEXT NOT NULL,
			message        TEXT NOT NULL DEFAULT '',
			metadata       JSONB,
			error          TEXT NOT NULL DEFAULT '',
			integrity_hash TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_ts ON audit_entries (ts);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_request ON audit_entries (request_id);`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// Write inserts one entry. The table is append-only; there is no update or
// delete path.
func (s *PostgresSink) Write(ctx context.Context, entry *Entry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal entry metadata: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_entries
			(id, ts, service, environment, user_id, session_id, request_id, trace_id,
			 action, level, message, metadata, error, integrity_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.Service, entry.Environment,
		entry.UserID, entry.SessionID, entry.RequestID, entry.TraceID,
		string(entry.Action), string(entry.Level), entry.Message,
		metadata, entry.Error, entry.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides the password portion of a connection URL for
// logging. Keep in sync with maskRedisURL in the budget package.
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	head := url[:at]
	if colon := strings.LastIndex(head, ":"); colon > strings.Index(head, "//")+1 {
		head = head[:colon+1] + "***"
	}
	return head + url[at:]
}
