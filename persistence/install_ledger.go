package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// InstallOutcome classifies how an install attempt ended.
type InstallOutcome string

const (
	InstallSucceeded InstallOutcome = "succeeded"
	InstallFailed    InstallOutcome = "failed"
	InstallRejected  InstallOutcome = "integrity_failed"
)

// InstallRecord captures one attempt to install a language server artifact.
type InstallRecord struct {
	ID        string
	Server    string
	Version   string
	Platform  string
	URL       string
	SHA256    string
	Outcome   InstallOutcome
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// InstallLedger persists install attempts in a SQLite database.
type InstallLedger struct {
	db *sql.DB
}

// NewInstallLedger opens/creates the database at dbPath.
func NewInstallLedger(dbPath string) (*InstallLedger, error) {
	if dbPath == "" {
		return nil, errors.New("ledger path required")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	ledger := &InstallLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

func (l *InstallLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS installs (
		id TEXT PRIMARY KEY,
		server TEXT NOT NULL,
		version TEXT NOT NULL,
		platform TEXT NOT NULL,
		url TEXT,
		sha256 TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS installs_server_started ON installs(server, started_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (l *InstallLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends an install attempt. An empty ID is filled in.
func (l *InstallLedger) Record(ctx context.Context, rec InstallRecord) error {
	if rec.Server == "" {
		return errors.New("install record server required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO installs (id, server, version, platform, url, sha256, outcome, error, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Server, rec.Version, rec.Platform, rec.URL, rec.SHA256,
		string(rec.Outcome), rec.Error, rec.StartedAt.UTC(), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record install: %w", err)
	}
	return nil
}

// List returns the most recent records first. An empty server lists all
// servers; limit <= 0 means no limit.
func (l *InstallLedger) List(ctx context.Context, server string, limit int) ([]InstallRecord, error) {
	query := `SELECT id, server, version, platform, url, sha256, outcome, error, started_at, duration_ms FROM installs`
	var args []any
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstallRecord
	for rows.Next() {
		var (
			rec        InstallRecord
			outcome    string
			url, sum   sql.NullString
			errText    sql.NullString
			durationMS sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Server, &rec.Version, &rec.Platform, &url, &sum,
			&outcome, &errText, &rec.StartedAt, &durationMS); err != nil {
			return nil, err
		}
		rec.URL = url.String
		rec.SHA256 = sum.String
		rec.Outcome = InstallOutcome(outcome)
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
