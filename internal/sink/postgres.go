package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/wsclient/internal/ws"
)

const reportsSchema = `
	CREATE TABLE IF NOT EXISTS ws_error_reports (
		id            BIGSERIAL PRIMARY KEY,
		reported_at   TIMESTAMPTZ NOT NULL,
		kind          TEXT NOT NULL,
		op            TEXT NOT NULL,
		message       TEXT NOT NULL,
		host          TEXT NOT NULL,
		conn_id       TEXT NOT NULL DEFAULT '',
		last_sent     TEXT NOT NULL DEFAULT '',
		last_received TEXT NOT NULL DEFAULT '',
		causes        TEXT[] NOT NULL DEFAULT '{}',
		stack         TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS ws_error_reports_reported_at_idx ON ws_error_reports (reported_at DESC)`

// ReportStore persists error reports in PostgreSQL
type ReportStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// OpenReportStore connects to dsn and verifies the connection
func OpenReportStore(ctx context.Context, dsn string, timeout time.Duration) (*ReportStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewReportStore(db, timeout), nil
}

// NewReportStore wraps an open database
func NewReportStore(db *sqlx.DB, timeout time.Duration) *ReportStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReportStore{db: db, timeout: timeout}
}

// EnsureSchema creates the reports table if it does not exist
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, reportsSchema); err != nil {
		return fmt.Errorf("failed to create reports schema: %w", err)
	}
	return nil
}

// reportRow maps a report onto ws_error_reports; causes is a TEXT[] column
type reportRow struct {
	ws.ErrorReport
	Causes pq.StringArray `db:"causes"`
}

// WriteReport inserts r
func (s *ReportStore) WriteReport(r *ws.ErrorReport) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	row := reportRow{ErrorReport: *r, Causes: pq.StringArray(r.Causes)}
	if row.Causes == nil {
		row.Causes = pq.StringArray{}
	}

	query := `
		INSERT INTO ws_error_reports
			(reported_at, kind, op, message, host, conn_id, last_sent, last_received, causes, stack)
		VALUES
			(:reported_at, :kind, :op, :message, :host, :conn_id, :last_sent, :last_received, :causes, :stack)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to insert error report: %w", err)
	}
	return nil
}

// Recent returns up to limit reports, newest first
func (s *ReportStore) Recent(ctx context.Context, limit int) ([]ws.ErrorReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT reported_at, kind, op, message, host, conn_id, last_sent, last_received, causes, stack
		FROM ws_error_reports
		ORDER BY reported_at DESC
		LIMIT $1`

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query error reports: %w", err)
	}

	reports := make([]ws.ErrorReport, 0, len(rows))
	for _, row := range rows {
		r := row.ErrorReport
		r.Causes = []string(row.Causes)
		reports = append(reports, r)
	}
	return reports, nil
}

// Close closes the database
func (s *ReportStore) Close() error {
	return s.db.Close()
}
