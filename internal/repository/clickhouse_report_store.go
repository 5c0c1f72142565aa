package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgch "SignalDesk/pkg/clickhouse"
	applogger "SignalDesk/pkg/logger"
)

// ReportSchema is the DDL for the backtest archive.
var ReportSchema = []string{`
	CREATE TABLE IF NOT EXISTS backtest_reports (
		target_id   String,
		timeframe   LowCardinality(String),
		start_at    Nullable(DateTime64(3, 'UTC')),
		end_at      Nullable(DateTime64(3, 'UTC')),
		metrics     Map(String, Float64),
		raw         String,
		created_at  DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (target_id, created_at)
	TTL toDateTime(created_at) + INTERVAL 180 DAY`,
}

// CHReportStore implements ReportStore backed by ClickHouse.
type CHReportStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.ReportStore = (*CHReportStore)(nil)

// NewCHReportStore ensures the schema and returns the store.
func NewCHReportStore(ctx context.Context, ch *pkgch.Client) (*CHReportStore, error) {
	if err := ch.InitSchema(ctx, ReportSchema); err != nil {
		return nil, err
	}
	return &CHReportStore{db: ch.DB()}, nil
}

// SetLogger injects a structured logger.
func (s *CHReportStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHReportStore) SaveReport(ctx context.Context, r models.BacktestReport) error {
	start := time.Now()
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	metrics := r.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	const q = `
		INSERT INTO backtest_reports (target_id, timeframe, start_at, end_at, metrics, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, q, r.TargetID, r.Timeframe, r.Start, r.End, metrics, string(r.Raw), created); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_report error",
				applogger.String("target_id", r.TargetID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save report: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse save_report ok",
			applogger.String("target_id", r.TargetID),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

// ListReports returns the newest reports for targetID; empty targetID lists all.
func (s *CHReportStore) ListReports(ctx context.Context, targetID string, limit int) ([]models.BacktestReport, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT target_id, timeframe, start_at, end_at, metrics, raw, created_at
		FROM backtest_reports
		%s
		ORDER BY created_at DESC
		LIMIT ?
	`
	args := []interface{}{}
	where := ""
	if targetID != "" {
		where = "WHERE target_id = ?"
		args = append(args, targetID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(q, where), args...)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse list_reports query error",
				applogger.String("target_id", targetID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]models.BacktestReport, 0, limit)
	for rows.Next() {
		var (
			r          models.BacktestReport
			start, end *time.Time
			raw        string
		)
		if err := rows.Scan(&r.TargetID, &r.Timeframe, &start, &end, &r.Metrics, &raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Start, r.End = start, end
		if raw != "" {
			r.Raw = []byte(raw)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by the clickhouse client.
func (s *CHReportStore) Close() error { return nil }
