package repository

import (
	"context"
	"errors"

	"SignalDesk/internal/domain/models"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventPublisher fans engine lifecycle events out to subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e models.Event) error
	Close() error
}

// ReportStore archives backtest reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r models.BacktestReport) error
	ListReports(ctx context.Context, targetID string, limit int) ([]models.BacktestReport, error)
	Close() error
}

// PresetStore persists named ensemble compositions.
type PresetStore interface {
	SavePreset(ctx context.Context, p models.Preset) error
	GetPreset(ctx context.Context, name string) (models.Preset, error)
	ListPresets(ctx context.Context) ([]models.Preset, error)
	DeletePreset(ctx context.Context, name string) error
	Close() error
}

type Metrics interface {
	RecordRemoteCall(op string, err error, seconds float64)
	RecordCache(result string)
	RecordError(kind string)
	RecordEnsembleSize(n int)
}
