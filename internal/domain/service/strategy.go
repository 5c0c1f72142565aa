package service

import (
	"context"
	"encoding/json"

	"SignalDesk/internal/domain/models"
)

// StrategyService is the remote computation service that owns indicator
// parameters, ensembles and all indicator math.
// Implementations must report every transport or HTTP failure as
// *models.RemoteServiceError.
type StrategyService interface {
	Create(ctx context.Context, ticker string, t models.IndicatorType) (string, error)
	Delete(ctx context.Context, strategyID string) error
	Configure(ctx context.Context, strategyID string, patch models.Params) (models.Params, error)
	OptimizeParams(ctx context.Context, strategyID string, w models.Window) (models.Params, error)
	OptimizeWeights(ctx context.Context, targetID string, w models.Window, runs int) (models.OptimizeResult, error)
	Signals(ctx context.Context, strategyID string, w models.Window) (models.SignalSeries, error)
	IndicatorPlot(ctx context.Context, strategyID string, query map[string]string) (json.RawMessage, error)
	Backtest(ctx context.Context, targetID string, w models.Window) (models.BacktestReport, error)

	CreateEnsemble(ctx context.Context, seedStrategyID string) (string, error)
	DeleteEnsemble(ctx context.Context, ensembleID string) error
	AddMember(ctx context.Context, ensembleID, strategyID string, weight float64) (models.Params, error)
	RemoveMember(ctx context.Context, ensembleID, strategyID string) (models.Params, error)
	FetchEnsembleParams(ctx context.Context, ensembleID string) (models.EnsembleParams, error)
	UpdateEnsembleParams(ctx context.Context, ensembleID string, patch models.EnsembleParamsPatch) (models.Params, error)
}
