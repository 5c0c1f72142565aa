package models

// Requests for the dashboard HTTP endpoints. Thresholds are carried in
// display percent; handlers convert at the boundary. An empty timeframe
// means the current view window.

type CreateStrategyRequest struct {
	Ticker string `json:"ticker" validate:"required"`
	Type   string `json:"indicator_type" validate:"required,oneof=MA_CROSSOVER RSI MACD BOLLINGER"`
}

type StrategyIDParam struct {
	ID string `param:"id" validate:"required"`
}

type ConfigureRequest struct {
	ID     string `param:"id" validate:"required"`
	Params Params `json:"params" validate:"required"`
}

type WindowRequest struct {
	Timeframe string `query:"timeframe" json:"timeframe" validate:"omitempty,oneof=1h 4h 1d 1w"`
	Start     string `query:"start" json:"start"`
	End       string `query:"end" json:"end"`
}

type OptimizeParamsRequest struct {
	ID string `param:"id" validate:"required"`
	WindowRequest
}

type AddMemberRequest struct {
	StrategyID string   `json:"strategy_id" validate:"required"`
	Weight     *float64 `json:"weight" validate:"omitempty,gte=0"`
	Policy     string   `json:"policy" default:"refetch" validate:"oneof=refetch trust_local"`
}

type RemoveMemberRequest struct {
	ID     string `param:"id" validate:"required"`
	Policy string `query:"policy" default:"refetch" validate:"oneof=refetch trust_local"`
}

type UpdateParamsRequest struct {
	Method           *string   `json:"method" validate:"omitempty,oneof=weighted unanimous majority"`
	VoteThresholdPct *float64  `json:"vote_threshold_pct" validate:"omitempty,gte=0,lte=100"`
	Weights          []float64 `json:"weights" validate:"omitempty,dive,gte=0"`
	Policy           string    `json:"policy" default:"trust_local" validate:"oneof=refetch trust_local"`
}

type OptimizeWeightsRequest struct {
	WindowRequest
	Runs   int    `json:"runs" default:"20" validate:"gte=1,lte=500"`
	Policy string `json:"policy" default:"trust_local" validate:"oneof=refetch trust_local"`
}

type BacktestRequest struct {
	TargetID string `json:"target_id"`
	WindowRequest
}

type ViewRequest struct {
	WindowRequest
	ShowVolume bool `json:"show_volume"`
}

type PresetRequest struct {
	Name string `param:"name" validate:"required,max=64"`
}

type ReportsRequest struct {
	TargetID string `query:"target_id"`
	Limit    int    `query:"limit" default:"20" validate:"gte=1,lte=500"`
}

// EnsembleView is the ensemble as presented to the dashboard.
type EnsembleView struct {
	Ensemble
	VoteThresholdPct int `json:"vote_threshold_pct"`
}
