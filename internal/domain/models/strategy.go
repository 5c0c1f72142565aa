package models

import (
	"encoding/json"
	"time"
)

// IndicatorType enumerates the indicator families the strategy service computes.
type IndicatorType string

const (
	IndicatorMACrossover IndicatorType = "MA_CROSSOVER"
	IndicatorRSI         IndicatorType = "RSI"
	IndicatorMACD        IndicatorType = "MACD"
	IndicatorBollinger   IndicatorType = "BOLLINGER"
)

// Valid reports whether t is a known indicator type.
func (t IndicatorType) Valid() bool {
	switch t {
	case IndicatorMACrossover, IndicatorRSI, IndicatorMACD, IndicatorBollinger:
		return true
	default:
		return false
	}
}

// StrategyState is the lifecycle state of an indicator strategy.
// Ensemble membership is tracked separately and is not a state.
type StrategyState string

const (
	StateCreated    StrategyState = "CREATED"
	StateConfigured StrategyState = "CONFIGURED"
	StateDeleted    StrategyState = "DELETED"
)

// Params is a server-side parameter snapshot.
type Params map[string]interface{}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// IndicatorStrategy is a single indicator computation bound to one ticker.
type IndicatorStrategy struct {
	ID        string        `json:"id"`
	Type      IndicatorType `json:"indicator_type"`
	Ticker    string        `json:"ticker"`
	Params    Params        `json:"params,omitempty"`
	State     StrategyState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
}

// VotingMethod is how ensemble members are combined into one signal.
type VotingMethod string

const (
	VotingWeighted  VotingMethod = "weighted"
	VotingUnanimous VotingMethod = "unanimous"
	VotingMajority  VotingMethod = "majority"
)

// Valid reports whether m is a known voting method.
func (m VotingMethod) Valid() bool {
	switch m {
	case VotingWeighted, VotingUnanimous, VotingMajority:
		return true
	default:
		return false
	}
}

// Member is one weighted entry of an ensemble.
type Member struct {
	StrategyID string  `json:"strategy_id"`
	Weight     float64 `json:"weight"`
}

// Ensemble is a snapshot of the combined strategy.
// An empty ID means the ensemble does not exist on the server.
type Ensemble struct {
	ID            string       `json:"id,omitempty"`
	Members       []Member     `json:"members"`
	Method        VotingMethod `json:"method"`
	VoteThreshold float64      `json:"vote_threshold"`
	Stale         bool         `json:"stale"`
}

// Exists reports whether the ensemble has been created remotely.
func (e Ensemble) Exists() bool { return e.ID != "" }

// EnsembleParams is the authoritative parameter set returned by the service.
// Weights are positional and follow the service's member order.
type EnsembleParams struct {
	Method        VotingMethod `json:"method"`
	VoteThreshold float64      `json:"vote_threshold"`
	Weights       []float64    `json:"weights"`
}

// EnsembleParamsPatch is a partial update; nil fields are left untouched.
type EnsembleParamsPatch struct {
	Method        *VotingMethod `json:"method,omitempty"`
	VoteThreshold *float64      `json:"vote_threshold,omitempty"`
	Weights       []float64     `json:"weights,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p EnsembleParamsPatch) IsEmpty() bool {
	return p.Method == nil && p.VoteThreshold == nil && p.Weights == nil
}

// OptimizeResult is returned by weight optimization. Every field is optional.
type OptimizeResult struct {
	Weights       []float64 `json:"weights,omitempty"`
	VoteThreshold *float64  `json:"vote_threshold,omitempty"`
	Params        Params    `json:"params,omitempty"`
}

// Window is the timeframe and optional date range a computation runs under.
type Window struct {
	Timeframe string     `json:"timeframe"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// Equal compares two windows by value.
func (w Window) Equal(o Window) bool {
	return w.Timeframe == o.Timeframe && timePtrEqual(w.Start, o.Start) && timePtrEqual(w.End, o.End)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ViewState is the caller's viewing window plus display toggles that
// affect computed payloads.
type ViewState struct {
	Window     Window `json:"window"`
	ShowVolume bool   `json:"show_volume"`
}

// Equal compares two view states by value.
func (v ViewState) Equal(o ViewState) bool {
	return v.ShowVolume == o.ShowVolume && v.Window.Equal(o.Window)
}

// SignalPoint is one entry of a signal series.
type SignalPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// SignalSeries is ordered by date ascending.
type SignalSeries []SignalPoint

// BacktestReport is the result of evaluating a strategy or ensemble.
type BacktestReport struct {
	TargetID  string             `json:"target_id"`
	Timeframe string             `json:"timeframe"`
	Start     *time.Time         `json:"start,omitempty"`
	End       *time.Time         `json:"end,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Raw       json.RawMessage    `json:"raw,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Preset is a named, saved ensemble composition.
type Preset struct {
	Name          string       `json:"name"`
	Members       []Member     `json:"members"`
	Method        VotingMethod `json:"method"`
	VoteThreshold float64      `json:"vote_threshold"`
	SavedAt       time.Time    `json:"saved_at"`
}
