package strategysvc

import (
	"encoding/json"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/util"
)

type createRequest struct {
	Ticker        string               `json:"ticker"`
	IndicatorType models.IndicatorType `json:"indicator_type"`
}

type createResponse struct {
	StrategyID string `json:"strategy_id"`
}

type paramsRequest struct {
	Params models.Params `json:"params"`
}

type paramsResponse struct {
	Params models.Params `json:"params"`
}

type windowRequest struct {
	Timeframe string `json:"timeframe"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Runs      int    `json:"runs,omitempty"`
}

func newWindowRequest(w models.Window) windowRequest {
	r := windowRequest{Timeframe: w.Timeframe}
	if w.Start != nil {
		r.Start = w.Start.UTC().Format(util.DateLayout)
	}
	if w.End != nil {
		r.End = w.End.UTC().Format(util.DateLayout)
	}
	return r
}

func windowQuery(w models.Window) map[string][]string {
	r := newWindowRequest(w)
	q := map[string][]string{"timeframe": {r.Timeframe}}
	if r.Start != "" {
		q["start"] = []string{r.Start}
	}
	if r.End != "" {
		q["end"] = []string{r.End}
	}
	return q
}

type signalsResponse struct {
	Signals map[string]float64 `json:"signals"`
}

type createEnsembleRequest struct {
	SeedStrategyID string `json:"seed_strategy_id"`
}

type createEnsembleResponse struct {
	EnsembleID string `json:"ensemble_id"`
}

type addMemberRequest struct {
	StrategyID string  `json:"strategy_id"`
	Weight     float64 `json:"weight"`
}

// decodeReport keeps the raw body and lifts the numeric metrics out of it.
// Non-numeric metric values are left in Raw only.
func decodeReport(raw json.RawMessage) models.BacktestReport {
	report := models.BacktestReport{Raw: raw}
	var body struct {
		Metrics   map[string]json.RawMessage `json:"metrics"`
		CreatedAt *time.Time                 `json:"created_at"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return report
	}
	if len(body.Metrics) > 0 {
		report.Metrics = make(map[string]float64, len(body.Metrics))
		for k, v := range body.Metrics {
			var f float64
			if json.Unmarshal(v, &f) == nil {
				report.Metrics[k] = f
			}
		}
	}
	if body.CreatedAt != nil {
		report.CreatedAt = body.CreatedAt.UTC()
	}
	return report
}
