package api

import (
	"fmt"
	"net/http"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/util"
)

func toWindow(r models.WindowRequest) (models.Window, *xhttp.AppError) {
	w := models.Window{Timeframe: r.Timeframe}
	var err *xhttp.AppError
	if w.Start, err = parseDate("start", r.Start); err != nil {
		return models.Window{}, err
	}
	if w.End, err = parseDate("end", r.End); err != nil {
		return models.Window{}, err
	}
	if w.Start != nil && w.End != nil && w.End.Before(*w.Start) {
		return models.Window{}, xhttp.NewAppError("ERR_INVALID_WINDOW", "end", "end must not be before start", http.StatusBadRequest)
	}
	return w, nil
}

func parseDate(field, s string) (*time.Time, *xhttp.AppError) {
	if s == "" {
		return nil, nil
	}
	t, ok := util.ParseTime(s)
	if !ok {
		return nil, xhttp.NewAppError("ERR_INVALID_DATE", field, fmt.Sprintf("%s is not a valid date", field), http.StatusBadRequest)
	}
	return &t, nil
}

func toEnsembleView(e models.Ensemble) models.EnsembleView {
	if e.Members == nil {
		e.Members = []models.Member{}
	}
	return models.EnsembleView{Ensemble: e, VoteThresholdPct: usecase.ToPercent(e.VoteThreshold)}
}

// optimizeView is an optimize result with the threshold in display percent.
type optimizeView struct {
	Weights          []float64           `json:"weights,omitempty"`
	VoteThresholdPct *int                `json:"vote_threshold_pct,omitempty"`
	Params           models.Params       `json:"params,omitempty"`
	Ensemble         models.EnsembleView `json:"ensemble"`
}

func toOptimizeView(res models.OptimizeResult, e models.Ensemble) optimizeView {
	v := optimizeView{Weights: res.Weights, Params: res.Params, Ensemble: toEnsembleView(e)}
	if res.VoteThreshold != nil {
		p := usecase.ToPercent(*res.VoteThreshold)
		v.VoteThresholdPct = &p
	}
	return v
}

type viewView struct {
	Timeframe  string `json:"timeframe"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	ShowVolume bool   `json:"show_volume"`
	Changed    bool   `json:"changed"`
}

func toViewView(v models.ViewState, changed bool) viewView {
	out := viewView{Timeframe: v.Window.Timeframe, ShowVolume: v.ShowVolume, Changed: changed}
	if v.Window.Start != nil {
		out.Start = v.Window.Start.Format(util.DateLayout)
	}
	if v.Window.End != nil {
		out.End = v.Window.End.Format(util.DateLayout)
	}
	return out
}
