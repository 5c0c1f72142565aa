package api

import (
	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"

	"github.com/labstack/echo/v4"
)

func policyOf(s string) (usecase.Consistency, *xhttp.AppError) {
	p, err := usecase.ParseConsistency(s)
	if err != nil {
		return 0, xhttp.BadRequestError(err.Error())
	}
	return p, nil
}

// ensembleResult answers mutations with the resulting ensemble.
func (h *EngineEchoHandler) ensembleResult(c echo.Context, op string, err error) error {
	if err != nil {
		return h.fail(c, op, err)
	}
	return xhttp.SuccessResponse(c, toEnsembleView(h.engine.EnsembleSnapshot()))
}

func (h *EngineEchoHandler) GetEnsemble(c echo.Context) error {
	return xhttp.SuccessResponse(c, toEnsembleView(h.engine.EnsembleSnapshot()))
}

func (h *EngineEchoHandler) AddMember(c echo.Context) error {
	req := &models.AddMemberRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	policy, perr := policyOf(req.Policy)
	if perr != nil {
		return xhttp.AppErrorResponse(c, perr)
	}
	weight := h.engine.DefaultWeight()
	if req.Weight != nil {
		weight = *req.Weight
	}
	_, err := h.engine.AddMember(c.Request().Context(), req.StrategyID, weight, policy)
	return h.ensembleResult(c, "add_member", err)
}

func (h *EngineEchoHandler) RemoveMember(c echo.Context) error {
	req := &models.RemoveMemberRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	policy, perr := policyOf(req.Policy)
	if perr != nil {
		return xhttp.AppErrorResponse(c, perr)
	}
	_, err := h.engine.RemoveMember(c.Request().Context(), req.ID, policy)
	return h.ensembleResult(c, "remove_member", err)
}

func (h *EngineEchoHandler) UpdateParams(c echo.Context) error {
	req := &models.UpdateParamsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	policy, perr := policyOf(req.Policy)
	if perr != nil {
		return xhttp.AppErrorResponse(c, perr)
	}

	patch := models.EnsembleParamsPatch{Weights: req.Weights}
	if req.Method != nil {
		m := models.VotingMethod(*req.Method)
		patch.Method = &m
	}
	if req.VoteThresholdPct != nil {
		t := usecase.ToInternal(*req.VoteThresholdPct)
		patch.VoteThreshold = &t
	}
	_, err := h.engine.UpdateEnsembleParams(c.Request().Context(), patch, policy)
	return h.ensembleResult(c, "update_params", err)
}

func (h *EngineEchoHandler) OptimizeWeights(c echo.Context) error {
	req := &models.OptimizeWeightsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	policy, perr := policyOf(req.Policy)
	if perr != nil {
		return xhttp.AppErrorResponse(c, perr)
	}
	w, werr := toWindow(req.WindowRequest)
	if werr != nil {
		return xhttp.AppErrorResponse(c, werr)
	}
	res, err := h.engine.OptimizeWeights(c.Request().Context(), w, req.Runs, policy)
	if err != nil {
		return h.fail(c, "optimize_weights", err)
	}
	return xhttp.SuccessResponse(c, toOptimizeView(res, h.engine.EnsembleSnapshot()))
}

func (h *EngineEchoHandler) Reconcile(c echo.Context) error {
	_, err := h.engine.Reconcile(c.Request().Context())
	return h.ensembleResult(c, "reconcile", err)
}

func (h *EngineEchoHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	w, werr := toWindow(req.WindowRequest)
	if werr != nil {
		return xhttp.AppErrorResponse(c, werr)
	}
	report, err := h.engine.Backtest(c.Request().Context(), req.TargetID, w)
	if err != nil {
		return h.fail(c, "backtest", err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *EngineEchoHandler) Reports(c echo.Context) error {
	req := &models.ReportsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.engine.Reports(c.Request().Context(), req.TargetID, req.Limit)
	if err != nil {
		return h.fail(c, "reports", err)
	}
	if rows == nil {
		rows = []models.BacktestReport{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) GetView(c echo.Context) error {
	return xhttp.SuccessResponse(c, toViewView(h.engine.View(), false))
}

func (h *EngineEchoHandler) SetView(c echo.Context) error {
	req := &models.ViewRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	w, werr := toWindow(req.WindowRequest)
	if werr != nil {
		return xhttp.AppErrorResponse(c, werr)
	}
	changed, err := h.engine.SetView(c.Request().Context(), models.ViewState{Window: w, ShowVolume: req.ShowVolume})
	if err != nil {
		return h.fail(c, "set_view", err)
	}
	return xhttp.SuccessResponse(c, toViewView(h.engine.View(), changed))
}

func (h *EngineEchoHandler) ListPresets(c echo.Context) error {
	rows, err := h.engine.ListPresets(c.Request().Context())
	if err != nil {
		return h.fail(c, "list_presets", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) SavePreset(c echo.Context) error {
	req := &models.PresetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.engine.SavePreset(c.Request().Context(), req.Name)
	if err != nil {
		return h.fail(c, "save_preset", err)
	}
	return xhttp.CreatedResponse(c, p)
}

func (h *EngineEchoHandler) ApplyPreset(c echo.Context) error {
	req := &models.PresetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	_, err := h.engine.ApplyPreset(c.Request().Context(), req.Name)
	return h.ensembleResult(c, "apply_preset", err)
}

func (h *EngineEchoHandler) DeletePreset(c echo.Context) error {
	req := &models.PresetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.DeletePreset(c.Request().Context(), req.Name); err != nil {
		return h.fail(c, "delete_preset", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *EngineEchoHandler) Sweep(c echo.Context) error {
	n, err := h.engine.SweepPending(c.Request().Context())
	if err != nil {
		return h.fail(c, "sweep", err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"deleted": n,
		"pending": h.engine.Registry().Pending(),
	})
}
