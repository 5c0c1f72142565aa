package api

import (
	"net/http"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/usecase"
	xhttp "SignalDesk/pkg/http"
	xlogger "SignalDesk/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EngineEchoHandler exposes the engine to the dashboard over REST.
type EngineEchoHandler struct {
	logger *xlogger.Logger
	engine *usecase.Engine
	stream http.Handler
}

var _ xhttp.Handler = (*EngineEchoHandler)(nil)

// NewEngineEchoHandler creates the handler. stream serves /ws and may be nil.
func NewEngineEchoHandler(logger *xlogger.Logger, engine *usecase.Engine, stream http.Handler) *EngineEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &EngineEchoHandler{logger: logger, engine: engine, stream: stream}
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	if h.stream != nil {
		e.GET("/ws", echo.WrapHandler(h.stream))
	}

	g := e.Group("/api")
	g.GET("/strategies", h.ListStrategies)
	g.POST("/strategies", h.CreateStrategy)
	g.GET("/strategies/:id", h.GetStrategy)
	g.DELETE("/strategies/:id", h.RemoveStrategy)
	g.PATCH("/strategies/:id/params", h.ConfigureStrategy)
	g.GET("/strategies/:id/type", h.ResolveType)
	g.POST("/strategies/:id/optimize", h.OptimizeParams)
	g.GET("/strategies/:id/plot", h.Plot)
	g.GET("/signals/:id", h.Signals)

	g.GET("/ensemble", h.GetEnsemble)
	g.GET("/ensemble/signals", h.EnsembleSignals)
	g.POST("/ensemble/members", h.AddMember)
	g.DELETE("/ensemble/members/:id", h.RemoveMember)
	g.PATCH("/ensemble/params", h.UpdateParams)
	g.POST("/ensemble/optimize", h.OptimizeWeights)
	g.POST("/ensemble/reconcile", h.Reconcile)

	g.POST("/backtest", h.Backtest)
	g.GET("/backtest/reports", h.Reports)

	g.GET("/view", h.GetView)
	g.PUT("/view", h.SetView)

	g.GET("/presets", h.ListPresets)
	g.POST("/presets/:name", h.SavePreset)
	g.POST("/presets/:name/apply", h.ApplyPreset)
	g.DELETE("/presets/:name", h.DeletePreset)

	g.POST("/maintenance/sweep", h.Sweep)
}

func (h *EngineEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("engine request failed",
			xlogger.String("op", op),
			xlogger.Int("status", appErr.Status),
			xlogger.Error(err),
		)
	} else {
		h.logger.Debug("engine request rejected", xlogger.String("op", op), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *EngineEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":   "ok",
		"ensemble": h.engine.EnsembleSnapshot().Exists(),
	})
}

func (h *EngineEchoHandler) ListStrategies(c echo.Context) error {
	rows := h.engine.Strategies()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) CreateStrategy(c echo.Context) error {
	req := &models.CreateStrategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.engine.CreateStrategy(c.Request().Context(), req.Ticker, models.IndicatorType(req.Type))
	if err != nil {
		return h.fail(c, "create_strategy", err)
	}
	return xhttp.CreatedResponse(c, s)
}

func (h *EngineEchoHandler) GetStrategy(c echo.Context) error {
	req := &models.StrategyIDParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, ok := h.engine.Strategy(req.ID)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("strategy %s not found", req.ID))
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *EngineEchoHandler) RemoveStrategy(c echo.Context) error {
	req := &models.StrategyIDParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.RemoveStrategy(c.Request().Context(), req.ID); err != nil {
		return h.fail(c, "remove_strategy", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *EngineEchoHandler) ConfigureStrategy(c echo.Context) error {
	req := &models.ConfigureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	params, err := h.engine.ConfigureStrategy(c.Request().Context(), req.ID, req.Params)
	if err != nil {
		return h.fail(c, "configure", err)
	}
	return xhttp.SuccessResponse(c, params)
}

func (h *EngineEchoHandler) ResolveType(c echo.Context) error {
	req := &models.StrategyIDParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	t, ok := h.engine.ResolveType(req.ID)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("cannot resolve indicator type of %s", req.ID))
	}
	return xhttp.SuccessResponse(c, map[string]string{"strategy_id": req.ID, "indicator_type": string(t)})
}

func (h *EngineEchoHandler) OptimizeParams(c echo.Context) error {
	req := &models.OptimizeParamsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	w, werr := toWindow(req.WindowRequest)
	if werr != nil {
		return xhttp.AppErrorResponse(c, werr)
	}
	params, err := h.engine.OptimizeParams(c.Request().Context(), req.ID, w)
	if err != nil {
		return h.fail(c, "optimize_params", err)
	}
	return xhttp.SuccessResponse(c, params)
}

func (h *EngineEchoHandler) Plot(c echo.Context) error {
	req := &models.StrategyIDParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	query := make(map[string]string)
	for k, vs := range c.QueryParams() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	raw, err := h.engine.IndicatorPlot(c.Request().Context(), req.ID, query)
	if err != nil {
		return h.fail(c, "plot", err)
	}
	return xhttp.SuccessResponse(c, raw)
}

func (h *EngineEchoHandler) Signals(c echo.Context) error {
	req := &models.StrategyIDParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return h.signals(c, req.ID)
}

func (h *EngineEchoHandler) EnsembleSignals(c echo.Context) error {
	return h.signals(c, h.engine.EnsembleSnapshot().ID)
}

func (h *EngineEchoHandler) signals(c echo.Context, id string) error {
	series, err := h.engine.Signals(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "signals", err)
	}
	if series == nil {
		series = models.SignalSeries{}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, series)
}
