package strategysvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/service"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"
	"SignalDesk/pkg/util"
)

// Client talks to the remote strategy service over HTTP/JSON.
type Client struct {
	*httpBase
}

var _ service.StrategyService = (*Client)(nil)

// New creates a strategy service client from config.
func New(cfg *config.Config, opts ...Option) *Client {
	return &Client{httpBase: newHTTPBase(cfg, opts...)}
}

func (c *Client) Create(ctx context.Context, ticker string, t models.IndicatorType) (string, error) {
	var resp createResponse
	if err := c.call(ctx, "create", xhttp.MethodPost, "/strategies", nil,
		createRequest{Ticker: ticker, IndicatorType: t}, &resp); err != nil {
		return "", err
	}
	if resp.StrategyID == "" {
		return "", &models.RemoteServiceError{Op: "create", Err: fmt.Errorf("empty strategy_id in response")}
	}
	return resp.StrategyID, nil
}

func (c *Client) Delete(ctx context.Context, strategyID string) error {
	return c.call(ctx, "delete", xhttp.MethodDelete, "/strategies/"+escape(strategyID), nil, nil, nil)
}

func (c *Client) Configure(ctx context.Context, strategyID string, patch models.Params) (models.Params, error) {
	var resp paramsResponse
	if err := c.call(ctx, "configure", xhttp.MethodPatch, "/strategies/"+escape(strategyID)+"/params", nil,
		paramsRequest{Params: patch}, &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

func (c *Client) OptimizeParams(ctx context.Context, strategyID string, w models.Window) (models.Params, error) {
	var resp paramsResponse
	if err := c.call(ctx, "optimize_params", xhttp.MethodPost, "/strategies/"+escape(strategyID)+"/optimize", nil,
		newWindowRequest(w), &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

func (c *Client) OptimizeWeights(ctx context.Context, targetID string, w models.Window, runs int) (models.OptimizeResult, error) {
	body := newWindowRequest(w)
	body.Runs = runs
	var resp models.OptimizeResult
	if err := c.call(ctx, "optimize_weights", xhttp.MethodPost, "/strategies/"+escape(targetID)+"/optimize-weights", nil,
		body, &resp); err != nil {
		return models.OptimizeResult{}, err
	}
	return resp, nil
}

// Signals returns the series ordered by date ascending. Keys that do not
// parse as dates are skipped.
func (c *Client) Signals(ctx context.Context, strategyID string, w models.Window) (models.SignalSeries, error) {
	var resp signalsResponse
	if err := c.call(ctx, "signals", xhttp.MethodGet, "/strategies/"+escape(strategyID)+"/signals", windowQuery(w),
		nil, &resp); err != nil {
		return nil, err
	}
	series := make(models.SignalSeries, 0, len(resp.Signals))
	for k, v := range resp.Signals {
		t, ok := util.ParseTime(k)
		if !ok {
			continue
		}
		series = append(series, models.SignalPoint{Date: t, Value: v})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series, nil
}

func (c *Client) IndicatorPlot(ctx context.Context, strategyID string, query map[string]string) (json.RawMessage, error) {
	q := make(map[string][]string, len(query))
	for k, v := range query {
		q[k] = []string{v}
	}
	var raw []byte
	if err := c.call(ctx, "plot", xhttp.MethodGet, "/strategies/"+escape(strategyID)+"/plot", q, nil, &raw); err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, &models.RemoteServiceError{Op: "plot", Err: fmt.Errorf("response is not valid json")}
	}
	return json.RawMessage(raw), nil
}

func (c *Client) Backtest(ctx context.Context, targetID string, w models.Window) (models.BacktestReport, error) {
	var raw []byte
	if err := c.call(ctx, "backtest", xhttp.MethodPost, "/strategies/"+escape(targetID)+"/backtest", nil,
		newWindowRequest(w), &raw); err != nil {
		return models.BacktestReport{}, err
	}
	if !json.Valid(raw) {
		return models.BacktestReport{}, &models.RemoteServiceError{Op: "backtest", Err: fmt.Errorf("response is not valid json")}
	}
	report := decodeReport(raw)
	report.TargetID = targetID
	report.Timeframe = w.Timeframe
	report.Start = w.Start
	report.End = w.End
	return report, nil
}

func (c *Client) CreateEnsemble(ctx context.Context, seedStrategyID string) (string, error) {
	var resp createEnsembleResponse
	if err := c.call(ctx, "create_ensemble", xhttp.MethodPost, "/ensembles", nil,
		createEnsembleRequest{SeedStrategyID: seedStrategyID}, &resp); err != nil {
		return "", err
	}
	if resp.EnsembleID == "" {
		return "", &models.RemoteServiceError{Op: "create_ensemble", Err: fmt.Errorf("empty ensemble_id in response")}
	}
	return resp.EnsembleID, nil
}

func (c *Client) DeleteEnsemble(ctx context.Context, ensembleID string) error {
	return c.call(ctx, "delete_ensemble", xhttp.MethodDelete, "/ensembles/"+escape(ensembleID), nil, nil, nil)
}

func (c *Client) AddMember(ctx context.Context, ensembleID, strategyID string, weight float64) (models.Params, error) {
	var resp paramsResponse
	if err := c.call(ctx, "add_member", xhttp.MethodPost, "/ensembles/"+escape(ensembleID)+"/members", nil,
		addMemberRequest{StrategyID: strategyID, Weight: weight}, &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

func (c *Client) RemoveMember(ctx context.Context, ensembleID, strategyID string) (models.Params, error) {
	var resp paramsResponse
	if err := c.call(ctx, "remove_member", xhttp.MethodDelete,
		"/ensembles/"+escape(ensembleID)+"/members/"+escape(strategyID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}

func (c *Client) FetchEnsembleParams(ctx context.Context, ensembleID string) (models.EnsembleParams, error) {
	var resp models.EnsembleParams
	if err := c.call(ctx, "fetch_params", xhttp.MethodGet, "/ensembles/"+escape(ensembleID)+"/params", nil, nil, &resp); err != nil {
		return models.EnsembleParams{}, err
	}
	if resp.Method != "" && !resp.Method.Valid() {
		return models.EnsembleParams{}, &models.RemoteServiceError{Op: "fetch_params", Err: fmt.Errorf("unknown method %q", resp.Method)}
	}
	return resp, nil
}

func (c *Client) UpdateEnsembleParams(ctx context.Context, ensembleID string, patch models.EnsembleParamsPatch) (models.Params, error) {
	var resp paramsResponse
	if err := c.call(ctx, "update_params", xhttp.MethodPatch, "/ensembles/"+escape(ensembleID)+"/params", nil,
		patch, &resp); err != nil {
		return nil, err
	}
	return resp.Params, nil
}
