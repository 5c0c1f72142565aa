package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/domain/service"
	"SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// ErrPresetsDisabled is returned by preset operations when no store is wired.
var ErrPresetsDisabled = errors.New("preset store is not configured")

const (
	kindSignals = "signals"
	kindPlot    = "plot"
)

// EngineConfig tunes Engine.
type EngineConfig struct {
	DefaultTimeframe string
	DefaultWeight    float64
	Controller       ControllerConfig
}

// Engine is the entry point of the dashboard: strategies, the ensemble,
// the viewing window and the signal cache of one session.
type Engine struct {
	svc      service.StrategyService
	registry *Registry
	ensemble *EnsembleController
	cache    *SignalCache
	events   repository.EventPublisher
	reports  repository.ReportStore
	presets  repository.PresetStore
	log      *logger.Logger
	metrics  repository.Metrics
	cfg      EngineConfig

	viewMu sync.RWMutex
	view   models.ViewState
}

// EngineDeps collects the collaborators of an Engine. Events, Reports,
// Presets and Metrics are optional.
type EngineDeps struct {
	Service service.StrategyService
	Cache   *SignalCache
	Events  repository.EventPublisher
	Reports repository.ReportStore
	Presets repository.PresetStore
	Logger  *logger.Logger
	Metrics repository.Metrics
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Cache == nil {
		panic("usecase: engine requires a signal cache")
	}
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = string(repository.DefaultTimeframe())
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = 1
	}

	reg := NewRegistry(deps.Service, deps.Cache, deps.Logger.With(logger.String("component", "registry")))
	ctrl := NewEnsembleController(deps.Service, reg, deps.Cache, NewMutationQueue(),
		deps.Logger.With(logger.String("component", "ensemble")), deps.Metrics, cfg.Controller)

	return &Engine{
		svc:      deps.Service,
		registry: reg,
		ensemble: ctrl,
		cache:    deps.Cache,
		events:   deps.Events,
		reports:  deps.Reports,
		presets:  deps.Presets,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		cfg:      cfg,
		view:     models.ViewState{Window: models.Window{Timeframe: cfg.DefaultTimeframe}},
	}
}

// Registry exposes the strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Ensemble exposes the ensemble controller.
func (e *Engine) Ensemble() *EnsembleController { return e.ensemble }

func (e *Engine) emit(ctx context.Context, t models.EventType, strategyID, ensembleID string, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishEvent(ctx, models.NewEvent(t, strategyID, ensembleID, payload)); err != nil {
		e.log.Warn("publish event failed", logger.String("type", string(t)), logger.Error(err))
	}
}

// CreateStrategy creates an indicator strategy for ticker.
func (e *Engine) CreateStrategy(ctx context.Context, ticker string, t models.IndicatorType) (models.IndicatorStrategy, error) {
	id, err := e.registry.Create(ctx, ticker, t)
	if err != nil {
		return models.IndicatorStrategy{}, err
	}
	s, _ := e.registry.Get(id)
	e.emit(ctx, models.EventStrategyCreated, id, "", s)
	return s, nil
}

// RemoveStrategy drops a strategy from the active set.
func (e *Engine) RemoveStrategy(ctx context.Context, strategyID string) error {
	released, err := e.registry.Remove(ctx, strategyID)
	if released {
		e.emit(ctx, models.EventStrategyDeleted, strategyID, "", nil)
	} else if err == nil {
		e.emit(ctx, models.EventStrategyRemoved, strategyID, "", nil)
	}
	return err
}

// ConfigureStrategy pushes a parameter patch for one strategy.
func (e *Engine) ConfigureStrategy(ctx context.Context, strategyID string, patch models.Params) (models.Params, error) {
	params, err := e.registry.Configure(ctx, strategyID, patch)
	if err != nil {
		return nil, err
	}
	// ensemble output was computed from the member's previous parameters
	if e.ensemble.IsMember(strategyID) {
		if id := e.ensemble.ID(); id != "" {
			if err := e.cache.Invalidate(ctx, id); err != nil {
				e.log.Warn("cache invalidate failed", logger.String("id", id), logger.Error(err))
			}
		}
	}
	e.emit(ctx, models.EventStrategyConfigured, strategyID, "", params)
	return params, nil
}

// ResolveType returns the indicator type of any strategy id.
func (e *Engine) ResolveType(strategyID string) (models.IndicatorType, bool) {
	return e.registry.ResolveType(strategyID)
}

// Strategies lists the active strategies.
func (e *Engine) Strategies() []models.IndicatorStrategy { return e.registry.List() }

// Strategy returns one known strategy.
func (e *Engine) Strategy(strategyID string) (models.IndicatorStrategy, bool) {
	return e.registry.Get(strategyID)
}

// View returns the current viewing window.
func (e *Engine) View() models.ViewState {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

// SetView changes the viewing window. Any change empties the signal cache.
func (e *Engine) SetView(ctx context.Context, v models.ViewState) (bool, error) {
	if v.Window.Timeframe == "" {
		v.Window.Timeframe = e.cfg.DefaultTimeframe
	}
	if !repository.IsValidTimeframe(repository.Timeframe(v.Window.Timeframe)) {
		return false, fmt.Errorf("%w: unsupported timeframe %q", models.ErrInvalidWindow, v.Window.Timeframe)
	}
	if v.Window.Start != nil && v.Window.End != nil && v.Window.End.Before(*v.Window.Start) {
		return false, fmt.Errorf("%w: end %s is before start %s", models.ErrInvalidWindow, v.Window.End.Format(time.DateOnly), v.Window.Start.Format(time.DateOnly))
	}

	e.viewMu.Lock()
	changed := !e.view.Equal(v)
	e.view = v
	e.viewMu.Unlock()

	if !changed {
		return false, nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return true, err
	}
	e.emit(ctx, models.EventViewChanged, "", "", v)
	return true, nil
}

func (e *Engine) checkReadable(op, id string) error {
	if id != "" && id == e.ensemble.ID() {
		return nil
	}
	return e.registry.CheckUsable(op, id)
}

// Signals returns the signal series of a strategy or the ensemble under the
// current window, from cache when possible.
func (e *Engine) Signals(ctx context.Context, id string) (models.SignalSeries, error) {
	if err := e.checkReadable("signals", id); err != nil {
		return nil, err
	}
	w := e.View().Window
	key := NewCacheKey(id, w, kindSignals, "")

	if raw, ok, err := e.cache.Get(ctx, key); err != nil {
		e.log.Warn("signal cache read failed", logger.String("id", id), logger.Error(err))
	} else if ok {
		var series models.SignalSeries
		if err := json.Unmarshal(raw, &series); err == nil {
			return series, nil
		}
	}

	ticket := e.cache.Begin(key)
	start := time.Now()
	series, err := e.svc.Signals(ctx, id, w)
	e.metrics.RecordRemoteCall("signals", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	e.store(ctx, key, ticket, series)
	return series, nil
}

// IndicatorPlot returns the plot payload of a strategy under the current
// window. query is passed through to the service.
func (e *Engine) IndicatorPlot(ctx context.Context, id string, query map[string]string) (json.RawMessage, error) {
	if err := e.checkReadable("indicator_plot", id); err != nil {
		return nil, err
	}
	v := e.View()
	q := make(map[string]string, len(query)+4)
	for k, val := range query {
		q[k] = val
	}
	q["timeframe"] = v.Window.Timeframe
	if v.Window.Start != nil {
		q["start"] = v.Window.Start.Format(time.DateOnly)
	}
	if v.Window.End != nil {
		q["end"] = v.Window.End.Format(time.DateOnly)
	}
	if v.ShowVolume {
		q["show_volume"] = "true"
	}
	key := NewCacheKey(id, v.Window, kindPlot, variantOf(q))

	if raw, ok, err := e.cache.Get(ctx, key); err != nil {
		e.log.Warn("plot cache read failed", logger.String("id", id), logger.Error(err))
	} else if ok {
		return raw, nil
	}

	ticket := e.cache.Begin(key)
	start := time.Now()
	raw, err := e.svc.IndicatorPlot(ctx, id, q)
	e.metrics.RecordRemoteCall("indicator_plot", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	e.store(ctx, key, ticket, raw)
	return raw, nil
}

// variantOf renders query deterministically; url.Values.Encode sorts keys.
func variantOf(q map[string]string) string {
	vals := url.Values{}
	for k, v := range q {
		vals.Set(k, v)
	}
	return vals.Encode()
}

func (e *Engine) store(ctx context.Context, key CacheKey, t Ticket, payload interface{}) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			e.log.Warn("encode cache payload failed", logger.Error(err))
			return
		}
		raw = b
	}
	kept, err := e.cache.PutIfCurrent(ctx, key, t, raw)
	if err != nil {
		e.log.Warn("signal cache write failed", logger.String("id", key.StrategyID), logger.Error(err))
		return
	}
	if !kept {
		e.log.Debug("stale response discarded", logger.String("id", key.StrategyID), logger.String("timeframe", key.Timeframe))
	}
}

// DefaultWeight is the weight given to members added without one.
func (e *Engine) DefaultWeight() float64 { return e.cfg.DefaultWeight }

// AddMember adds a strategy to the ensemble with the given weight.
func (e *Engine) AddMember(ctx context.Context, strategyID string, weight float64, policy Consistency) (models.Params, error) {
	before := e.ensemble.ID()
	params, err := e.ensemble.AddMember(ctx, strategyID, weight, policy)
	if err != nil && params == nil {
		return nil, err
	}
	after := e.ensemble.ID()
	if before == "" && after != "" {
		e.emit(ctx, models.EventEnsembleCreated, strategyID, after, nil)
	}
	e.emit(ctx, models.EventMemberAdded, strategyID, after, models.Member{StrategyID: strategyID, Weight: weight})
	return params, err
}

// RemoveMember takes a strategy out of the ensemble.
func (e *Engine) RemoveMember(ctx context.Context, strategyID string, policy Consistency) (models.Params, error) {
	id := e.ensemble.ID()
	params, err := e.ensemble.RemoveMember(ctx, strategyID, policy)
	if err != nil && params == nil {
		return nil, err
	}
	e.emit(ctx, models.EventMemberRemoved, strategyID, id, nil)
	if e.registry.IsDeleted(strategyID) {
		e.emit(ctx, models.EventStrategyDeleted, strategyID, "", nil)
	}
	if e.ensemble.ID() == "" {
		e.emit(ctx, models.EventEnsembleDeleted, "", id, nil)
	}
	return params, err
}

// UpdateEnsembleParams pushes a method, threshold or weights change.
func (e *Engine) UpdateEnsembleParams(ctx context.Context, patch models.EnsembleParamsPatch, policy Consistency) (models.Params, error) {
	params, err := e.ensemble.UpdateParams(ctx, patch, policy)
	if err != nil && params == nil {
		return nil, err
	}
	e.emit(ctx, models.EventParamsUpdated, "", e.ensemble.ID(), e.ensemble.Snapshot())
	return params, err
}

// OptimizeWeights optimizes the ensemble over the given window, or the
// current view when w has no timeframe.
func (e *Engine) OptimizeWeights(ctx context.Context, w models.Window, runs int, policy Consistency) (models.OptimizeResult, error) {
	if w.Timeframe == "" {
		w = e.View().Window
	}
	res, err := e.ensemble.OptimizeWeights(ctx, w, runs, policy)
	if err != nil && !isReconcile(err) {
		return res, err
	}
	e.emit(ctx, models.EventWeightsOptimized, "", e.ensemble.ID(), res)
	return res, err
}

// OptimizeParams optimizes one strategy and keeps the result locally.
func (e *Engine) OptimizeParams(ctx context.Context, strategyID string, w models.Window) (models.Params, error) {
	if w.Timeframe == "" {
		w = e.View().Window
	}
	return e.ensemble.OptimizeParams(ctx, strategyID, w)
}

// Backtest evaluates a strategy or, with an empty targetID, the ensemble,
// and archives the report when a store is configured.
func (e *Engine) Backtest(ctx context.Context, targetID string, w models.Window) (models.BacktestReport, error) {
	if w.Timeframe == "" {
		w = e.View().Window
	}
	report, err := e.ensemble.Backtest(ctx, targetID, w)
	if err != nil {
		return report, err
	}
	if e.reports != nil {
		if err := e.reports.SaveReport(ctx, report); err != nil {
			e.log.Warn("archive backtest report failed", logger.String("target_id", report.TargetID), logger.Error(err))
		}
	}
	e.emit(ctx, models.EventBacktestCompleted, report.TargetID, e.ensemble.ID(), report.Metrics)
	return report, nil
}

// Reports lists archived reports of targetID, newest first.
func (e *Engine) Reports(ctx context.Context, targetID string, limit int) ([]models.BacktestReport, error) {
	if e.reports == nil {
		if r, ok := e.ensemble.LastReport(); ok && (targetID == "" || r.TargetID == targetID) {
			return []models.BacktestReport{r}, nil
		}
		return nil, nil
	}
	return e.reports.ListReports(ctx, targetID, limit)
}

// EnsembleSnapshot returns the current ensemble.
func (e *Engine) EnsembleSnapshot() models.Ensemble { return e.ensemble.Snapshot() }

// Reconcile reloads the authoritative ensemble parameters.
func (e *Engine) Reconcile(ctx context.Context) (models.Ensemble, error) {
	return e.ensemble.Reconcile(ctx)
}

// SweepPending retries failed remote deletes.
func (e *Engine) SweepPending(ctx context.Context) (int, error) {
	return e.registry.SweepPending(ctx)
}

// SavePreset stores the current ensemble composition under name.
func (e *Engine) SavePreset(ctx context.Context, name string) (models.Preset, error) {
	if e.presets == nil {
		return models.Preset{}, ErrPresetsDisabled
	}
	snap := e.ensemble.Snapshot()
	if !snap.Exists() {
		return models.Preset{}, models.NewInconsistentState("save_preset", "no ensemble exists")
	}
	p := models.Preset{
		Name:          name,
		Members:       snap.Members,
		Method:        snap.Method,
		VoteThreshold: snap.VoteThreshold,
		SavedAt:       time.Now().UTC(),
	}
	if err := e.presets.SavePreset(ctx, p); err != nil {
		return models.Preset{}, fmt.Errorf("save preset %s: %w", name, err)
	}
	return p, nil
}

// ListPresets returns the saved presets.
func (e *Engine) ListPresets(ctx context.Context) ([]models.Preset, error) {
	if e.presets == nil {
		return nil, ErrPresetsDisabled
	}
	return e.presets.ListPresets(ctx)
}

// DeletePreset removes a saved preset.
func (e *Engine) DeletePreset(ctx context.Context, name string) error {
	if e.presets == nil {
		return ErrPresetsDisabled
	}
	return e.presets.DeletePreset(ctx, name)
}

// ApplyPreset adds the preset's members to the ensemble and then pushes its
// method and threshold. Members already present are left as they are.
func (e *Engine) ApplyPreset(ctx context.Context, name string) (models.Ensemble, error) {
	if e.presets == nil {
		return models.Ensemble{}, ErrPresetsDisabled
	}
	p, err := e.presets.GetPreset(ctx, name)
	if err != nil {
		return models.Ensemble{}, err
	}
	for _, m := range p.Members {
		if _, err := e.AddMember(ctx, m.StrategyID, m.Weight, TrustLocal); err != nil {
			return e.ensemble.Snapshot(), fmt.Errorf("apply preset %s: %w", name, err)
		}
	}

	method := p.Method
	patch := models.EnsembleParamsPatch{Method: &method}
	if method != models.VotingUnanimous {
		t := p.VoteThreshold
		patch.VoteThreshold = &t
	}
	current := e.ensemble.Snapshot().Members
	weights := make([]float64, 0, len(current))
	for _, m := range current {
		w := m.Weight
		for _, pm := range p.Members {
			if pm.StrategyID == m.StrategyID {
				w = pm.Weight
			}
		}
		weights = append(weights, w)
	}
	patch.Weights = weights

	if _, err := e.UpdateEnsembleParams(ctx, patch, Refetch); err != nil {
		return e.ensemble.Snapshot(), fmt.Errorf("apply preset %s: %w", name, err)
	}
	return e.ensemble.Snapshot(), nil
}

// Close releases the engine's collaborators.
func (e *Engine) Close() error {
	var errs []error
	if e.events != nil {
		errs = append(errs, e.events.Close())
	}
	if e.reports != nil {
		errs = append(errs, e.reports.Close())
	}
	if e.presets != nil {
		errs = append(errs, e.presets.Close())
	}
	return errors.Join(errs...)
}

func isReconcile(err error) bool {
	var re *ReconcileError
	return errors.As(err, &re)
}
