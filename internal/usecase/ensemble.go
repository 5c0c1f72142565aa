package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/internal/domain/service"
	"SignalDesk/pkg/logger"
	"SignalDesk/pkg/metrics"
)

// Consistency selects how local ensemble state is reconciled after a
// successful remote mutation.
type Consistency int

const (
	// Refetch reloads the authoritative parameters from the service.
	Refetch Consistency = iota
	// TrustLocal applies the change locally without a round trip.
	TrustLocal
)

func (c Consistency) String() string {
	if c == TrustLocal {
		return "trust_local"
	}
	return "refetch"
}

// ParseConsistency accepts "refetch" and "trust_local".
func ParseConsistency(s string) (Consistency, error) {
	switch strings.ToLower(s) {
	case "refetch":
		return Refetch, nil
	case "trust_local", "trust-local":
		return TrustLocal, nil
	default:
		return Refetch, fmt.Errorf("unknown consistency policy %q", s)
	}
}

// ReconcileError means the mutation reached the service but reloading the
// authoritative state failed. The ensemble is left marked stale.
type ReconcileError struct {
	Op  string
	Err error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s: reconcile failed, ensemble is stale: %v", e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// ControllerConfig tunes EnsembleController.
type ControllerConfig struct {
	RefetchAttempts int
	RefetchBackoff  time.Duration
	TeardownOnEmpty bool
	DefaultRuns     int
}

func (c *ControllerConfig) setDefaults() {
	if c.RefetchAttempts < 1 {
		c.RefetchAttempts = 3
	}
	if c.RefetchBackoff <= 0 {
		c.RefetchBackoff = 100 * time.Millisecond
	}
	if c.DefaultRuns < 1 {
		c.DefaultRuns = 20
	}
}

const ensembleSlot = "ensemble"

// EnsembleController owns the single combined strategy of an engine.
// Mutations run one at a time through the mutation queue.
type EnsembleController struct {
	svc      service.StrategyService
	registry *Registry
	cache    *SignalCache
	queue    *MutationQueue
	log      *logger.Logger
	metrics  repository.Metrics
	cfg      ControllerConfig

	mu         sync.RWMutex
	id         string
	members    *membership
	method     models.VotingMethod
	threshold  float64
	stale      bool
	lastReport *models.BacktestReport
}

func NewEnsembleController(svc service.StrategyService, reg *Registry, c *SignalCache, q *MutationQueue,
	log *logger.Logger, m repository.Metrics, cfg ControllerConfig) *EnsembleController {
	cfg.setDefaults()
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if q == nil {
		q = NewMutationQueue()
	}
	return &EnsembleController{
		svc:      svc,
		registry: reg,
		cache:    c,
		queue:    q,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		members:  newMembership(),
		method:   models.VotingWeighted,
	}
}

// Snapshot returns a copy of the current ensemble.
func (c *EnsembleController) Snapshot() models.Ensemble {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.Ensemble{
		ID:            c.id,
		Members:       c.members.Members(),
		Method:        c.method,
		VoteThreshold: c.threshold,
		Stale:         c.stale,
	}
}

// ID returns the server id of the ensemble, empty when it does not exist.
func (c *EnsembleController) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// IsMember reports whether strategyID is part of the ensemble.
func (c *EnsembleController) IsMember(strategyID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members.Has(strategyID)
}

// LastReport returns the most recent backtest report, if any.
func (c *EnsembleController) LastReport() (models.BacktestReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastReport == nil {
		return models.BacktestReport{}, false
	}
	return *c.lastReport, true
}

func (c *EnsembleController) localParamsLocked() models.Params {
	return models.Params{
		"method":         string(c.method),
		"vote_threshold": c.threshold,
		"weights":        c.members.Weights(),
	}
}

// AddMember puts strategyID into the ensemble, creating the ensemble when
// it does not exist yet. Adding an existing member changes nothing locally.
func (c *EnsembleController) AddMember(ctx context.Context, strategyID string, weight float64, policy Consistency) (models.Params, error) {
	if !validWeight(weight) {
		return nil, fmt.Errorf("add member %s: %w", strategyID, models.ErrInvalidWeight)
	}
	release, err := c.queue.Acquire(ctx, ensembleSlot)
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.RLock()
	id, already := c.id, c.members.Has(strategyID)
	c.mu.RUnlock()

	if already {
		if policy == Refetch {
			if err := c.refetch(ctx, "add_member"); err != nil {
				return nil, err
			}
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.localParamsLocked(), nil
	}

	wasActive, err := c.registry.Attach(strategyID)
	if err != nil {
		return nil, err
	}

	var snap models.Params
	if id == "" {
		err := c.timed("create_ensemble", func() error {
			var err error
			id, err = c.svc.CreateEnsemble(ctx, strategyID)
			return err
		})
		if err != nil {
			c.rollbackAttach(ctx, strategyID, wasActive)
			return nil, err
		}
		c.mu.Lock()
		c.id = id
		c.members.Reset()
		c.members.Add(strategyID, weight)
		c.method = models.VotingWeighted
		c.threshold = 0
		c.stale = false
		snap = c.localParamsLocked()
		c.mu.Unlock()
		c.log.Info("ensemble created", logger.String("ensemble_id", id), logger.String("seed", strategyID))
	} else {
		if err := c.timed("add_member", func() error {
			var err error
			snap, err = c.svc.AddMember(ctx, id, strategyID, weight)
			return err
		}); err != nil {
			c.rollbackAttach(ctx, strategyID, wasActive)
			return nil, err
		}
		c.mu.Lock()
		c.members.Add(strategyID, weight)
		c.mu.Unlock()
	}
	c.afterMembershipChange(ctx, id)

	if policy == Refetch {
		if err := c.refetch(ctx, "add_member"); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func (c *EnsembleController) rollbackAttach(ctx context.Context, strategyID string, wasActive bool) {
	if err := c.registry.Detach(ctx, strategyID, wasActive); err != nil {
		c.log.Warn("rollback release failed", logger.String("strategy_id", strategyID), logger.Error(err))
	}
}

// RemoveMember takes strategyID out of the ensemble. The ensemble is torn
// down on the server when its last member leaves.
func (c *EnsembleController) RemoveMember(ctx context.Context, strategyID string, policy Consistency) (models.Params, error) {
	release, err := c.queue.Acquire(ctx, ensembleSlot)
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.RLock()
	id, isMember := c.id, c.members.Has(strategyID)
	c.mu.RUnlock()
	if id == "" {
		return nil, models.NewInconsistentState("remove_member", "no ensemble exists")
	}
	if !isMember {
		return nil, models.NewInconsistentState("remove_member", "strategy %s is not a member", strategyID)
	}

	var snap models.Params
	if err := c.timed("remove_member", func() error {
		var err error
		snap, err = c.svc.RemoveMember(ctx, id, strategyID)
		return err
	}); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.members.Remove(strategyID)
	empty := c.members.Len() == 0
	c.mu.Unlock()
	c.afterMembershipChange(ctx, id)

	_, releaseErr := c.registry.Release(ctx, strategyID)
	if releaseErr != nil {
		releaseErr = fmt.Errorf("release %s: %w", strategyID, releaseErr)
	}

	if empty && c.cfg.TeardownOnEmpty {
		if err := c.teardown(ctx, id); err != nil {
			return snap, errors.Join(err, releaseErr)
		}
		return snap, releaseErr
	}

	// an emptied ensemble that stays on the server is always resynced
	if policy == Refetch || empty {
		if err := c.refetch(ctx, "remove_member"); err != nil {
			return snap, err
		}
	}
	return snap, releaseErr
}

func (c *EnsembleController) teardown(ctx context.Context, id string) error {
	if err := c.timed("delete_ensemble", func() error {
		return c.svc.DeleteEnsemble(ctx, id)
	}); err != nil {
		c.log.Error("ensemble teardown failed", logger.String("ensemble_id", id), logger.Error(err))
		c.mu.Lock()
		c.stale = true
		c.mu.Unlock()
		return err
	}
	c.mu.Lock()
	c.id = ""
	c.members.Reset()
	c.method = models.VotingWeighted
	c.threshold = 0
	c.stale = false
	c.mu.Unlock()
	c.log.Info("ensemble torn down", logger.String("ensemble_id", id))
	return nil
}

// UpdateParams pushes a method, threshold or weight change. Weights are
// positional; a short slice leaves the remaining members untouched.
func (c *EnsembleController) UpdateParams(ctx context.Context, patch models.EnsembleParamsPatch, policy Consistency) (models.Params, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	release, err := c.queue.Acquire(ctx, ensembleSlot)
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.RLock()
	id, method := c.id, c.method
	outgoing := patch
	if patch.Weights != nil {
		outgoing.Weights = c.members.MergePositional(patch.Weights)
	}
	c.mu.RUnlock()

	if id == "" {
		return nil, models.NewInconsistentState("update_params", "no ensemble exists")
	}
	if patch.Method != nil {
		method = *patch.Method
	}
	if patch.VoteThreshold != nil && method == models.VotingUnanimous {
		return nil, models.ErrThresholdLocked
	}
	if patch.IsEmpty() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.localParamsLocked(), nil
	}

	var snap models.Params
	if err := c.timed("update_params", func() error {
		var err error
		snap, err = c.svc.UpdateEnsembleParams(ctx, id, outgoing)
		return err
	}); err != nil {
		return nil, err
	}
	c.applyPatch(outgoing)
	c.invalidate(ctx, id)

	if policy == Refetch {
		if err := c.refetch(ctx, "update_params"); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func validatePatch(p models.EnsembleParamsPatch) error {
	if p.Method != nil && !p.Method.Valid() {
		return fmt.Errorf("method %q: %w", *p.Method, models.ErrInvalidMethod)
	}
	if p.VoteThreshold != nil && !ValidThreshold(*p.VoteThreshold) {
		return models.ErrThresholdRange
	}
	for _, w := range p.Weights {
		if !validWeight(w) {
			return models.ErrInvalidWeight
		}
	}
	return nil
}

func validWeight(w float64) bool {
	return w >= 0 && !math.IsNaN(w) && !math.IsInf(w, 0)
}

func (c *EnsembleController) applyPatch(p models.EnsembleParamsPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Method != nil {
		c.method = *p.Method
	}
	if p.VoteThreshold != nil {
		c.threshold = *p.VoteThreshold
	}
	if p.Weights != nil {
		c.members.ApplyPositional(p.Weights)
	}
}

// OptimizeWeights asks the service for better weights and threshold over
// window w, then persists what it returned. A returned threshold is dropped
// while the method is unanimous.
func (c *EnsembleController) OptimizeWeights(ctx context.Context, w models.Window, runs int, policy Consistency) (models.OptimizeResult, error) {
	if runs < 1 {
		runs = c.cfg.DefaultRuns
	}
	release, err := c.queue.Acquire(ctx, ensembleSlot)
	if err != nil {
		return models.OptimizeResult{}, err
	}
	defer release()

	c.mu.RLock()
	id, method := c.id, c.method
	c.mu.RUnlock()
	if id == "" {
		return models.OptimizeResult{}, models.NewInconsistentState("optimize_weights", "no ensemble exists")
	}

	var res models.OptimizeResult
	if err := c.timed("optimize_weights", func() error {
		var err error
		res, err = c.svc.OptimizeWeights(ctx, id, w, runs)
		return err
	}); err != nil {
		return models.OptimizeResult{}, err
	}

	var patch models.EnsembleParamsPatch
	if res.Weights != nil {
		c.mu.RLock()
		patch.Weights = c.members.MergePositional(res.Weights)
		c.mu.RUnlock()
	}
	if res.VoteThreshold != nil {
		if method == models.VotingUnanimous {
			c.log.Debug("optimized threshold dropped under unanimous voting",
				logger.String("ensemble_id", id), logger.Float64("threshold", *res.VoteThreshold))
			res.VoteThreshold = nil
		} else if ValidThreshold(*res.VoteThreshold) {
			t := *res.VoteThreshold
			patch.VoteThreshold = &t
		}
	}
	if patch.IsEmpty() {
		return res, nil
	}

	if err := c.timed("update_params", func() error {
		_, err := c.svc.UpdateEnsembleParams(ctx, id, patch)
		return err
	}); err != nil {
		return res, err
	}
	c.applyPatch(patch)
	c.invalidate(ctx, id)

	if policy == Refetch {
		if err := c.refetch(ctx, "optimize_weights"); err != nil {
			return res, err
		}
	}
	return res, nil
}

// OptimizeParams optimizes one strategy's parameters over window w and
// merges the result into the local parameter view without persisting it.
func (c *EnsembleController) OptimizeParams(ctx context.Context, strategyID string, w models.Window) (models.Params, error) {
	if err := c.registry.CheckUsable("optimize_params", strategyID); err != nil {
		return nil, err
	}
	var params models.Params
	if err := c.timed("optimize_params", func() error {
		var err error
		params, err = c.svc.OptimizeParams(ctx, strategyID, w)
		return err
	}); err != nil {
		return nil, err
	}
	if err := c.registry.MergeParams(strategyID, params); err != nil {
		return nil, err
	}
	c.invalidate(ctx, strategyID)
	return params, nil
}

// Backtest evaluates targetID over window w. An empty targetID means the
// ensemble. The report is kept as the last report only.
func (c *EnsembleController) Backtest(ctx context.Context, targetID string, w models.Window) (models.BacktestReport, error) {
	if targetID == "" {
		targetID = c.ID()
		if targetID == "" {
			return models.BacktestReport{}, models.NewInconsistentState("backtest", "no ensemble exists")
		}
	} else if targetID != c.ID() {
		if err := c.registry.CheckUsable("backtest", targetID); err != nil {
			return models.BacktestReport{}, err
		}
	}

	var report models.BacktestReport
	if err := c.timed("backtest", func() error {
		var err error
		report, err = c.svc.Backtest(ctx, targetID, w)
		return err
	}); err != nil {
		return models.BacktestReport{}, err
	}
	if report.TargetID == "" {
		report.TargetID = targetID
	}
	if report.Timeframe == "" {
		report.Timeframe = w.Timeframe
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	r := report
	c.lastReport = &r
	c.mu.Unlock()
	return report, nil
}

// Reconcile reloads the authoritative parameters and clears the stale flag.
func (c *EnsembleController) Reconcile(ctx context.Context) (models.Ensemble, error) {
	release, err := c.queue.Acquire(ctx, ensembleSlot)
	if err != nil {
		return models.Ensemble{}, err
	}
	defer release()

	if c.ID() == "" {
		return models.Ensemble{}, models.NewInconsistentState("reconcile", "no ensemble exists")
	}
	if err := c.refetch(ctx, "reconcile"); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// refetch loads the authoritative parameters with bounded retries. Caller
// holds the queue slot.
func (c *EnsembleController) refetch(ctx context.Context, op string) error {
	id := c.ID()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RefetchAttempts; attempt++ {
		var p models.EnsembleParams
		err := c.timed("fetch_params", func() error {
			var err error
			p, err = c.svc.FetchEnsembleParams(ctx, id)
			return err
		})
		if err == nil {
			c.applyAuthoritative(p)
			return nil
		}
		lastErr = err
		c.log.Warn("ensemble refetch failed",
			logger.String("op", op), logger.Int("attempt", attempt), logger.Error(err))

		if attempt == c.cfg.RefetchAttempts {
			break
		}
		if err := sleepCtx(ctx, c.cfg.RefetchBackoff*time.Duration(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
	c.metrics.RecordError("reconcile")
	return &ReconcileError{Op: op, Err: lastErr}
}

func (c *EnsembleController) applyAuthoritative(p models.EnsembleParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Method.Valid() {
		c.method = p.Method
	}
	if ValidThreshold(p.VoteThreshold) {
		c.threshold = p.VoteThreshold
	}
	c.stale = false

	for _, w := range p.Weights {
		if !validWeight(w) {
			c.log.Warn("ignoring invalid weights from service", logger.Int("server", len(p.Weights)))
			return
		}
	}
	if n := c.members.ApplyPositional(p.Weights); n != len(p.Weights) || n != c.members.Len() {
		c.log.Debug("weights length differs from membership",
			logger.Int("server", len(p.Weights)), logger.Int("local", c.members.Len()))
	}
}

func (c *EnsembleController) afterMembershipChange(ctx context.Context, id string) {
	c.mu.RLock()
	n := c.members.Len()
	c.mu.RUnlock()
	c.metrics.RecordEnsembleSize(n)
	c.invalidate(ctx, id)
}

func (c *EnsembleController) invalidate(ctx context.Context, id string) {
	if err := c.cache.Invalidate(ctx, id); err != nil {
		c.log.Warn("cache invalidate failed", logger.String("id", id), logger.Error(err))
	}
}

// timed runs one remote call and records its outcome.
func (c *EnsembleController) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.RecordRemoteCall(op, err, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordError("remote")
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
