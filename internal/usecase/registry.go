package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/service"
	"SignalDesk/pkg/logger"
)

// owner bits of the dual-ownership ledger. The remote strategy is deleted
// when the last bit clears.
type owner uint8

const (
	ownerActive owner = 1 << iota
	ownerMember
)

type entry struct {
	strategy models.IndicatorStrategy
	owners   owner
}

var typePrefixes = []struct {
	prefix string
	t      models.IndicatorType
}{
	{"ma_crossover", models.IndicatorMACrossover},
	{"rsi", models.IndicatorRSI},
	{"macd", models.IndicatorMACD},
	{"bb", models.IndicatorBollinger},
}

// Registry tracks standalone strategies and decides when a strategy may be
// deleted on the server.
type Registry struct {
	svc   service.StrategyService
	cache *SignalCache
	log   *logger.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	tombstones map[string]struct{}
	pending    map[string]struct{}
}

func NewRegistry(svc service.StrategyService, c *SignalCache, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		svc:        svc,
		cache:      c,
		log:        log,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]struct{}),
		pending:    make(map[string]struct{}),
	}
}

// Create asks the service for a new strategy and registers it as active.
func (r *Registry) Create(ctx context.Context, ticker string, t models.IndicatorType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("create %q: %w", t, models.ErrInvalidIndicatorType)
	}
	id, err := r.svc.Create(ctx, ticker, t)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tombstones, id)
	e, ok := r.entries[id]
	if !ok {
		e = &entry{}
		r.entries[id] = e
	}
	e.owners |= ownerActive
	e.strategy = models.IndicatorStrategy{
		ID:        id,
		Type:      t,
		Ticker:    ticker,
		State:     models.StateCreated,
		CreatedAt: time.Now().UTC(),
	}
	r.log.Info("strategy created", logger.String("strategy_id", id), logger.String("type", string(t)))
	return id, nil
}

// Remove drops strategyID from the active set. The server copy is deleted
// only if no ensemble references it; released reports whether that happened.
func (r *Registry) Remove(ctx context.Context, strategyID string) (released bool, err error) {
	r.mu.Lock()
	e, ok := r.entries[strategyID]
	if !ok || e.owners&ownerActive == 0 {
		r.mu.Unlock()
		return false, models.NewInconsistentState("remove", "strategy %s is not active", strategyID)
	}
	released = r.clearLocked(strategyID, e, ownerActive)
	r.mu.Unlock()

	if err := r.cache.Invalidate(ctx, strategyID); err != nil {
		r.log.Warn("cache invalidate failed", logger.String("strategy_id", strategyID), logger.Error(err))
	}
	if !released {
		r.log.Info("strategy kept for ensemble", logger.String("strategy_id", strategyID))
		return false, nil
	}
	return true, r.deleteRemote(ctx, strategyID)
}

// Attach records ensemble membership of strategyID. wasActive tells the
// caller how to undo the attach with Detach.
func (r *Registry) Attach(strategyID string) (wasActive bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[strategyID]; dead {
		return false, models.NewInconsistentState("attach", "strategy %s was deleted", strategyID)
	}
	e, ok := r.entries[strategyID]
	if !ok {
		t, _ := typeFromPrefix(strategyID)
		e = &entry{strategy: models.IndicatorStrategy{
			ID:        strategyID,
			Type:      t,
			State:     models.StateCreated,
			CreatedAt: time.Now().UTC(),
		}}
		r.entries[strategyID] = e
	}
	e.owners |= ownerMember
	return e.owners&ownerActive != 0, nil
}

// Detach undoes an Attach whose remote add failed. A strategy that was not
// active when attached is forgotten without a remote delete; one that was
// active and has since been removed is released normally.
func (r *Registry) Detach(ctx context.Context, strategyID string, wasActive bool) error {
	if wasActive {
		_, err := r.Release(ctx, strategyID)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[strategyID]; ok {
		e.owners &^= ownerMember
		if e.owners == 0 {
			delete(r.entries, strategyID)
		}
	}
	return nil
}

// Release clears ensemble membership of strategyID and deletes the server
// copy when the strategy is no longer active either.
func (r *Registry) Release(ctx context.Context, strategyID string) (released bool, err error) {
	r.mu.Lock()
	e, ok := r.entries[strategyID]
	if !ok || e.owners&ownerMember == 0 {
		r.mu.Unlock()
		return false, nil
	}
	released = r.clearLocked(strategyID, e, ownerMember)
	r.mu.Unlock()

	if !released {
		return false, nil
	}
	if err := r.cache.Invalidate(ctx, strategyID); err != nil {
		r.log.Warn("cache invalidate failed", logger.String("strategy_id", strategyID), logger.Error(err))
	}
	return true, r.deleteRemote(ctx, strategyID)
}

func (r *Registry) clearLocked(id string, e *entry, bit owner) bool {
	e.owners &^= bit
	if e.owners != 0 {
		return false
	}
	delete(r.entries, id)
	r.tombstones[id] = struct{}{}
	return true
}

func (r *Registry) deleteRemote(ctx context.Context, id string) error {
	if err := r.svc.Delete(ctx, id); err != nil {
		r.mu.Lock()
		r.pending[id] = struct{}{}
		r.mu.Unlock()
		r.log.Error("remote delete failed, queued for retry", logger.String("strategy_id", id), logger.Error(err))
		return err
	}
	r.log.Info("strategy deleted", logger.String("strategy_id", id))
	return nil
}

// SweepPending retries remote deletes that failed earlier and returns how
// many succeeded.
func (r *Registry) SweepPending(ctx context.Context) (int, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	done := 0
	for _, id := range ids {
		if err := r.svc.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		done++
	}
	return done, errors.Join(errs...)
}

// Pending returns ids whose remote delete is still outstanding.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveType finds the indicator type of strategyID: active set first,
// then the type recorded when it joined the ensemble, then the id prefix.
func (r *Registry) ResolveType(strategyID string) (models.IndicatorType, bool) {
	r.mu.Lock()
	e, ok := r.entries[strategyID]
	var t models.IndicatorType
	if ok {
		t = e.strategy.Type
	}
	r.mu.Unlock()

	if ok && t != "" {
		return t, true
	}
	return typeFromPrefix(strategyID)
}

func typeFromPrefix(id string) (models.IndicatorType, bool) {
	lower := strings.ToLower(id)
	for _, p := range typePrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.t, true
		}
	}
	return "", false
}

// Configure pushes a parameter patch and stores the returned snapshot.
func (r *Registry) Configure(ctx context.Context, strategyID string, patch models.Params) (models.Params, error) {
	if err := r.CheckUsable("configure", strategyID); err != nil {
		return nil, err
	}
	snap, err := r.svc.Configure(ctx, strategyID, patch)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if e, ok := r.entries[strategyID]; ok {
		e.strategy.Params = snap.Merge(nil)
		e.strategy.State = models.StateConfigured
	}
	r.mu.Unlock()

	if err := r.cache.Invalidate(ctx, strategyID); err != nil {
		r.log.Warn("cache invalidate failed", logger.String("strategy_id", strategyID), logger.Error(err))
	}
	return snap, nil
}

// MergeParams overlays params on the local parameter view only.
func (r *Registry) MergeParams(strategyID string, params models.Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strategyID]
	if !ok {
		return models.NewInconsistentState("merge_params", "unknown strategy %s", strategyID)
	}
	e.strategy.Params = e.strategy.Params.Merge(params)
	return nil
}

// CheckUsable fails when strategyID is deleted or unknown.
func (r *Registry) CheckUsable(op, strategyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[strategyID]; dead {
		return models.NewInconsistentState(op, "strategy %s was deleted", strategyID)
	}
	if _, ok := r.entries[strategyID]; !ok {
		return models.NewInconsistentState(op, "unknown strategy %s", strategyID)
	}
	return nil
}

// Get returns a copy of the strategy if it is known.
func (r *Registry) Get(strategyID string) (models.IndicatorStrategy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strategyID]
	if !ok {
		return models.IndicatorStrategy{}, false
	}
	s := e.strategy
	s.Params = s.Params.Merge(nil)
	return s, true
}

// IsActive reports whether strategyID is in the active set.
func (r *Registry) IsActive(strategyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strategyID]
	return ok && e.owners&ownerActive != 0
}

// IsDeleted reports whether strategyID reached its terminal state.
func (r *Registry) IsDeleted(strategyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, dead := r.tombstones[strategyID]
	return dead
}

// List returns the active strategies ordered by creation time.
func (r *Registry) List() []models.IndicatorStrategy {
	r.mu.Lock()
	out := make([]models.IndicatorStrategy, 0, len(r.entries))
	for _, e := range r.entries {
		if e.owners&ownerActive == 0 {
			continue
		}
		s := e.strategy
		s.Params = s.Params.Merge(nil)
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
