package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/cache"
)

// fakeService is an in-memory strategy service that records every call.
type fakeService struct {
	mu          sync.Mutex
	seq         int
	ensembleSeq int
	calls       []string
	failures    map[string]int // remaining failures per op, -1 for always
	deletes     map[string]int

	ensembleID string
	members    []string
	weights    []float64
	method     models.VotingMethod
	threshold  float64
	updates    []models.EnsembleParamsPatch

	fetchWeights []float64
	optimize     models.OptimizeResult
	series       models.SignalSeries

	signalsGate    chan struct{}
	signalsStarted chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		failures: make(map[string]int),
		deletes:  make(map[string]int),
		method:   models.VotingWeighted,
		series: models.SignalSeries{
			{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: 1},
			{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Value: -1},
		},
	}
}

func remoteErr(op string) error {
	return &models.RemoteServiceError{Op: op, Status: 500, Err: errors.New("boom")}
}

func (f *fakeService) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	switch n := f.failures[op]; {
	case n < 0:
		return remoteErr(op)
	case n > 0:
		f.failures[op] = n - 1
		return remoteErr(op)
	}
	return nil
}

func (f *fakeService) failOp(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

func (f *fakeService) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeService) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeService) deleteCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[id]
}

func (f *fakeService) lastUpdate() (models.EnsembleParamsPatch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return models.EnsembleParamsPatch{}, false
	}
	return f.updates[len(f.updates)-1], true
}

func (f *fakeService) setFetchWeights(w []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchWeights = w
}

func idPrefix(t models.IndicatorType) string {
	if t == models.IndicatorBollinger {
		return "bb"
	}
	return strings.ToLower(string(t))
}

func (f *fakeService) Create(_ context.Context, _ string, t models.IndicatorType) (string, error) {
	if err := f.record("create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s_%d", idPrefix(t), f.seq), nil
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	if err := f.record("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes[id]++
	return nil
}

func (f *fakeService) Configure(_ context.Context, _ string, patch models.Params) (models.Params, error) {
	if err := f.record("configure"); err != nil {
		return nil, err
	}
	return models.Params{"period": 14}.Merge(patch), nil
}

func (f *fakeService) OptimizeParams(context.Context, string, models.Window) (models.Params, error) {
	if err := f.record("optimize_params"); err != nil {
		return nil, err
	}
	return models.Params{"period": 21}, nil
}

func (f *fakeService) OptimizeWeights(context.Context, string, models.Window, int) (models.OptimizeResult, error) {
	if err := f.record("optimize_weights"); err != nil {
		return models.OptimizeResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.optimize
	if res.VoteThreshold != nil {
		t := *res.VoteThreshold
		res.VoteThreshold = &t
	}
	return res, nil
}

func (f *fakeService) Signals(context.Context, string, models.Window) (models.SignalSeries, error) {
	if err := f.record("signals"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	gate, started := f.signalsGate, f.signalsStarted
	out := append(models.SignalSeries(nil), f.series...)
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return out, nil
}

func (f *fakeService) IndicatorPlot(context.Context, string, map[string]string) (json.RawMessage, error) {
	if err := f.record("indicator_plot"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"points":[1,2,3]}`), nil
}

func (f *fakeService) Backtest(_ context.Context, targetID string, w models.Window) (models.BacktestReport, error) {
	if err := f.record("backtest"); err != nil {
		return models.BacktestReport{}, err
	}
	return models.BacktestReport{TargetID: targetID, Timeframe: w.Timeframe, Metrics: map[string]float64{"sharpe": 1.2}}, nil
}

func (f *fakeService) CreateEnsemble(_ context.Context, seed string) (string, error) {
	if err := f.record("create_ensemble"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensembleSeq++
	f.ensembleID = fmt.Sprintf("ens_%d", f.ensembleSeq)
	f.members = []string{seed}
	f.weights = []float64{1}
	f.method = models.VotingWeighted
	f.threshold = 0
	return f.ensembleID, nil
}

func (f *fakeService) DeleteEnsemble(context.Context, string) error {
	if err := f.record("delete_ensemble"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensembleID = ""
	f.members, f.weights = nil, nil
	return nil
}

func (f *fakeService) AddMember(_ context.Context, _ string, sid string, weight float64) (models.Params, error) {
	if err := f.record("add_member"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, sid)
	f.weights = append(f.weights, weight)
	return models.Params{"weights": append([]float64(nil), f.weights...)}, nil
}

// RemoveMember renormalizes the remaining weights to equal shares.
func (f *fakeService) RemoveMember(_ context.Context, _ string, sid string) (models.Params, error) {
	if err := f.record("remove_member"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.members {
		if m == sid {
			f.members = append(f.members[:i], f.members[i+1:]...)
			break
		}
	}
	f.weights = make([]float64, len(f.members))
	for i := range f.weights {
		f.weights[i] = 1 / float64(len(f.members))
	}
	return models.Params{"weights": append([]float64(nil), f.weights...)}, nil
}

func (f *fakeService) FetchEnsembleParams(context.Context, string) (models.EnsembleParams, error) {
	if err := f.record("fetch_params"); err != nil {
		return models.EnsembleParams{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.weights
	if f.fetchWeights != nil {
		w = f.fetchWeights
	}
	return models.EnsembleParams{Method: f.method, VoteThreshold: f.threshold, Weights: append([]float64(nil), w...)}, nil
}

func (f *fakeService) UpdateEnsembleParams(_ context.Context, _ string, patch models.EnsembleParamsPatch) (models.Params, error) {
	if err := f.record("update_params"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	if patch.Method != nil {
		f.method = *patch.Method
	}
	if patch.VoteThreshold != nil {
		f.threshold = *patch.VoteThreshold
	}
	for i := 0; i < len(patch.Weights) && i < len(f.weights); i++ {
		f.weights[i] = patch.Weights[i]
	}
	return models.Params{"method": string(f.method), "vote_threshold": f.threshold}, nil
}

func newTestCache(t *testing.T) *SignalCache {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	return NewSignalCache(store)
}

func newTestController(t *testing.T, svc *fakeService) (*EnsembleController, *Registry, *SignalCache) {
	t.Helper()
	sc := newTestCache(t)
	reg := NewRegistry(svc, sc, nil)
	ctrl := NewEnsembleController(svc, reg, sc, nil, nil, nil, ControllerConfig{
		RefetchAttempts: 2,
		RefetchBackoff:  time.Millisecond,
		TeardownOnEmpty: true,
	})
	return ctrl, reg, sc
}

func ptr[T any](v T) *T { return &v }
