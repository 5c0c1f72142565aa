package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
)

type memoryEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memoryEvents) PublishEvent(_ context.Context, e models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryEvents) Close() error { return nil }

func (m *memoryEvents) types() []models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type memoryReports struct {
	mu      sync.Mutex
	reports []models.BacktestReport
}

func (m *memoryReports) SaveReport(_ context.Context, r models.BacktestReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memoryReports) ListReports(_ context.Context, targetID string, _ int) ([]models.BacktestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BacktestReport
	for _, r := range m.reports {
		if r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryReports) Close() error { return nil }

type memoryPresets struct {
	mu      sync.Mutex
	presets map[string]models.Preset
}

func (m *memoryPresets) SavePreset(_ context.Context, p models.Preset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[p.Name] = p
	return nil
}

func (m *memoryPresets) GetPreset(_ context.Context, name string) (models.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[name]
	if !ok {
		return models.Preset{}, repository.ErrNotFound
	}
	return p, nil
}

func (m *memoryPresets) ListPresets(context.Context) ([]models.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Preset, 0, len(m.presets))
	for _, p := range m.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryPresets) DeletePreset(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.presets, name)
	return nil
}

func (m *memoryPresets) Close() error { return nil }

type engineFixture struct {
	engine  *Engine
	svc     *fakeService
	events  *memoryEvents
	reports *memoryReports
	presets *memoryPresets
}

func newEngineFixture(t *testing.T) engineFixture {
	t.Helper()
	f := engineFixture{
		svc:     newFakeService(),
		events:  &memoryEvents{},
		reports: &memoryReports{},
		presets: &memoryPresets{presets: make(map[string]models.Preset)},
	}
	f.engine = NewEngine(EngineDeps{
		Service: f.svc,
		Cache:   newTestCache(t),
		Events:  f.events,
		Reports: f.reports,
		Presets: f.presets,
	}, EngineConfig{
		Controller: ControllerConfig{RefetchAttempts: 1, RefetchBackoff: time.Millisecond, TeardownOnEmpty: true},
	})
	return f
}

func TestEngineSignalsAreCached(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)

	first, err := f.engine.Signals(ctx, s.ID)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	second, err := f.engine.Signals(ctx, s.ID)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if f.svc.count("signals") != 1 {
		t.Fatalf("second read should hit cache, calls = %d", f.svc.count("signals"))
	}
	if len(second) != len(first) || !second[0].Date.Equal(first[0].Date) {
		t.Fatalf("cached series differs: %+v vs %+v", second, first)
	}
}

func TestEngineSetViewClearsCacheOnChangeOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)
	_, _ = f.engine.Signals(ctx, s.ID)

	changed, err := f.engine.SetView(ctx, models.ViewState{Window: models.Window{Timeframe: "1d"}})
	if err != nil || changed {
		t.Fatalf("identical view reported change: %v, %v", changed, err)
	}
	_, _ = f.engine.Signals(ctx, s.ID)
	if f.svc.count("signals") != 1 {
		t.Fatalf("unchanged view dropped the cache")
	}

	changed, _ = f.engine.SetView(ctx, models.ViewState{Window: models.Window{Timeframe: "1d"}, ShowVolume: true})
	if !changed {
		t.Fatalf("volume toggle must count as a change")
	}
	_, _ = f.engine.Signals(ctx, s.ID)
	if f.svc.count("signals") != 2 {
		t.Fatalf("changed view kept the cache, calls = %d", f.svc.count("signals"))
	}
}

func TestEngineSetViewValidatesWindow(t *testing.T) {
	f := newEngineFixture(t)
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)
	if _, err := f.engine.SetView(context.Background(), models.ViewState{Window: models.Window{Timeframe: "1d", Start: &start, End: &end}}); err == nil {
		t.Fatalf("end before start accepted")
	}
	if _, err := f.engine.SetView(context.Background(), models.ViewState{Window: models.Window{Timeframe: "3m"}}); err == nil {
		t.Fatalf("unknown timeframe accepted")
	}
}

func TestEngineLateResponseAfterViewChangeIsDiscarded(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	f.svc.mu.Lock()
	f.svc.signalsGate, f.svc.signalsStarted = gate, started
	f.svc.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Signals(ctx, s.ID)
		done <- err
	}()
	<-started

	// Same timeframe, new date range: the in-flight request is superseded.
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.engine.SetView(ctx, models.ViewState{Window: models.Window{Timeframe: "1d", Start: &from}}); err != nil {
		t.Fatalf("set view: %v", err)
	}
	if _, err := f.engine.SetView(ctx, models.ViewState{Window: models.Window{Timeframe: "1d"}}); err != nil {
		t.Fatalf("set view back: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("signals: %v", err)
	}

	key := NewCacheKey(s.ID, models.Window{Timeframe: "1d"}, kindSignals, "")
	if has(t, f.engine.cache, key) {
		t.Fatalf("late response from a superseded view was cached")
	}
}

func TestEngineSignalsOfDeletedStrategyFail(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorMACD)
	if err := f.engine.RemoveStrategy(ctx, s.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.engine.Signals(ctx, s.ID); !models.IsInconsistentState(err) {
		t.Fatalf("signals of deleted strategy = %v", err)
	}
	if _, err := f.engine.Signals(ctx, "rsi_never"); !models.IsInconsistentState(err) {
		t.Fatalf("signals of unknown strategy = %v", err)
	}
}

func TestEngineIndicatorPlotVariesByVolume(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorBollinger)

	raw, err := f.engine.IndicatorPlot(ctx, s.ID, map[string]string{"band": "upper"})
	if err != nil || string(raw) != `{"points":[1,2,3]}` {
		t.Fatalf("plot = %s, %v", raw, err)
	}
	_, _ = f.engine.IndicatorPlot(ctx, s.ID, map[string]string{"band": "upper"})
	if f.svc.count("indicator_plot") != 1 {
		t.Fatalf("plot should be cached")
	}
	_, _ = f.engine.IndicatorPlot(ctx, s.ID, map[string]string{"band": "lower"})
	if f.svc.count("indicator_plot") != 2 {
		t.Fatalf("different query must miss the cache")
	}
}

func TestEngineEnsembleSignalsReadable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, _ = f.engine.AddMember(ctx, "rsi_1", 0, Refetch)
	if _, err := f.engine.Signals(ctx, f.engine.EnsembleSnapshot().ID); err != nil {
		t.Fatalf("ensemble signals: %v", err)
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)
	_, _ = f.engine.AddMember(ctx, s.ID, 0, Refetch)
	_, _ = f.engine.RemoveMember(ctx, s.ID, Refetch)
	_ = f.engine.RemoveStrategy(ctx, s.ID)

	want := []models.EventType{
		models.EventStrategyCreated,
		models.EventEnsembleCreated,
		models.EventMemberAdded,
		models.EventMemberRemoved,
		models.EventEnsembleDeleted,
		models.EventStrategyDeleted,
	}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestEngineAddMemberKeepsZeroWeight(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, _ = f.engine.AddMember(ctx, "rsi_1", 0, TrustLocal)
	_, _ = f.engine.AddMember(ctx, "macd_2", 0, TrustLocal)
	for _, m := range f.engine.EnsembleSnapshot().Members {
		if m.Weight != 0 {
			t.Fatalf("weight of %s = %v, want 0", m.StrategyID, m.Weight)
		}
	}
	if f.engine.DefaultWeight() != 1 {
		t.Fatalf("default weight = %v", f.engine.DefaultWeight())
	}
}

func TestEngineConfigureMemberInvalidatesEnsembleSignals(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)
	_, _ = f.engine.AddMember(ctx, s.ID, 1, TrustLocal)
	ens := f.engine.EnsembleSnapshot().ID

	if _, err := f.engine.Signals(ctx, ens); err != nil {
		t.Fatalf("ensemble signals: %v", err)
	}
	_, _ = f.engine.Signals(ctx, ens)
	if f.svc.count("signals") != 1 {
		t.Fatalf("ensemble signals should be cached, calls = %d", f.svc.count("signals"))
	}

	if _, err := f.engine.ConfigureStrategy(ctx, s.ID, models.Params{"period": 21}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := f.engine.Signals(ctx, ens); err != nil {
		t.Fatalf("ensemble signals: %v", err)
	}
	if f.svc.count("signals") != 2 {
		t.Fatalf("configuring a member must refresh ensemble signals, calls = %d", f.svc.count("signals"))
	}
}

func TestEngineBacktestArchivesReport(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	s, _ := f.engine.CreateStrategy(ctx, "AAPL", models.IndicatorRSI)

	report, err := f.engine.Backtest(ctx, s.ID, models.Window{})
	if err != nil {
		t.Fatalf("backtest: %v", err)
	}
	if report.Timeframe != "1d" {
		t.Fatalf("backtest should default to the view window, got %q", report.Timeframe)
	}
	list, err := f.engine.Reports(ctx, s.ID, 10)
	if err != nil || len(list) != 1 || list[0].Metrics["sharpe"] != 1.2 {
		t.Fatalf("reports = %+v, %v", list, err)
	}
}

func TestEnginePresetsRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, _ = f.engine.AddMember(ctx, "rsi_1", 2, TrustLocal)
	_, _ = f.engine.AddMember(ctx, "macd_2", 3, TrustLocal)
	majority := models.VotingMajority
	_, _ = f.engine.UpdateEnsembleParams(ctx, models.EnsembleParamsPatch{Method: &majority, VoteThreshold: ptr(0.2)}, TrustLocal)

	if _, err := f.engine.SavePreset(ctx, "momentum"); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, _ = f.engine.RemoveMember(ctx, "macd_2", TrustLocal)
	_, _ = f.engine.RemoveMember(ctx, "rsi_1", TrustLocal)
	if f.engine.EnsembleSnapshot().Exists() {
		t.Fatalf("ensemble should be torn down")
	}

	// the removed members were deleted, so only fresh ids can be re-applied
	p, _ := f.presets.GetPreset(ctx, "momentum")
	p.Members = []models.Member{{StrategyID: "rsi_7", Weight: 2}, {StrategyID: "bb_8", Weight: 3}}
	_ = f.presets.SavePreset(ctx, p)

	snap, err := f.engine.ApplyPreset(ctx, "momentum")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if snap.Method != models.VotingMajority || snap.VoteThreshold != 0.2 {
		t.Fatalf("params not applied: %+v", snap)
	}
	if len(snap.Members) != 2 || snap.Members[0].Weight != 2 || snap.Members[1].Weight != 3 {
		t.Fatalf("members = %+v", snap.Members)
	}

	list, _ := f.engine.ListPresets(ctx)
	if len(list) != 1 || list[0].Name != "momentum" {
		t.Fatalf("presets = %+v", list)
	}
}

func TestEnginePresetsDisabled(t *testing.T) {
	e := NewEngine(EngineDeps{Service: newFakeService(), Cache: newTestCache(t)}, EngineConfig{})
	if _, err := e.ListPresets(context.Background()); !errors.Is(err, ErrPresetsDisabled) {
		t.Fatalf("err = %v", err)
	}
	if _, err := e.SavePreset(context.Background(), "x"); !errors.Is(err, ErrPresetsDisabled) {
		t.Fatalf("err = %v", err)
	}
}
