package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"SignalDesk/internal/domain/models"
)

func TestRegistryCreateRejectsUnknownType(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	if _, err := reg.Create(context.Background(), "AAPL", "STOCHASTIC"); !errors.Is(err, models.ErrInvalidIndicatorType) {
		t.Fatalf("expected ErrInvalidIndicatorType, got %v", err)
	}
	if svc.totalCalls() != 0 {
		t.Fatalf("invalid type reached the service")
	}
}

func TestRegistryCreateSurfacesRemoteError(t *testing.T) {
	svc := newFakeService()
	svc.failOp("create", 1)
	reg := NewRegistry(svc, newTestCache(t), nil)
	_, err := reg.Create(context.Background(), "AAPL", models.IndicatorRSI)
	if !models.IsRemote(err) {
		t.Fatalf("expected RemoteServiceError, got %v", err)
	}
	if len(reg.List()) != 0 {
		t.Fatalf("failed create registered a strategy")
	}
}

func TestRegistryActiveOnlyRemoveDeletes(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	ctx := context.Background()

	id, err := reg.Create(ctx, "AAPL", models.IndicatorRSI)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	released, err := reg.Remove(ctx, id)
	if err != nil || !released {
		t.Fatalf("remove = %v, %v", released, err)
	}
	if svc.deleteCount(id) != 1 {
		t.Fatalf("delete count = %d", svc.deleteCount(id))
	}
	if !reg.IsDeleted(id) {
		t.Fatalf("strategy should be terminal")
	}
	if _, err := reg.Remove(ctx, id); !models.IsInconsistentState(err) {
		t.Fatalf("second remove should be inconsistent, got %v", err)
	}
	if svc.deleteCount(id) != 1 {
		t.Fatalf("delete fired twice")
	}
}

func TestRegistryAttachAfterDeleteFails(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	ctx := context.Background()

	id, _ := reg.Create(ctx, "AAPL", models.IndicatorMACD)
	_, _ = reg.Remove(ctx, id)
	if _, err := reg.Attach(id); !models.IsInconsistentState(err) {
		t.Fatalf("attach of deleted strategy = %v", err)
	}
}

func TestRegistryRemoveInvalidatesCache(t *testing.T) {
	svc := newFakeService()
	sc := newTestCache(t)
	reg := NewRegistry(svc, sc, nil)
	ctx := context.Background()

	id, _ := reg.Create(ctx, "AAPL", models.IndicatorRSI)
	k := NewCacheKey(id, dayWindow(), kindSignals, "")
	_ = sc.Put(ctx, k, json.RawMessage(`1`))
	_, _ = reg.Remove(ctx, id)
	if has(t, sc, k) {
		t.Fatalf("cache entry survived remove")
	}
}

func TestRegistryFailedDeleteIsSwept(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	ctx := context.Background()

	id, _ := reg.Create(ctx, "AAPL", models.IndicatorBollinger)
	svc.failOp("delete", 1)
	if _, err := reg.Remove(ctx, id); !models.IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if got := reg.Pending(); len(got) != 1 || got[0] != id {
		t.Fatalf("pending = %v", got)
	}

	n, err := reg.SweepPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	if len(reg.Pending()) != 0 || svc.deleteCount(id) != 1 {
		t.Fatalf("sweep did not settle the delete")
	}
}

func TestRegistryResolveType(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	ctx := context.Background()

	// active set wins over the prefix
	active, _ := reg.Create(ctx, "AAPL", models.IndicatorRSI)
	if got, ok := reg.ResolveType(active); !ok || got != models.IndicatorRSI {
		t.Fatalf("active = %v, %v", got, ok)
	}

	if _, err := reg.Attach("macd_ext"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got, ok := reg.ResolveType("macd_ext"); !ok || got != models.IndicatorMACD {
		t.Fatalf("member = %v, %v", got, ok)
	}

	cases := map[string]models.IndicatorType{
		"ma_crossover_9": models.IndicatorMACrossover,
		"rsi_abc":        models.IndicatorRSI,
		"macd_def":       models.IndicatorMACD,
		"bb_1":           models.IndicatorBollinger,
		"BB_upper":       models.IndicatorBollinger,
	}
	for id, want := range cases {
		if got, ok := reg.ResolveType(id); !ok || got != want {
			t.Fatalf("ResolveType(%s) = %v, %v", id, got, ok)
		}
	}
	if _, ok := reg.ResolveType("stoch_1"); ok {
		t.Fatalf("unknown prefix resolved")
	}
}

func TestRegistryConfigureStoresSnapshot(t *testing.T) {
	svc := newFakeService()
	sc := newTestCache(t)
	reg := NewRegistry(svc, sc, nil)
	ctx := context.Background()

	id, _ := reg.Create(ctx, "AAPL", models.IndicatorRSI)
	k := NewCacheKey(id, dayWindow(), kindSignals, "")
	_ = sc.Put(ctx, k, json.RawMessage(`1`))

	params, err := reg.Configure(ctx, id, models.Params{"overbought": 70})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if params["overbought"] != 70 || params["period"] != 14 {
		t.Fatalf("params = %v", params)
	}
	s, _ := reg.Get(id)
	if s.State != models.StateConfigured || s.Params["overbought"] != 70 {
		t.Fatalf("strategy = %+v", s)
	}
	if has(t, sc, k) {
		t.Fatalf("configure must invalidate the strategy's cache")
	}

	if _, err := reg.Configure(ctx, "rsi_unknown", nil); !models.IsInconsistentState(err) {
		t.Fatalf("configure unknown = %v", err)
	}
}

func TestRegistryDetachForgetsInactiveStrategy(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)

	wasActive, _ := reg.Attach("rsi_ext")
	if wasActive {
		t.Fatalf("external strategy reported active")
	}
	if err := reg.Detach(context.Background(), "rsi_ext", wasActive); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if reg.IsDeleted("rsi_ext") || svc.count("delete") != 0 {
		t.Fatalf("detach must not delete")
	}
	if _, ok := reg.Get("rsi_ext"); ok {
		t.Fatalf("detached strategy still tracked")
	}
}

func TestRegistryMergeParamsAndUsability(t *testing.T) {
	svc := newFakeService()
	reg := NewRegistry(svc, newTestCache(t), nil)
	ctx := context.Background()

	id, _ := reg.Create(ctx, "AAPL", models.IndicatorRSI)
	if err := reg.CheckUsable("signals", id); err != nil {
		t.Fatalf("live strategy unusable: %v", err)
	}
	if err := reg.MergeParams(id, models.Params{"period": 21}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if s, _ := reg.Get(id); s.Params["period"] != 21 {
		t.Fatalf("params = %v", s.Params)
	}
	if err := reg.MergeParams("rsi_unknown", models.Params{"period": 5}); !models.IsInconsistentState(err) {
		t.Fatalf("merge unknown = %v", err)
	}

	if _, err := reg.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reg.CheckUsable("signals", id); !models.IsInconsistentState(err) {
		t.Fatalf("deleted strategy usable: %v", err)
	}
	if err := reg.CheckUsable("signals", "rsi_unknown"); !models.IsInconsistentState(err) {
		t.Fatalf("unknown strategy usable: %v", err)
	}
}
