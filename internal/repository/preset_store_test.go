package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
)

func newTestPresetStore(t *testing.T) *SQLitePresetStore {
	t.Helper()
	s, err := NewSQLitePresetStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPresetStoreRoundTripAndUpsert(t *testing.T) {
	s := newTestPresetStore(t)
	ctx := context.Background()
	saved := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p := models.Preset{
		Name:          "momentum",
		Members:       []models.Member{{StrategyID: "rsi_1", Weight: 0.7}, {StrategyID: "macd_2", Weight: 0.3}},
		Method:        models.VotingWeighted,
		VoteThreshold: 0.2,
		SavedAt:       saved,
	}
	if err := s.SavePreset(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetPreset(ctx, "momentum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Members) != 2 || got.Members[1].StrategyID != "macd_2" || got.Members[0].Weight != 0.7 {
		t.Fatalf("members not preserved in order: %+v", got.Members)
	}
	if !got.SavedAt.Equal(saved) || got.Method != models.VotingWeighted {
		t.Fatalf("unexpected preset %+v", got)
	}

	p.Method = models.VotingMajority
	p.Members = p.Members[:1]
	if err := s.SavePreset(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	list, err := s.ListPresets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Method != models.VotingMajority || len(list[0].Members) != 1 {
		t.Fatalf("upsert did not replace: %+v", list)
	}
}

func TestPresetStoreListOrderedByName(t *testing.T) {
	s := newTestPresetStore(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.SavePreset(ctx, models.Preset{Name: name, Method: models.VotingWeighted}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	list, err := s.ListPresets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "zeta" {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].SavedAt.IsZero() {
		t.Fatalf("saved_at should default to now")
	}
}

func TestPresetStoreNotFound(t *testing.T) {
	s := newTestPresetStore(t)
	ctx := context.Background()
	if _, err := s.GetPreset(ctx, "missing"); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeletePreset(ctx, "missing"); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}
