package flowstate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/intake/intake/internal/domain/survey"
	"github.com/intake/intake/internal/platform/flowstate"
)

func newTestStore(t *testing.T, opts ...flowstate.Option) (*flowstate.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := flowstate.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := survey.NewFlowState("welcome", time.Now())
	state.Advance("welcome", survey.Answer{"selected": true}, "main_trigger")

	if err := store.Save(ctx, "sess-1", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.CurrentNode != "main_trigger" {
		t.Errorf("CurrentNode = %q, want main_trigger", loaded.CurrentNode)
	}
	if len(loaded.History) != 2 {
		t.Errorf("History = %v, want two entries", loaded.History)
	}
	if loaded.Answers.Answer("welcome") == nil {
		t.Error("answers should survive the round trip")
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, flowstate.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", survey.NewFlowState("a", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, flowstate.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active = %v, want empty after delete", active)
	}
}

func TestStore_TTLExpiresState(t *testing.T) {
	store, mr := newTestStore(t, flowstate.WithTTL(30*time.Minute))
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", survey.NewFlowState("a", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr.FastForward(31 * time.Minute)

	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, flowstate.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestStore_SaveRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t, flowstate.WithTTL(30*time.Minute))
	ctx := context.Background()

	state := survey.NewFlowState("a", time.Now())
	if err := store.Save(ctx, "sess-1", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr.FastForward(20 * time.Minute)
	if err := store.Save(ctx, "sess-1", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr.FastForward(20 * time.Minute)

	if _, err := store.Load(ctx, "sess-1"); err != nil {
		t.Errorf("state should survive while being touched, got %v", err)
	}
}

func TestStore_ActiveListsLiveSessions(t *testing.T) {
	store, mr := newTestStore(t, flowstate.WithTTL(30*time.Minute))
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", survey.NewFlowState("a", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(ctx, "sess-2", survey.NewFlowState("a", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A leftover index entry whose expiry already passed must be pruned.
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()
	client.ZAdd(ctx, "intake:flow:index", backend.Z{
		Score:  float64(time.Now().Add(-time.Hour).Unix()),
		Member: "sess-stale",
	})

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %v, want the two live sessions", active)
	}
	for _, id := range active {
		if id == "sess-stale" {
			t.Error("stale session should have been pruned")
		}
	}
}

func TestStore_WithPrefix(t *testing.T) {
	store, mr := newTestStore(t, flowstate.WithPrefix("custom:"))
	if err := store.Save(context.Background(), "sess-1", survey.NewFlowState("a", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists("custom:sess-1") {
		t.Error("state should live under the configured prefix")
	}
}
