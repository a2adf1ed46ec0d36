package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	logx "tourcast/pkg/logx"
)

func seedBroadcast(t *testing.T, store storage.Store, status model.Status) *model.Broadcast {
	t.Helper()
	b := &model.Broadcast{
		ID:        "b-" + string(status),
		Title:     "Road closure",
		Body:      "The main road into town is closed until further notice.",
		Type:      model.TypeInfo,
		Priority:  model.PriorityMedium,
		Audience:  model.AllTourists(),
		Channels:  []model.Channel{model.ChannelPush},
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := store.CreateBroadcast(context.Background(), b); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return b
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from model.Status
		to   model.Status
		ok   bool
	}{
		{model.StatusDraft, model.StatusScheduled, true},
		{model.StatusDraft, model.StatusSending, true},
		{model.StatusDraft, model.StatusCancelled, true},
		{model.StatusDraft, model.StatusSent, false},
		{model.StatusScheduled, model.StatusSending, true},
		{model.StatusScheduled, model.StatusCancelled, true},
		{model.StatusScheduled, model.StatusExpired, true},
		{model.StatusScheduled, model.StatusDraft, false},
		{model.StatusSending, model.StatusSent, true},
		{model.StatusSending, model.StatusFailed, true},
		{model.StatusSending, model.StatusExpired, true},
		{model.StatusSending, model.StatusCancelled, false},
		{model.StatusSent, model.StatusExpired, true},
		{model.StatusSent, model.StatusSending, false},
		{model.StatusFailed, model.StatusSending, false},
		{model.StatusExpired, model.StatusSent, false},
		{model.StatusCancelled, model.StatusSending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTransitionSetsSentAt(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := New(store, eventbus.New(), logx.Nop())
	b := seedBroadcast(t, store, model.StatusSending)

	got, err := m.Transition(context.Background(), b.ID, model.StatusSent)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != model.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Fatal("SentAt not set on sent transition")
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := New(store, nil, logx.Nop())
	b := seedBroadcast(t, store, model.StatusSent)

	_, err := m.Transition(context.Background(), b.ID, model.StatusSending)
	if !model.IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestTransitionUnknownBroadcast(t *testing.T) {
	t.Parallel()
	m := New(storage.NewMemory(), nil, logx.Nop())
	_, err := m.Transition(context.Background(), "nope", model.StatusSending)
	if !model.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

// Two sweepers racing to release the same scheduled broadcast: exactly one
// wins, the other observes InvalidStateError.
func TestConcurrentReleaseSingleWinner(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	m := New(store, eventbus.New(), logx.Nop())
	b := seedBroadcast(t, store, model.StatusScheduled)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Transition(context.Background(), b.ID, model.StatusSending)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case model.IsInvalidState(err):
		case errors.Is(err, model.ErrVersionConflict):
			t.Fatalf("CAS retry budget exhausted: %v", err)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}
