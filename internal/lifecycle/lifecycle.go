// Package lifecycle owns the broadcast status state machine. Every status
// write in the system goes through Manager.Transition, which enforces the
// transition table with per-broadcast check-and-set. That is what turns an
// at-least-once scheduler double-trigger into a no-op instead of a double
// send.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	logx "tourcast/pkg/logx"
)

// transitions is the full table. Expiry is reachable from every non-terminal
// state; failed/expired/cancelled are dead ends.
var transitions = map[model.Status][]model.Status{
	model.StatusDraft:     {model.StatusScheduled, model.StatusSending, model.StatusCancelled, model.StatusExpired},
	model.StatusScheduled: {model.StatusSending, model.StatusCancelled, model.StatusExpired},
	model.StatusSending:   {model.StatusSent, model.StatusFailed, model.StatusExpired},
	model.StatusSent:      {model.StatusExpired},
	model.StatusFailed:    {},
	model.StatusExpired:   {},
	model.StatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const casMaxAttempts = 8

type Manager struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: store, bus: bus, log: log}
}

// Transition moves the broadcast to the target status, retrying version
// conflicts. Returns InvalidStateError when the current status does not allow
// the edge; concurrent racers therefore get exactly one winner.
func (m *Manager) Transition(ctx context.Context, id string, to model.Status) (*model.Broadcast, error) {
	if !to.Valid() {
		return nil, model.Validationf("unknown status %q", to)
	}

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		b, err := m.store.GetBroadcast(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanTransition(b.Status, to) {
			return nil, &model.InvalidStateError{ID: id, From: b.Status, To: to}
		}

		from := b.Status
		b.Status = to
		if to == model.StatusSent && b.SentAt == nil {
			now := time.Now()
			b.SentAt = &now
		}

		err = m.store.UpdateBroadcast(ctx, b)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m.log.Info("broadcast transitioned",
			logx.String("broadcast", id),
			logx.String("from", string(from)),
			logx.String("to", string(to)))
		m.publish(b, to)
		return b, nil
	}
	return nil, model.ErrVersionConflict
}

func (m *Manager) publish(b *model.Broadcast, to model.Status) {
	if m.bus == nil {
		return
	}
	var typ string
	switch to {
	case model.StatusScheduled:
		typ = eventbus.EventBroadcastScheduled
	case model.StatusSending:
		typ = eventbus.EventBroadcastSending
	case model.StatusSent:
		typ = eventbus.EventBroadcastSent
	case model.StatusFailed:
		typ = eventbus.EventBroadcastFailed
	case model.StatusExpired:
		typ = eventbus.EventBroadcastExpired
	case model.StatusCancelled:
		typ = eventbus.EventBroadcastCancelled
	default:
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: b.Clone()})
}
