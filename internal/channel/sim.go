package channel

import (
	"context"
	"sync"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/model"
)

// SimAdapter is a provider stand-in for the external channels (push, email,
// sms). Real vendor integrations plug in behind the same Adapter contract;
// the simulator is what dev mode and the tests run against.
//
// Behavior is scriptable per recipient: Script() queues outcomes that are
// consumed one per send, after which the default outcome applies. This is how
// tests express "unavailable once, then accepted".
type SimAdapter struct {
	ch model.Channel

	mu      sync.Mutex
	script  map[string][]Outcome
	def     Outcome
	latency time.Duration

	sent []SimSend
}

// SimSend records one delivered-to-provider send for assertions.
type SimSend struct {
	RecipientID string
	BroadcastID string
	At          time.Time
}

func NewSim(ch model.Channel) *SimAdapter {
	return &SimAdapter{ch: ch, script: map[string][]Outcome{}, def: Accepted()}
}

func (s *SimAdapter) Channel() model.Channel { return s.ch }

// SetDefault changes the outcome used when no scripted outcome is queued.
func (s *SimAdapter) SetDefault(o Outcome) {
	s.mu.Lock()
	s.def = o
	s.mu.Unlock()
}

// SetLatency adds a fixed artificial delay per send.
func (s *SimAdapter) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Script queues outcomes for a recipient, consumed in order.
func (s *SimAdapter) Script(recipientID string, outcomes ...Outcome) {
	s.mu.Lock()
	s.script[recipientID] = append(s.script[recipientID], outcomes...)
	s.mu.Unlock()
}

// Sent returns a copy of the accepted sends so far.
func (s *SimAdapter) Sent() []SimSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimSend(nil), s.sent...)
}

func (s *SimAdapter) Send(ctx context.Context, rcpt *audience.Recipient, b *model.Broadcast) Outcome {
	s.mu.Lock()
	delay := s.latency
	var out Outcome
	if q := s.script[rcpt.ID]; len(q) > 0 {
		out = q[0]
		s.script[rcpt.ID] = q[1:]
	} else {
		out = s.def
	}
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Unavailable(ctx.Err())
		case <-t.C:
		}
	}

	if out.Kind == OutcomeAccepted {
		s.mu.Lock()
		s.sent = append(s.sent, SimSend{RecipientID: rcpt.ID, BroadcastID: b.ID, At: time.Now()})
		s.mu.Unlock()
	}
	return out
}
