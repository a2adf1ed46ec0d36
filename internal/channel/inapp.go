package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/model"
)

// InboxMessage is one in-app notification as surfaced to a recipient's
// notification center.
type InboxMessage struct {
	BroadcastID string              `json:"broadcast_id"`
	Title       string              `json:"title"`
	Body        string              `json:"body"`
	Type        model.BroadcastType `json:"type"`
	Priority    model.Priority      `json:"priority"`
	RequiresAck bool                `json:"requires_ack"`
	ReceivedAt  time.Time           `json:"received_at"`
}

// ReceiptFunc lets the in-app adapter confirm delivery immediately: appending
// to the inbox IS delivery, so the adapter self-reports a delivered receipt
// the way an external provider would push one asynchronously.
type ReceiptFunc func(broadcastID, recipientID string, ch model.Channel, state model.AttemptState, at time.Time)

// InboxAdapter is the in-app channel: no external provider, messages land in
// a per-recipient inbox queried through the API.
type InboxAdapter struct {
	mu      sync.RWMutex
	inboxes map[string][]InboxMessage

	receipt ReceiptFunc
}

func NewInbox() *InboxAdapter {
	return &InboxAdapter{inboxes: map[string][]InboxMessage{}}
}

// OnDeliver installs the receipt callback (wired to the delivery tracker).
func (a *InboxAdapter) OnDeliver(fn ReceiptFunc) { a.receipt = fn }

func (a *InboxAdapter) Channel() model.Channel { return model.ChannelInApp }

func (a *InboxAdapter) Send(ctx context.Context, rcpt *audience.Recipient, b *model.Broadcast) Outcome {
	_ = ctx
	msg := InboxMessage{
		BroadcastID: b.ID,
		Title:       b.Title,
		Body:        b.Body,
		Type:        b.Type,
		Priority:    b.Priority,
		RequiresAck: b.RequiresAck,
		ReceivedAt:  time.Now(),
	}

	a.mu.Lock()
	// Replays (re-notification rounds) refresh the timestamp instead of
	// duplicating the message.
	replaced := false
	for i, have := range a.inboxes[rcpt.ID] {
		if have.BroadcastID == b.ID {
			a.inboxes[rcpt.ID][i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		a.inboxes[rcpt.ID] = append(a.inboxes[rcpt.ID], msg)
	}
	a.mu.Unlock()

	if a.receipt != nil {
		a.receipt(b.ID, rcpt.ID, model.ChannelInApp, model.StateDelivered, msg.ReceivedAt)
	}
	return Accepted()
}

// Inbox returns a recipient's messages, newest first.
func (a *InboxAdapter) Inbox(recipientID string) []InboxMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := append([]InboxMessage(nil), a.inboxes[recipientID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}
