package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/model"
)

func sampleBroadcast(id string) *model.Broadcast {
	return &model.Broadcast{
		ID:          id,
		Title:       "Water advisory",
		Body:        "Tap water is unsafe to drink until further notice.",
		Type:        model.TypeAlert,
		Priority:    model.PriorityHigh,
		RequiresAck: true,
	}
}

func TestOutcomeFailureReason(t *testing.T) {
	t.Parallel()
	if got := Rejected("bad address").FailureReason(); got != "bad address" {
		t.Fatalf("rejected reason = %q", got)
	}
	if got := Rejected("").FailureReason(); got != "rejected by provider" {
		t.Fatalf("empty rejected reason = %q", got)
	}
	if got := Unavailable(errors.New("timeout")).FailureReason(); got != "timeout" {
		t.Fatalf("unavailable reason = %q", got)
	}
	if got := Accepted().FailureReason(); got != "" {
		t.Fatalf("accepted reason = %q", got)
	}
}

func TestSimAdapterScriptConsumedInOrder(t *testing.T) {
	t.Parallel()
	sim := NewSim(model.ChannelEmail)
	sim.Script("r1", Unavailable(errors.New("greylisted")), Accepted())
	rcpt := &audience.Recipient{ID: "r1"}
	b := sampleBroadcast("b1")

	if out := sim.Send(context.Background(), rcpt, b); out.Kind != OutcomeUnavailable {
		t.Fatalf("first send = %v, want unavailable", out)
	}
	if out := sim.Send(context.Background(), rcpt, b); out.Kind != OutcomeAccepted {
		t.Fatalf("second send = %v, want accepted", out)
	}
	// Script exhausted: default applies.
	if out := sim.Send(context.Background(), rcpt, b); out.Kind != OutcomeAccepted {
		t.Fatalf("third send = %v, want default accepted", out)
	}
	if sends := sim.Sent(); len(sends) != 2 {
		t.Fatalf("accepted sends = %d, want 2", len(sends))
	}
}

func TestInboxDeliveryAndReplayRefresh(t *testing.T) {
	t.Parallel()
	inbox := NewInbox()

	var receipts int
	inbox.OnDeliver(func(broadcastID, recipientID string, ch model.Channel, state model.AttemptState, at time.Time) {
		if ch != model.ChannelInApp || state != model.StateDelivered {
			t.Errorf("receipt = %s/%s", ch, state)
		}
		receipts++
	})

	rcpt := &audience.Recipient{ID: "r1"}
	b := sampleBroadcast("b1")
	if out := inbox.Send(context.Background(), rcpt, b); out.Kind != OutcomeAccepted {
		t.Fatalf("send = %v", out)
	}
	// A renotify round must refresh, not duplicate.
	if out := inbox.Send(context.Background(), rcpt, b); out.Kind != OutcomeAccepted {
		t.Fatalf("resend = %v", out)
	}

	msgs := inbox.Inbox("r1")
	if len(msgs) != 1 {
		t.Fatalf("inbox = %d messages, want 1", len(msgs))
	}
	if !msgs[0].RequiresAck || msgs[0].Title != b.Title {
		t.Fatalf("message = %+v", msgs[0])
	}
	if receipts != 2 {
		t.Fatalf("receipts = %d, want one per send", receipts)
	}

	if got := inbox.Inbox("someone-else"); len(got) != 0 {
		t.Fatalf("foreign inbox = %d messages", len(got))
	}
}

func TestInboxNewestFirst(t *testing.T) {
	t.Parallel()
	inbox := NewInbox()
	rcpt := &audience.Recipient{ID: "r1"}

	inbox.Send(context.Background(), rcpt, sampleBroadcast("b1"))
	time.Sleep(2 * time.Millisecond)
	inbox.Send(context.Background(), rcpt, sampleBroadcast("b2"))

	msgs := inbox.Inbox("r1")
	if len(msgs) != 2 || msgs[0].BroadcastID != "b2" {
		t.Fatalf("order = %v", []string{msgs[0].BroadcastID, msgs[1].BroadcastID})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(NewSim(model.ChannelPush), NewInbox())
	if _, ok := reg.Get(model.ChannelPush); !ok {
		t.Fatal("push adapter missing")
	}
	if _, ok := reg.Get(model.ChannelSMS); ok {
		t.Fatal("sms adapter should be absent")
	}
	if got := len(reg.Channels()); got != 2 {
		t.Fatalf("channels = %d, want 2", got)
	}
}
