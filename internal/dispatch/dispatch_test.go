package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/channel"
	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

func fastConfig() Config {
	return Config{
		WorkersPerChannel: 2,
		QueueSize:         64,
		RatePerSec:        1000,
		RetryMax:          2,
		RetryBase:         time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		RetryJitter:       0.2,
	}
}

func testBroadcast(channels ...model.Channel) *model.Broadcast {
	return &model.Broadcast{
		ID:        "b1",
		Title:     "Flash flood warning",
		Body:      "Move to higher ground and await further instructions.",
		Type:      model.TypeWarning,
		Priority:  model.PriorityCritical,
		Audience:  model.AllTourists(),
		Channels:  channels,
		Status:    model.StatusSending,
		CreatedAt: time.Now(),
	}
}

func rcpt(id string) *audience.Recipient {
	return &audience.Recipient{
		ID:       id,
		Contacts: map[model.Channel]string{model.ChannelPush: "tok-" + id, model.ChannelSMS: "+00" + id},
	}
}

type harness struct {
	store storage.Store
	trk   *tracker.Tracker
	sim   *channel.SimAdapter
	svc   *Service
	done  chan Result
}

func newHarness(t *testing.T, cfg Config, adapters ...channel.Adapter) *harness {
	t.Helper()
	store := storage.NewMemory()
	trk := tracker.New(store, eventbus.New(), logx.Nop(), metrics.New())

	var sim *channel.SimAdapter
	if len(adapters) == 0 {
		sim = channel.NewSim(model.ChannelPush)
		adapters = []channel.Adapter{sim}
	}
	reg := channel.NewRegistry(adapters...)

	svc := New(cfg, reg, trk, logx.Nop(), eventbus.New(), metrics.New())
	done := make(chan Result, 4)
	svc.SetCompletion(func(_ context.Context, res Result) { done <- res })

	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return &harness{store: store, trk: trk, sim: sim, svc: svc, done: done}
}

func (h *harness) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-h.done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not complete")
		return Result{}
	}
}

func TestDispatchFanOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastConfig())

	// Six recipients: four clean sends, one permanent rejection, one
	// transient failure that succeeds on retry. A seventh has opted out of
	// push and must get no record at all.
	res := audience.Resolution{ResolvedAt: time.Now()}
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		res.Recipients = append(res.Recipients, rcpt(id))
	}
	res.Recipients = append(res.Recipients, rcpt("r5"), rcpt("r6"))
	h.sim.Script("r5", channel.Rejected("invalid device token"))
	h.sim.Script("r6", channel.Unavailable(errors.New("gateway timeout")), channel.Accepted())

	optOut := rcpt("r7")
	optOut.OptOut = map[model.Channel]bool{model.ChannelPush: true}
	res.Recipients = append(res.Recipients, optOut)

	b := testBroadcast(model.ChannelPush)
	if err := h.svc.Dispatch(context.Background(), b, res); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	got := h.wait(t)
	if got.BroadcastID != "b1" {
		t.Fatalf("result broadcast = %s", got.BroadcastID)
	}
	if got.Total != 6 || got.Accepted != 5 || got.Failed != 1 {
		t.Fatalf("result = total %d accepted %d failed %d, want 6/5/1", got.Total, got.Accepted, got.Failed)
	}
	if got.SkippedUnreachable != 1 {
		t.Fatalf("SkippedUnreachable = %d, want 1", got.SkippedUnreachable)
	}

	st, err := h.trk.Stats(context.Background(), "b1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 6 || st.Sent != 6 || st.Failed != 1 || st.Pending != 5 {
		t.Fatalf("stats = %+v, want total 6 sent 6 failed 1 pending 5", st)
	}

	// The rejected attempt carries its reason.
	r5, err := h.store.GetDeliveryRecord(context.Background(), "b1", "r5", model.ChannelPush)
	if err != nil {
		t.Fatalf("get r5: %v", err)
	}
	if r5.State != model.StateFailed || r5.FailureReason != "invalid device token" {
		t.Fatalf("r5 = %s (%q)", r5.State, r5.FailureReason)
	}
	// The retried attempt recorded its retry.
	r6, err := h.store.GetDeliveryRecord(context.Background(), "b1", "r6", model.ChannelPush)
	if err != nil {
		t.Fatalf("get r6: %v", err)
	}
	if r6.State != model.StateSent || r6.RetryCount != 1 {
		t.Fatalf("r6 = %s retries %d, want sent after 1 retry", r6.State, r6.RetryCount)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastConfig())

	h.sim.SetDefault(channel.Unavailable(errors.New("provider down")))
	res := audience.Resolution{Recipients: []*audience.Recipient{rcpt("r1")}, ResolvedAt: time.Now()}

	if err := h.svc.Dispatch(context.Background(), testBroadcast(model.ChannelPush), res); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := h.wait(t)
	if got.Accepted != 0 || got.Failed != 1 {
		t.Fatalf("result = accepted %d failed %d, want 0/1", got.Accepted, got.Failed)
	}

	r1, err := h.store.GetDeliveryRecord(context.Background(), "b1", "r1", model.ChannelPush)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r1.State != model.StateFailed || r1.RetryCount != 2 {
		t.Fatalf("record = %s retries %d, want failed after 2 retries", r1.State, r1.RetryCount)
	}
}

func TestDispatchPerChannelIsolation(t *testing.T) {
	t.Parallel()
	push := channel.NewSim(model.ChannelPush)
	sms := channel.NewSim(model.ChannelSMS)
	// SMS provider is down entirely; push must be unaffected.
	sms.SetDefault(channel.Rejected("carrier rejected"))
	h := newHarness(t, fastConfig(), push, sms)

	res := audience.Resolution{
		Recipients: []*audience.Recipient{rcpt("r1"), rcpt("r2")},
		ResolvedAt: time.Now(),
	}
	if err := h.svc.Dispatch(context.Background(), testBroadcast(model.ChannelPush, model.ChannelSMS), res); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := h.wait(t)
	if got.Total != 4 || got.Accepted != 2 || got.Failed != 2 {
		t.Fatalf("result = total %d accepted %d failed %d, want 4/2/2", got.Total, got.Accepted, got.Failed)
	}
	if len(push.Sent()) != 2 {
		t.Fatalf("push sends = %d, want 2", len(push.Sent()))
	}
}

func TestDispatchEmptyResolutionCompletesImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastConfig())

	if err := h.svc.Dispatch(context.Background(), testBroadcast(model.ChannelPush), audience.Resolution{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := h.wait(t)
	if got.Total != 0 || got.Accepted != 0 {
		t.Fatalf("result = %+v, want empty", got)
	}
}

func TestDispatchRequiresRunningService(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	trk := tracker.New(store, nil, logx.Nop(), nil)
	reg := channel.NewRegistry(channel.NewSim(model.ChannelPush))
	svc := New(fastConfig(), reg, trk, logx.Nop(), nil, nil)

	err := svc.Dispatch(context.Background(), testBroadcast(model.ChannelPush), audience.Resolution{})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}
