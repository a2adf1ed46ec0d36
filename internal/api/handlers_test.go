package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/broadcast"
	"tourcast/internal/channel"
	"tourcast/internal/dispatch"
	"tourcast/internal/eventbus"
	"tourcast/internal/lifecycle"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()
	met := metrics.New()
	trk := tracker.New(store, bus, logx.Nop(), met)

	dir := audience.NewMemoryDirectory()
	dir.Upsert(&audience.Recipient{
		ID:       "alice",
		Contacts: map[model.Channel]string{model.ChannelPush: "tok-a"},
	})
	resolver := audience.NewResolver(dir, logx.Nop())

	inbox := channel.NewInbox()
	inbox.OnDeliver(func(broadcastID, recipientID string, ch model.Channel, state model.AttemptState, at time.Time) {
		_ = trk.ReportReceipt(context.Background(), broadcastID, recipientID, ch, state, at)
	})
	reg := channel.NewRegistry(channel.NewSim(model.ChannelPush), inbox)

	disp := dispatch.New(dispatch.Config{
		WorkersPerChannel: 2,
		RatePerSec:        1000,
		RetryBase:         time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	}, reg, trk, logx.Nop(), bus, met)
	lc := lifecycle.New(store, bus, logx.Nop())
	core := broadcast.New(store, lc, resolver, disp, trk, bus, logx.Nop(), met)

	disp.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		disp.Stop(ctx)
	})

	srv := New(Config{Enabled: true}, core, inbox, met, logx.Nop())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func createPayload() map[string]any {
	return map[string]any{
		"title":    "Museum closed",
		"body":     "The city museum is closed today due to maintenance.",
		"type":     "info",
		"priority": "low",
		"audience": map[string]any{"kind": "allTourists"},
		"channels": []string{"push", "inApp"},
	}
}

func TestCreateAndGetBroadcast(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/broadcasts", createPayload())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created model.Broadcast
	decodeBody(t, resp, &created)
	if created.ID == "" {
		t.Fatal("no id assigned")
	}

	// Immediate sends finish asynchronously; poll the view endpoint.
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(ts.URL + "/api/v1/broadcasts/" + created.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var view struct {
			Broadcast model.Broadcast     `json:"broadcast"`
			Stats     model.DeliveryStats `json:"stats"`
		}
		decodeBody(t, r, &view)
		if view.Broadcast.Status == model.StatusSent {
			if view.Stats.Total != 2 {
				t.Fatalf("stats = %+v, want 2 records", view.Stats)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("broadcast stuck in %s", view.Broadcast.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateRejectsBadPayload(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	bad := createPayload()
	bad["type"] = "gossip"
	resp := postJSON(t, ts.URL+"/api/v1/broadcasts", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Post(ts.URL+"/api/v1/broadcasts", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed json status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetUnknownBroadcast(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/broadcasts/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelScheduledBroadcast(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	payload := createPayload()
	payload["scheduled_for"] = time.Now().Add(time.Hour).Format(time.RFC3339)
	resp := postJSON(t, ts.URL+"/api/v1/broadcasts", payload)
	var created model.Broadcast
	decodeBody(t, resp, &created)
	if created.Status != model.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", created.Status)
	}

	resp = postJSON(t, ts.URL+"/api/v1/broadcasts/"+created.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	var cancelled model.Broadcast
	decodeBody(t, resp, &cancelled)
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling again conflicts.
	resp = postJSON(t, ts.URL+"/api/v1/broadcasts/"+created.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAckReceiptAndInboxFlow(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/broadcasts", createPayload())
	var created model.Broadcast
	decodeBody(t, resp, &created)

	// Wait for the fan-out to land in the inbox.
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(ts.URL + "/api/v1/recipients/alice/inbox")
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		var inbox struct {
			Count int `json:"count"`
		}
		decodeBody(t, r, &inbox)
		if inbox.Count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never reached the inbox")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Provider read receipt for the push attempt.
	resp = postJSON(t, ts.URL+"/api/v1/receipts", map[string]any{
		"broadcast_id": created.ID,
		"recipient_id": "alice",
		"channel":      "push",
		"state":        "read",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receipt status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Recipient acknowledges.
	resp = postJSON(t, ts.URL+"/api/v1/broadcasts/"+created.ID+"/ack", map[string]any{"recipient_id": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ack status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Ack for a recipient with no records is a 404.
	resp = postJSON(t, ts.URL+"/api/v1/broadcasts/"+created.ID+"/ack", map[string]any{"recipient_id": "stranger"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger ack status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPreviewAudience(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/broadcasts/preview-audience", map[string]any{
		"kind":          "explicit",
		"recipient_ids": []string{"alice", "ghost"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	var out struct {
		Count          int      `json:"count"`
		SkippedUnknown int      `json:"skipped_unknown"`
		RecipientIDs   []string `json:"recipient_ids"`
	}
	decodeBody(t, resp, &out)
	if out.Count != 1 || out.SkippedUnknown != 1 {
		t.Fatalf("preview = %+v", out)
	}
}

func TestListBroadcastsFilterValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/broadcasts/?status=bogus")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

