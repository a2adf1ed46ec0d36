package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

func TestFileStoreReopenReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tourcast.db")
	cfg := Config{Driver: "file", Path: path}
	ctx := context.Background()

	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	b := testBroadcast("b1")
	if err := s.CreateBroadcast(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	b.Status = model.StatusSending
	if err := s.UpdateBroadcast(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}
	r := &model.DeliveryRecord{
		BroadcastID: "b1", RecipientID: "r1", Channel: model.ChannelPush,
		State: model.StateQueued, LastUpdatedAt: time.Now(),
	}
	if err := s.CreateDeliveryRecord(ctx, r); err != nil {
		t.Fatalf("create record: %v", err)
	}
	r.State = model.StateSent
	if err := s.UpdateDeliveryRecord(ctx, r); err != nil {
		t.Fatalf("update record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: snapshot+journal replay must restore the latest versions.
	s2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetBroadcast(ctx, "b1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Status != model.StatusSending || got.Version != 2 {
		t.Fatalf("broadcast after reopen = status %s version %d", got.Status, got.Version)
	}

	rec, err := s2.GetDeliveryRecord(ctx, "b1", "r1", model.ChannelPush)
	if err != nil {
		t.Fatalf("get record after reopen: %v", err)
	}
	if rec.State != model.StateSent || rec.Version != 2 {
		t.Fatalf("record after reopen = state %s version %d", rec.State, rec.Version)
	}

	// Versioned updates keep working after replay.
	rec.State = model.StateDelivered
	if err := s2.UpdateDeliveryRecord(ctx, rec); err != nil {
		t.Fatalf("update after reopen: %v", err)
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing storage.path")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
