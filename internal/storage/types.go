package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"tourcast/internal/model"
)

var (
	ErrExists = errors.New("already exists")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (default; data does not survive restarts)
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter narrows ListBroadcasts. Zero values match everything.
type Filter struct {
	Status model.Status
	Type   model.BroadcastType
	Search string // case-insensitive substring on title/body
}

// Matches reports whether b passes the filter.
func (f Filter) Matches(b *model.Broadcast) bool {
	if b == nil {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		s = strings.ToLower(s)
		if !strings.Contains(strings.ToLower(b.Title), s) && !strings.Contains(strings.ToLower(b.Body), s) {
			return false
		}
	}
	return true
}

// Store is the persistence API used by the core services.
//
// Update methods implement check-and-set on Version: the caller passes the
// entity exactly as read; on success the store bumps Version (mirrored back
// into the argument), on a stale version it returns model.ErrVersionConflict.
// Delivery records are append-only state: they are created once and advanced,
// never deleted.
type Store interface {
	CreateBroadcast(ctx context.Context, b *model.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error)
	ListBroadcasts(ctx context.Context, f Filter) ([]*model.Broadcast, error)
	UpdateBroadcast(ctx context.Context, b *model.Broadcast) error

	// ListDueScheduled returns scheduled broadcasts whose ScheduledFor <= now.
	ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error)
	// ListExpirable returns broadcasts whose ExpiresAt <= now and whose status
	// is not already terminal.
	ListExpirable(ctx context.Context, now time.Time) ([]*model.Broadcast, error)

	CreateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error
	GetDeliveryRecord(ctx context.Context, broadcastID, recipientID string, ch model.Channel) (*model.DeliveryRecord, error)
	ListDeliveryRecords(ctx context.Context, broadcastID string) ([]*model.DeliveryRecord, error)
	ListRecipientRecords(ctx context.Context, broadcastID, recipientID string) ([]*model.DeliveryRecord, error)
	UpdateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error

	Close() error
}

func recordKey(broadcastID, recipientID string, ch model.Channel) string {
	return broadcastID + "\x00" + recipientID + "\x00" + string(ch)
}
