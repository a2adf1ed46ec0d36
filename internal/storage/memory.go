package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"tourcast/internal/model"
)

// memoryStore keeps everything in process. It is the default backend and the
// one used by tests; the file and sqlite backends share its semantics.
type memoryStore struct {
	mu         sync.RWMutex
	broadcasts map[string]*model.Broadcast
	records    map[string]*model.DeliveryRecord

	// byBroadcast indexes record keys per broadcast for cheap listing at
	// high fan-out.
	byBroadcast map[string][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		broadcasts:  map[string]*model.Broadcast{},
		records:     map[string]*model.DeliveryRecord{},
		byBroadcast: map[string][]string{},
	}
}

func (s *memoryStore) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.broadcasts[b.ID]; ok {
		return ErrExists
	}
	cp := b.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.broadcasts[b.ID] = cp
	b.Version = cp.Version
	return nil
}

func (s *memoryStore) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, model.NotFound("broadcast", id)
	}
	return b.Clone(), nil
}

func (s *memoryStore) ListBroadcasts(ctx context.Context, f Filter) ([]*model.Broadcast, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Broadcast, 0, len(s.broadcasts))
	for _, b := range s.broadcasts {
		if f.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	// Newest first, stable for equal timestamps.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) UpdateBroadcast(ctx context.Context, b *model.Broadcast) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.broadcasts[b.ID]
	if !ok {
		return model.NotFound("broadcast", b.ID)
	}
	if cur.Version != b.Version {
		return model.ErrVersionConflict
	}
	cp := b.Clone()
	cp.Version++
	s.broadcasts[b.ID] = cp
	b.Version = cp.Version
	return nil
}

func (s *memoryStore) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Broadcast
	for _, b := range s.broadcasts {
		if b.Status == model.StatusScheduled && b.ScheduledFor != nil && !b.ScheduledFor.After(now) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) ListExpirable(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Broadcast
	for _, b := range s.broadcasts {
		if b.Status.Terminal() {
			continue
		}
		if b.Expirable(now) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) CreateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	_ = ctx
	key := recordKey(r.BroadcastID, r.RecipientID, r.Channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return ErrExists
	}
	cp := r.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	s.records[key] = cp
	s.byBroadcast[r.BroadcastID] = append(s.byBroadcast[r.BroadcastID], key)
	r.Version = cp.Version
	return nil
}

func (s *memoryStore) GetDeliveryRecord(ctx context.Context, broadcastID, recipientID string, ch model.Channel) (*model.DeliveryRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(broadcastID, recipientID, ch)]
	if !ok {
		return nil, model.NotFound("delivery record", broadcastID+"/"+recipientID+"/"+string(ch))
	}
	return r.Clone(), nil
}

func (s *memoryStore) ListDeliveryRecords(ctx context.Context, broadcastID string) ([]*model.DeliveryRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byBroadcast[broadcastID]
	out := make([]*model.DeliveryRecord, 0, len(keys))
	for _, k := range keys {
		if r, ok := s.records[k]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) ListRecipientRecords(ctx context.Context, broadcastID, recipientID string) ([]*model.DeliveryRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.DeliveryRecord
	for _, k := range s.byBroadcast[broadcastID] {
		r, ok := s.records[k]
		if ok && r.RecipientID == recipientID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	_ = ctx
	key := recordKey(r.BroadcastID, r.RecipientID, r.Channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if !ok {
		return model.NotFound("delivery record", key)
	}
	if cur.Version != r.Version {
		return model.ErrVersionConflict
	}
	cp := r.Clone()
	cp.Version++
	s.records[key] = cp
	r.Version = cp.Version
	return nil
}

func (s *memoryStore) Close() error { return nil }

// putBroadcastRaw upserts a broadcast preserving its version. Used by the
// file backend during snapshot/journal replay.
func (s *memoryStore) putBroadcastRaw(b *model.Broadcast) {
	if b == nil || b.ID == "" {
		return
	}
	s.mu.Lock()
	s.broadcasts[b.ID] = b.Clone()
	s.mu.Unlock()
}

// putRecordRaw upserts a delivery record preserving its version (replay only).
func (s *memoryStore) putRecordRaw(r *model.DeliveryRecord) {
	if r == nil || r.BroadcastID == "" {
		return
	}
	key := recordKey(r.BroadcastID, r.RecipientID, r.Channel)
	s.mu.Lock()
	if _, ok := s.records[key]; !ok {
		s.byBroadcast[r.BroadcastID] = append(s.byBroadcast[r.BroadcastID], key)
	}
	s.records[key] = r.Clone()
	s.mu.Unlock()
}
