package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only JSON Lines journal)
//
// The working set lives in an embedded memory store; every committed mutation
// is appended to the journal, and the journal is periodically compacted into
// the snapshot. On open, snapshot + journal replay rebuild the state.
type fileStore struct {
	log logx.Logger
	mem *memoryStore

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	writes        int
	snapshotEvery int
}

type journalEntry struct {
	Broadcast *model.Broadcast      `json:"b,omitempty"`
	Record    *model.DeliveryRecord `json:"r,omitempty"`
}

type snapshot struct {
	Broadcasts []*model.Broadcast      `json:"broadcasts"`
	Records    []*model.DeliveryRecord `json:"records"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := NewMemory().(*memoryStore)
	_ = loadSnapshot(snapPath, mem)
	_ = replayJournal(journalPath, mem)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:           log,
		mem:           mem,
		snapshotPath:  snapPath,
		journalFile:   jf,
		snapshotEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) append(e journalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.snapshotEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("snapshot compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	var snap snapshot
	s.mem.mu.RLock()
	for _, b := range s.mem.broadcasts {
		snap.Broadcasts = append(snap.Broadcasts, b.Clone())
	}
	for _, r := range s.mem.records {
		snap.Records = append(snap.Records, r.Clone())
	}
	s.mem.mu.RUnlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, mem *memoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, b := range snap.Broadcasts {
		mem.putBroadcastRaw(b)
	}
	for _, r := range snap.Records {
		mem.putRecordRaw(r)
	}
	return nil
}

func replayJournal(path string, mem *memoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.Broadcast != nil {
			mem.putBroadcastRaw(e.Broadcast)
		}
		if e.Record != nil {
			mem.putRecordRaw(e.Record)
		}
	}
	return sc.Err()
}

// ---- Store interface (memory semantics + journaling) ----

func (s *fileStore) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	if err := s.mem.CreateBroadcast(ctx, b); err != nil {
		return err
	}
	return s.append(journalEntry{Broadcast: b.Clone()})
}

func (s *fileStore) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	return s.mem.GetBroadcast(ctx, id)
}

func (s *fileStore) ListBroadcasts(ctx context.Context, f Filter) ([]*model.Broadcast, error) {
	return s.mem.ListBroadcasts(ctx, f)
}

func (s *fileStore) UpdateBroadcast(ctx context.Context, b *model.Broadcast) error {
	if err := s.mem.UpdateBroadcast(ctx, b); err != nil {
		return err
	}
	return s.append(journalEntry{Broadcast: b.Clone()})
}

func (s *fileStore) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	return s.mem.ListDueScheduled(ctx, now)
}

func (s *fileStore) ListExpirable(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	return s.mem.ListExpirable(ctx, now)
}

func (s *fileStore) CreateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	if err := s.mem.CreateDeliveryRecord(ctx, r); err != nil {
		return err
	}
	return s.append(journalEntry{Record: r.Clone()})
}

func (s *fileStore) GetDeliveryRecord(ctx context.Context, broadcastID, recipientID string, ch model.Channel) (*model.DeliveryRecord, error) {
	return s.mem.GetDeliveryRecord(ctx, broadcastID, recipientID, ch)
}

func (s *fileStore) ListDeliveryRecords(ctx context.Context, broadcastID string) ([]*model.DeliveryRecord, error) {
	return s.mem.ListDeliveryRecords(ctx, broadcastID)
}

func (s *fileStore) ListRecipientRecords(ctx context.Context, broadcastID, recipientID string) ([]*model.DeliveryRecord, error) {
	return s.mem.ListRecipientRecords(ctx, broadcastID, recipientID)
}

func (s *fileStore) UpdateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	if err := s.mem.UpdateDeliveryRecord(ctx, r); err != nil {
		return err
	}
	return s.append(journalEntry{Record: r.Clone()})
}
