//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (s *sqliteStore) CreateBroadcast(ctx context.Context, b *model.Broadcast) error {
	if b.Version == 0 {
		b.Version = 1
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, status, type, title, body, scheduled_for, expires_at, created_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Status), string(b.Type), b.Title, b.Body,
		nullableMilli(b.ScheduledFor), nullableMilli(b.ExpiresAt),
		b.CreatedAt.UnixMilli(), b.Version, string(data))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM broadcasts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("broadcast", id)
	}
	if err != nil {
		return nil, err
	}
	var b model.Broadcast
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *sqliteStore) scanBroadcasts(rows *sql.Rows) ([]*model.Broadcast, error) {
	defer rows.Close()
	var out []*model.Broadcast
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var b model.Broadcast
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListBroadcasts(ctx context.Context, f Filter) ([]*model.Broadcast, error) {
	q := `SELECT data FROM broadcasts`
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if sv := strings.TrimSpace(f.Search); sv != "" {
		conds = append(conds, "(title LIKE ? COLLATE NOCASE OR body LIKE ? COLLATE NOCASE)")
		pat := "%" + sv + "%"
		args = append(args, pat, pat)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return s.scanBroadcasts(rows)
}

func (s *sqliteStore) UpdateBroadcast(ctx context.Context, b *model.Broadcast) error {
	next := *b
	next.Version = b.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = ?, type = ?, title = ?, body = ?, scheduled_for = ?, expires_at = ?, version = ?, data = ?
		WHERE id = ? AND version = ?`,
		string(next.Status), string(next.Type), next.Title, next.Body,
		nullableMilli(next.ScheduledFor), nullableMilli(next.ExpiresAt),
		next.Version, string(data), b.ID, b.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish not-found from a stale version.
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM broadcasts WHERE id = ?`, b.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NotFound("broadcast", b.ID)
		}
		if err != nil {
			return err
		}
		return model.ErrVersionConflict
	}
	b.Version = next.Version
	return nil
}

func (s *sqliteStore) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM broadcasts
		WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?`,
		string(model.StatusScheduled), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.scanBroadcasts(rows)
}

func (s *sqliteStore) ListExpirable(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM broadcasts
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		  AND status NOT IN (?, ?, ?)`,
		now.UnixMilli(),
		string(model.StatusFailed), string(model.StatusExpired), string(model.StatusCancelled))
	if err != nil {
		return nil, err
	}
	return s.scanBroadcasts(rows)
}

func (s *sqliteStore) CreateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	if r.Version == 0 {
		r.Version = 1
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (broadcast_id, recipient_id, channel, state, version, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.BroadcastID, r.RecipientID, string(r.Channel), string(r.State), r.Version, string(data))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) GetDeliveryRecord(ctx context.Context, broadcastID, recipientID string, ch model.Channel) (*model.DeliveryRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM delivery_records
		WHERE broadcast_id = ? AND recipient_id = ? AND channel = ?`,
		broadcastID, recipientID, string(ch)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("delivery record", broadcastID+"/"+recipientID+"/"+string(ch))
	}
	if err != nil {
		return nil, err
	}
	var r model.DeliveryRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) scanRecords(rows *sql.Rows) ([]*model.DeliveryRecord, error) {
	defer rows.Close()
	var out []*model.DeliveryRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.DeliveryRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListDeliveryRecords(ctx context.Context, broadcastID string) ([]*model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM delivery_records WHERE broadcast_id = ?`, broadcastID)
	if err != nil {
		return nil, err
	}
	return s.scanRecords(rows)
}

func (s *sqliteStore) ListRecipientRecords(ctx context.Context, broadcastID, recipientID string) ([]*model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM delivery_records WHERE broadcast_id = ? AND recipient_id = ?`,
		broadcastID, recipientID)
	if err != nil {
		return nil, err
	}
	return s.scanRecords(rows)
}

func (s *sqliteStore) UpdateDeliveryRecord(ctx context.Context, r *model.DeliveryRecord) error {
	next := *r
	next.Version = r.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET state = ?, version = ?, data = ?
		WHERE broadcast_id = ? AND recipient_id = ? AND channel = ? AND version = ?`,
		string(next.State), next.Version, string(data),
		r.BroadcastID, r.RecipientID, string(r.Channel), r.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM delivery_records
			WHERE broadcast_id = ? AND recipient_id = ? AND channel = ?`,
			r.BroadcastID, r.RecipientID, string(r.Channel)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NotFound("delivery record", r.BroadcastID+"/"+r.RecipientID+"/"+string(r.Channel))
		}
		if err != nil {
			return err
		}
		return model.ErrVersionConflict
	}
	r.Version = next.Version
	return nil
}
