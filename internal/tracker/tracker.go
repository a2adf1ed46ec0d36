// Package tracker owns all DeliveryRecord state. Records advance forward
// only (queued -> sent -> delivered -> read -> acknowledged, failed terminal)
// through a per-record check-and-set loop, which makes receipt/ack ingestion
// idempotent and safe under out-of-order arrival: replays are no-ops and an
// acknowledgment arriving before a delivery receipt still lands, since an
// acknowledgment is proof of delivery.
package tracker

import (
	"context"
	"errors"
	"time"

	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	"tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

const casMaxAttempts = 8

type Tracker struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	met   *metrics.Metrics
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger, met *metrics.Metrics) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, bus: bus, log: log, met: met}
}

// CreateQueued writes the initial record for one (recipient, channel) attempt.
// Called by the dispatcher at fan-out time; replays (re-notification rounds)
// find the record already present and are not an error.
func (t *Tracker) CreateQueued(ctx context.Context, broadcastID, recipientID string, ch model.Channel) error {
	r := &model.DeliveryRecord{
		BroadcastID:   broadcastID,
		RecipientID:   recipientID,
		Channel:       ch,
		State:         model.StateQueued,
		LastUpdatedAt: time.Now(),
	}
	err := t.store.CreateDeliveryRecord(ctx, r)
	if errors.Is(err, storage.ErrExists) {
		return nil
	}
	return err
}

// MarkSent records provider acceptance of a send.
func (t *Tracker) MarkSent(ctx context.Context, broadcastID, recipientID string, ch model.Channel) error {
	return t.advance(ctx, broadcastID, recipientID, ch, model.StateSent, nil)
}

// MarkFailed terminates the attempt for this (recipient, channel) pair. It
// does not block the recipient succeeding through a different channel.
// Records already delivered (or further) ignore late failures.
func (t *Tracker) MarkFailed(ctx context.Context, broadcastID, recipientID string, ch model.Channel, reason string, retries int) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		r, err := t.store.GetDeliveryRecord(ctx, broadcastID, recipientID, ch)
		if err != nil {
			return err
		}
		if r.State == model.StateFailed || r.State.Rank() >= model.StateDelivered.Rank() {
			return nil
		}
		r.State = model.StateFailed
		r.FailureReason = reason
		if retries > r.RetryCount {
			r.RetryCount = retries
		}
		r.LastUpdatedAt = time.Now()
		err = t.store.UpdateDeliveryRecord(ctx, r)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		return err
	}
	return model.ErrVersionConflict
}

// BumpRetry increments the retry counter after a transient send failure.
func (t *Tracker) BumpRetry(ctx context.Context, broadcastID, recipientID string, ch model.Channel) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		r, err := t.store.GetDeliveryRecord(ctx, broadcastID, recipientID, ch)
		if err != nil {
			return err
		}
		r.RetryCount++
		r.LastUpdatedAt = time.Now()
		err = t.store.UpdateDeliveryRecord(ctx, r)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		if err == nil && t.met != nil {
			t.met.Retries.WithLabelValues(string(ch)).Inc()
		}
		return err
	}
	return model.ErrVersionConflict
}

// ReportReceipt ingests a provider delivery receipt (delivered or read).
// Replaying the same receipt is a no-op; a receipt older than the record's
// current state never regresses it.
func (t *Tracker) ReportReceipt(ctx context.Context, broadcastID, recipientID string, ch model.Channel, state model.AttemptState, providerTime time.Time) error {
	if state != model.StateDelivered && state != model.StateRead {
		return model.Validationf("receipt state must be delivered or read, got %q", state)
	}
	err := t.advance(ctx, broadcastID, recipientID, ch, state, func(r *model.DeliveryRecord) {
		if !providerTime.IsZero() {
			r.LastUpdatedAt = providerTime
		}
	})
	if err == nil {
		if t.met != nil {
			t.met.Receipts.WithLabelValues(string(state)).Inc()
		}
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: eventbus.EventDeliveryReceipt, Data: receiptEvent{
				BroadcastID: broadcastID, RecipientID: recipientID, Channel: ch, State: state,
			}})
		}
	}
	return err
}

type receiptEvent struct {
	BroadcastID string             `json:"broadcast_id"`
	RecipientID string             `json:"recipient_id"`
	Channel     model.Channel      `json:"channel"`
	State       model.AttemptState `json:"state"`
}

// SubmitAck records a recipient's explicit "I have seen this". The ack lands
// on the recipient's most advanced non-failed record for the broadcast; if
// that record has no delivery receipt yet the ack promotes it through
// delivered atomically (single state write to acknowledged). Fails with
// NotFoundError when the recipient has no record on any channel.
func (t *Tracker) SubmitAck(ctx context.Context, broadcastID, recipientID string) error {
	records, err := t.store.ListRecipientRecords(ctx, broadcastID, recipientID)
	if err != nil {
		return err
	}

	var best *model.DeliveryRecord
	for _, r := range records {
		if r.State == model.StateFailed {
			continue
		}
		if best == nil || r.State.Rank() > best.State.Rank() {
			best = r
		}
	}
	if best == nil {
		return model.NotFound("delivery record", broadcastID+"/"+recipientID)
	}
	if best.State == model.StateAcknowledged {
		return nil // idempotent replay
	}

	err = t.advance(ctx, broadcastID, best.RecipientID, best.Channel, model.StateAcknowledged, nil)
	if err == nil {
		if t.met != nil {
			t.met.Acks.Inc()
		}
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: eventbus.EventDeliveryAcknowledge, Data: receiptEvent{
				BroadcastID: broadcastID, RecipientID: recipientID, Channel: best.Channel, State: model.StateAcknowledged,
			}})
		}
	}
	return err
}

// Stats folds the broadcast's records into summary counts. Stats are always
// recomputed from records, never stored independently.
func (t *Tracker) Stats(ctx context.Context, broadcastID string) (model.DeliveryStats, error) {
	records, err := t.store.ListDeliveryRecords(ctx, broadcastID)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	return model.ComputeStats(records), nil
}

// advance moves a record forward to target. Same-or-lower targets are
// idempotent no-ops; failed records are terminal and ignore late receipts.
func (t *Tracker) advance(ctx context.Context, broadcastID, recipientID string, ch model.Channel, target model.AttemptState, mutate func(*model.DeliveryRecord)) error {
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		r, err := t.store.GetDeliveryRecord(ctx, broadcastID, recipientID, ch)
		if err != nil {
			return err
		}
		if r.State == model.StateFailed {
			t.log.Debug("ignoring state advance on failed record",
				logx.String("broadcast", broadcastID),
				logx.String("recipient", recipientID),
				logx.String("channel", string(ch)),
				logx.String("target", string(target)))
			return nil
		}
		if target.Rank() <= r.State.Rank() {
			return nil
		}
		r.State = target
		r.LastUpdatedAt = time.Now()
		if mutate != nil {
			mutate(r)
		}
		err = t.store.UpdateDeliveryRecord(ctx, r)
		if errors.Is(err, model.ErrVersionConflict) {
			continue
		}
		return err
	}
	return model.ErrVersionConflict
}
