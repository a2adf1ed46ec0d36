package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tourcast/internal/audience"
	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	logx "tourcast/pkg/logx"
)

// CreateBroadcast validates and persists a new broadcast. With ScheduledFor
// set it lands in scheduled and waits for the release sweep; without, it goes
// straight to sending and the fan-out starts before CreateBroadcast returns.
func (s *Service) CreateBroadcast(ctx context.Context, in NewBroadcast) (*model.Broadcast, error) {
	now := time.Now()
	b := &model.Broadcast{
		ID:           uuid.NewString(),
		Title:        in.Title,
		Body:         in.Body,
		Type:         in.Type,
		Priority:     in.Priority,
		Audience:     in.Audience.Clone(),
		Channels:     append([]model.Channel(nil), in.Channels...),
		RequiresAck:  in.RequiresAck,
		ScheduledFor: in.ScheduledFor,
		ExpiresAt:    in.ExpiresAt,
		Status:       model.StatusDraft,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
	}
	if err := b.ValidateNew(now); err != nil {
		return nil, err
	}
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	if s.met != nil {
		s.met.BroadcastsCreated.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventBroadcastCreated, Data: b.Clone()})
	}
	s.log.Info("broadcast created",
		logx.String("broadcast", b.ID),
		logx.String("type", string(b.Type)),
		logx.String("priority", string(b.Priority)),
		logx.String("audience", string(b.Audience.Kind)),
		logx.Bool("scheduled", b.ScheduledFor != nil))

	if b.ScheduledFor != nil {
		if _, err := s.lc.Transition(ctx, b.ID, model.StatusScheduled); err != nil {
			return nil, err
		}
	} else if err := s.release(ctx, b.ID); err != nil {
		return nil, err
	}

	// Re-read for the post-transition status/version.
	return s.store.GetBroadcast(ctx, b.ID)
}

// GetBroadcast returns the broadcast with its stats recomputed from the
// delivery records.
func (s *Service) GetBroadcast(ctx context.Context, id string) (*View, error) {
	b, err := s.store.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.trk.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Broadcast: b, Stats: stats}, nil
}

// ListBroadcasts returns broadcasts matching the filter, newest first.
func (s *Service) ListBroadcasts(ctx context.Context, f storage.Filter) ([]*model.Broadcast, error) {
	return s.store.ListBroadcasts(ctx, f)
}

// CancelBroadcast withdraws a broadcast that has not started sending.
// Anything at or past sending returns InvalidStateError.
func (s *Service) CancelBroadcast(ctx context.Context, id string) (*model.Broadcast, error) {
	return s.lc.Transition(ctx, id, model.StatusCancelled)
}

// SubmitAcknowledgment records a recipient's explicit confirmation.
// Acknowledgment of an expired or cancelled broadcast is rejected; the
// recipient must have at least one delivery record on some channel.
func (s *Service) SubmitAcknowledgment(ctx context.Context, broadcastID, recipientID string) error {
	b, err := s.store.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Status == model.StatusExpired || b.Status == model.StatusCancelled {
		return &model.InvalidStateError{ID: broadcastID, From: b.Status, Op: "acknowledge"}
	}
	return s.trk.SubmitAck(ctx, broadcastID, recipientID)
}

// ReportReceipt ingests a provider delivery/read receipt.
func (s *Service) ReportReceipt(ctx context.Context, broadcastID, recipientID string, ch model.Channel, state model.AttemptState, providerTime time.Time) error {
	if _, err := s.store.GetBroadcast(ctx, broadcastID); err != nil {
		return err
	}
	return s.trk.ReportReceipt(ctx, broadcastID, recipientID, ch, state, providerTime)
}

// PreviewAudience resolves an audience spec without creating anything, for
// "who would this reach right now" checks in authoring UIs.
func (s *Service) PreviewAudience(ctx context.Context, spec model.AudienceSpec) (audience.Resolution, error) {
	if err := spec.Validate(); err != nil {
		return audience.Resolution{}, err
	}
	return s.resolver.Resolve(ctx, spec, time.Now())
}
