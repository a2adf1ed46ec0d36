package broadcast

import (
	"context"
	"time"

	"tourcast/internal/model"
	"tourcast/internal/storage"
	logx "tourcast/pkg/logx"
)

// ReleaseDue releases every scheduled broadcast whose send time has passed.
// The sending transition is the claim: with several sweepers racing, exactly
// one wins per broadcast and the losers see InvalidStateError and move on.
func (s *Service) ReleaseDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, b := range due {
		// Expiry wins over release when both have passed.
		if b.Expirable(now) {
			continue
		}
		err := s.release(ctx, b.ID)
		switch {
		case err == nil:
			released++
		case model.IsInvalidState(err):
			// lost the race
		default:
			s.log.Error("releasing scheduled broadcast failed",
				logx.String("broadcast", b.ID), logx.Err(err))
		}
	}
	return released, nil
}

// ExpireDue expires every non-terminal broadcast whose expiry has passed.
// Delivery records keep whatever state they reached.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListExpirable(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range stale {
		_, err := s.lc.Transition(ctx, b.ID, model.StatusExpired)
		switch {
		case err == nil:
			expired++
		case model.IsInvalidState(err):
			// raced into a terminal state already
		default:
			s.log.Error("expiring broadcast failed",
				logx.String("broadcast", b.ID), logx.Err(err))
		}
	}
	return expired, nil
}

// RenotifyDue re-sends ack-requiring sent broadcasts to recipients that have
// not acknowledged, at most MaxRounds times per broadcast, spaced by the
// policy interval from the previous round (or from SentAt for round one).
func (s *Service) RenotifyDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	policy := s.renotify
	s.mu.Unlock()
	if !policy.enabled() {
		return 0, nil
	}

	sent, err := s.store.ListBroadcasts(ctx, storage.Filter{Status: model.StatusSent})
	if err != nil {
		return 0, err
	}

	renotified := 0
	for _, b := range sent {
		if !b.RequiresAck || b.Expirable(now) {
			continue
		}
		if !s.claimRound(b, policy, now) {
			continue
		}

		ids, err := s.unackedRecipients(ctx, b.ID)
		if err != nil {
			s.log.Error("listing unacknowledged recipients failed",
				logx.String("broadcast", b.ID), logx.Err(err))
			continue
		}
		if len(ids) == 0 {
			continue
		}

		res, err := s.resolver.Resolve(ctx, model.ExplicitRecipients(ids...), now)
		if err != nil {
			s.log.Error("resolving renotify audience failed",
				logx.String("broadcast", b.ID), logx.Err(err))
			continue
		}
		if err := s.disp.Dispatch(ctx, b, res); err != nil {
			s.log.Error("renotify dispatch failed",
				logx.String("broadcast", b.ID), logx.Err(err))
			continue
		}
		s.log.Info("renotify round dispatched",
			logx.String("broadcast", b.ID),
			logx.Int("recipients", len(res.Recipients)))
		renotified++
	}
	return renotified, nil
}

// claimRound checks the per-broadcast round budget and interval, and burns a
// round if due.
func (s *Service) claimRound(b *model.Broadcast, policy RenotifyPolicy, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.rounds[b.ID]
	if st == nil {
		last := b.CreatedAt
		if b.SentAt != nil {
			last = *b.SentAt
		}
		st = &roundState{lastAt: last}
		s.rounds[b.ID] = st
	}
	if st.rounds >= policy.MaxRounds {
		return false
	}
	if now.Sub(st.lastAt) < policy.Interval {
		return false
	}
	st.rounds++
	st.lastAt = now
	return true
}

// unackedRecipients returns ids of recipients with at least one record on the
// broadcast but no acknowledged record.
func (s *Service) unackedRecipients(ctx context.Context, broadcastID string) ([]string, error) {
	records, err := s.store.ListDeliveryRecords(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	acked := map[string]bool{}
	seen := map[string]bool{}
	var order []string
	for _, r := range records {
		if !seen[r.RecipientID] {
			seen[r.RecipientID] = true
			order = append(order, r.RecipientID)
		}
		if r.State == model.StateAcknowledged {
			acked[r.RecipientID] = true
		}
	}
	var out []string
	for _, id := range order {
		if !acked[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
