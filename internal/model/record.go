package model

import "time"

// AttemptState is the per-(broadcast, recipient, channel) delivery state.
//
// States advance forward only, along
// queued -> sent -> delivered -> read -> acknowledged.
// failed is reachable from any non-terminal state and is terminal for that
// (recipient, channel) pair; it does not block the recipient succeeding
// through a different channel.
type AttemptState string

const (
	StateQueued       AttemptState = "queued"
	StateSent         AttemptState = "sent"
	StateDelivered    AttemptState = "delivered"
	StateRead         AttemptState = "read"
	StateAcknowledged AttemptState = "acknowledged"
	StateFailed       AttemptState = "failed"
)

// Rank orders the forward path. failed is outside the ordering (-1).
func (s AttemptState) Rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	case StateAcknowledged:
		return 4
	default:
		return -1
	}
}

// Terminal reports whether a record in this state counts toward dispatch
// completion. Everything past queued is terminal for the dispatcher's
// purposes: the send attempt finished (accepted or failed); receipts and acks
// only refine an already-terminal record.
func (s AttemptState) Terminal() bool {
	return s == StateFailed || s.Rank() >= StateSent.Rank()
}

// DeliveryRecord is the audit-trail unit of delivery state, one per
// (broadcast, recipient, channel). Records are created by the dispatcher at
// fan-out time and never deleted.
type DeliveryRecord struct {
	BroadcastID string       `json:"broadcast_id"`
	RecipientID string       `json:"recipient_id"`
	Channel     Channel      `json:"channel"`
	State       AttemptState `json:"state"`

	FailureReason string    `json:"failure_reason,omitempty"`
	RetryCount    int       `json:"retry_count"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	Version int64 `json:"version"`
}

func (r *DeliveryRecord) Clone() *DeliveryRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// DeliveryStats is the per-broadcast rollup, always a pure fold over the
// broadcast's DeliveryRecords (see ComputeStats). It is a materialized,
// recomputable cache, never an independent source of truth.
//
// Invariants: Sent == Delivered + Pending + Failed; Acknowledged <= Delivered.
type DeliveryStats struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Read         int `json:"read"`
	Acknowledged int `json:"acknowledged"`
	Failed       int `json:"failed"`
	Pending      int `json:"pending"`
}

// ComputeStats folds delivery records into summary counts.
//
// Sent counts every attempt whose dispatch finished, including rejected ones,
// so the "sent == delivered + pending + failed" identity holds at every
// observation point.
func ComputeStats(records []*DeliveryRecord) DeliveryStats {
	var st DeliveryStats
	for _, r := range records {
		if r == nil {
			continue
		}
		st.Total++
		if r.State == StateFailed {
			st.Sent++
			st.Failed++
			continue
		}
		rank := r.State.Rank()
		if rank >= StateSent.Rank() {
			st.Sent++
		}
		if rank >= StateDelivered.Rank() {
			st.Delivered++
		}
		if rank >= StateRead.Rank() {
			st.Read++
		}
		if rank >= StateAcknowledged.Rank() {
			st.Acknowledged++
		}
	}
	st.Pending = st.Sent - st.Delivered - st.Failed
	return st
}

// AllTerminal reports whether every record finished its send attempt.
func AllTerminal(records []*DeliveryRecord) bool {
	for _, r := range records {
		if r == nil || !r.State.Terminal() {
			return false
		}
	}
	return true
}
