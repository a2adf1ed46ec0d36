package model

import (
	"strings"
	"time"
)

// Status is the broadcast lifecycle state.
//
// Transitions are owned by the lifecycle manager; nothing else writes Status.
// See lifecycle.CanTransition for the full table.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle transition is possible.
// Note: sent is not terminal (sent -> expired).
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

type BroadcastType string

const (
	TypeEmergency    BroadcastType = "emergency"
	TypeAlert        BroadcastType = "alert"
	TypeWarning      BroadcastType = "warning"
	TypeInfo         BroadcastType = "info"
	TypeAnnouncement BroadcastType = "announcement"
)

func (t BroadcastType) Valid() bool {
	switch t {
	case TypeEmergency, TypeAlert, TypeWarning, TypeInfo, TypeAnnouncement:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Broadcast is a single authored message targeted at a resolved set of
// recipients across one or more channels.
//
// Version supports optimistic concurrency: every store update must present the
// version it read, and bumps it by one on success.
type Broadcast struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Body     string        `json:"body"`
	Type     BroadcastType `json:"type"`
	Priority Priority      `json:"priority"`

	Audience AudienceSpec `json:"audience"`
	Channels []Channel    `json:"channels"`

	RequiresAck  bool       `json:"requires_ack"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	Status    Status     `json:"status"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`

	Version int64 `json:"version"`
}

// Clone returns a deep copy. Stores hand out clones so callers can't mutate
// shared state behind the store's back.
func (b *Broadcast) Clone() *Broadcast {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Channels = append([]Channel(nil), b.Channels...)
	cp.Audience = b.Audience.Clone()
	if b.ScheduledFor != nil {
		t := *b.ScheduledFor
		cp.ScheduledFor = &t
	}
	if b.ExpiresAt != nil {
		t := *b.ExpiresAt
		cp.ExpiresAt = &t
	}
	if b.SentAt != nil {
		t := *b.SentAt
		cp.SentAt = &t
	}
	return &cp
}

// HasChannel reports whether ch is in the broadcast's channel set.
func (b *Broadcast) HasChannel(ch Channel) bool {
	for _, c := range b.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Expirable reports whether the broadcast has an expiry that has passed at now.
func (b *Broadcast) Expirable(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

const (
	MinTitleLen = 3
	MinBodyLen  = 10
)

// ValidateNew checks authoring-time invariants for a broadcast about to be created.
func (b *Broadcast) ValidateNew(now time.Time) error {
	if len(strings.TrimSpace(b.Title)) < MinTitleLen {
		return Validationf("title must be at least %d characters", MinTitleLen)
	}
	if len(strings.TrimSpace(b.Body)) < MinBodyLen {
		return Validationf("body must be at least %d characters", MinBodyLen)
	}
	if !b.Type.Valid() {
		return Validationf("unknown broadcast type %q", b.Type)
	}
	if !b.Priority.Valid() {
		return Validationf("unknown priority %q", b.Priority)
	}
	if len(b.Channels) == 0 {
		return Validationf("channel set must not be empty")
	}
	seen := map[Channel]bool{}
	for _, ch := range b.Channels {
		if !ch.Valid() {
			return Validationf("unknown channel %q", ch)
		}
		if seen[ch] {
			return Validationf("duplicate channel %q", ch)
		}
		seen[ch] = true
	}
	if err := b.Audience.Validate(); err != nil {
		return err
	}
	if b.ScheduledFor != nil && b.ScheduledFor.Before(now) {
		return Validationf("scheduled_for is in the past")
	}
	if b.ExpiresAt != nil {
		ref := now
		if b.ScheduledFor != nil {
			ref = *b.ScheduledFor
		}
		if !b.ExpiresAt.After(ref) {
			return Validationf("expires_at must be after the send time")
		}
	}
	return nil
}
