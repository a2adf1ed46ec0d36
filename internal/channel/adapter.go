// Package channel defines the uniform send contract every delivery channel
// implements, and the built-in adapters. Adapters isolate provider-specific
// failure from the rest of the system: the dispatcher treats all channels
// through the same Outcome contract, so a failing provider cannot block the
// other channels.
package channel

import (
	"context"
	"fmt"

	"tourcast/internal/audience"
	"tourcast/internal/model"
)

// OutcomeKind classifies a send attempt.
type OutcomeKind int

const (
	// OutcomeAccepted: the provider acknowledged enqueue. Not "delivered";
	// delivery is confirmed later by a receipt.
	OutcomeAccepted OutcomeKind = iota
	// OutcomeRejected: permanent failure (e.g. invalid address). No retry.
	OutcomeRejected
	// OutcomeUnavailable: transient provider failure. Eligible for retry.
	OutcomeUnavailable
)

type Outcome struct {
	Kind   OutcomeKind
	Reason string // rejected: why
	Err    error  // unavailable: underlying error
}

func Accepted() Outcome { return Outcome{Kind: OutcomeAccepted} }

func Rejected(reason string) Outcome { return Outcome{Kind: OutcomeRejected, Reason: reason} }

func Unavailable(err error) Outcome { return Outcome{Kind: OutcomeUnavailable, Err: err} }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return fmt.Sprintf("rejected(%s)", o.Reason)
	case OutcomeUnavailable:
		return fmt.Sprintf("unavailable(%v)", o.Err)
	default:
		return "unknown"
	}
}

// FailureReason renders the outcome for a delivery record's failure_reason.
func (o Outcome) FailureReason() string {
	switch o.Kind {
	case OutcomeRejected:
		if o.Reason != "" {
			return o.Reason
		}
		return "rejected by provider"
	case OutcomeUnavailable:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "provider unavailable"
	default:
		return ""
	}
}

// Adapter is the uniform per-channel send contract.
type Adapter interface {
	Channel() model.Channel
	Send(ctx context.Context, rcpt *audience.Recipient, b *model.Broadcast) Outcome
}
