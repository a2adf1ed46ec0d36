package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. ValidationError and InvalidStateError surface synchronously
// to callers; channel failures are contained in the dispatcher and only ever
// show up as failed delivery records.

// ValidationError rejects malformed broadcast input before any state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidStateError marks an operation attempted against a broadcast whose
// current status forbids it (e.g. cancelling a sent broadcast, or a second
// scheduler instance releasing an already-released one).
type InvalidStateError struct {
	ID   string
	From Status
	To   Status
	Op   string
}

func (e *InvalidStateError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("invalid state: broadcast %s cannot go %s -> %s", e.ID, e.From, e.To)
	}
	return fmt.Sprintf("invalid state: broadcast %s is %s; %s not allowed", e.ID, e.From, e.Op)
}

func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}

// NotFoundError covers operations against unknown ids.
type NotFoundError struct {
	Kind string // "broadcast", "delivery record", "recipient"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ResolutionError reports that audience membership was partially unavailable.
// It degrades gracefully: the resolver excludes unknown ids and reports how
// many were skipped instead of aborting the dispatch.
type ResolutionError struct {
	Skipped int
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("audience resolution degraded (%d skipped): %s", e.Skipped, e.Reason)
}

// ErrVersionConflict is returned by store updates when the presented version
// no longer matches; callers re-read and retry (optimistic concurrency).
var ErrVersionConflict = errors.New("version conflict")
