// Package broadcast implements the core broadcast operations on top of the
// storage, lifecycle, audience, tracker and dispatch layers.
package broadcast

import (
	"context"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/dispatch"
	"tourcast/internal/eventbus"
	"tourcast/internal/lifecycle"
	"tourcast/internal/model"
	"tourcast/internal/storage"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

func New(store storage.Store, lc *lifecycle.Manager, resolver *audience.Resolver, disp *dispatch.Service, trk *tracker.Tracker, bus eventbus.Bus, log logx.Logger, met *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:    store,
		lc:       lc,
		resolver: resolver,
		disp:     disp,
		trk:      trk,
		bus:      bus,
		log:      log,
		met:      met,
		rounds:   map[string]*roundState{},
	}
	// The dispatcher reports back here once per fan-out; that single callback
	// is what finalizes sending -> sent/failed.
	disp.SetCompletion(s.onDispatchComplete)
	return s
}

// SetRenotifyPolicy installs or replaces the re-notification policy.
func (s *Service) SetRenotifyPolicy(p RenotifyPolicy) {
	s.mu.Lock()
	s.renotify = p
	s.mu.Unlock()
}

// onDispatchComplete finalizes the broadcast once every delivery record has a
// terminal send attempt. A broadcast with zero records, or where no provider
// accepted anything, is failed rather than sent.
func (s *Service) onDispatchComplete(ctx context.Context, res dispatch.Result) {
	target := model.StatusSent
	if res.Total == 0 || res.Accepted == 0 {
		target = model.StatusFailed
	}

	_, err := s.lc.Transition(ctx, res.BroadcastID, target)
	switch {
	case err == nil:
	case model.IsInvalidState(err):
		// Expired mid-send, or a re-notification round completing on an
		// already-sent broadcast. Either way the current status wins.
		s.log.Debug("dispatch completion superseded",
			logx.String("broadcast", res.BroadcastID),
			logx.String("target", string(target)))
	default:
		s.log.Error("finalizing dispatch failed",
			logx.String("broadcast", res.BroadcastID),
			logx.String("target", string(target)),
			logx.Err(err))
	}
}

// release moves the broadcast into sending and starts the fan-out. Returns
// InvalidStateError when another releaser got there first.
func (s *Service) release(ctx context.Context, id string) error {
	b, err := s.lc.Transition(ctx, id, model.StatusSending)
	if err != nil {
		return err
	}

	res, err := s.resolver.Resolve(ctx, b.Audience, time.Now())
	if err != nil {
		s.log.Error("audience resolution failed",
			logx.String("broadcast", id),
			logx.Err(err))
		_, ferr := s.lc.Transition(ctx, id, model.StatusFailed)
		if ferr != nil {
			s.log.Error("marking broadcast failed after resolution error",
				logx.String("broadcast", id), logx.Err(ferr))
		}
		return err
	}

	if err := s.disp.Dispatch(ctx, b, res); err != nil {
		s.log.Error("dispatch failed to start",
			logx.String("broadcast", id),
			logx.Err(err))
		_, ferr := s.lc.Transition(ctx, id, model.StatusFailed)
		if ferr != nil {
			s.log.Error("marking broadcast failed after dispatch error",
				logx.String("broadcast", id), logx.Err(ferr))
		}
		return err
	}
	return nil
}
