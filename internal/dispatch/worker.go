package dispatch

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"tourcast/internal/channel"
	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh chan struct{}, queue chan task, ch model.Channel, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// Fast-path exit so a stopped service never picks up another task.
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case tk := <-queue:
			s.sendOne(ctx, tk, rng)
		}
	}
}

// sendOne pushes one (recipient, channel) attempt through the adapter,
// retrying transient failures with backoff. It always counts the task down
// on the job barrier exactly once.
func (s *Service) sendOne(ctx context.Context, tk task, rng *rand.Rand) {
	ad, ok := s.reg.Get(tk.ch)
	if !ok {
		s.failTask(ctx, tk, "no adapter registered for channel", 0)
		return
	}

	if s.met != nil {
		s.met.InFlight.WithLabelValues(string(tk.ch)).Inc()
		defer s.met.InFlight.WithLabelValues(string(tk.ch)).Dec()
	}

	lim := s.limiterFor(tk.ch)
	retries := 0
	for {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				s.failTask(ctx, tk, "dispatch aborted", retries)
				return
			}
		}

		out := ad.Send(ctx, tk.rcpt, tk.b)
		if s.met != nil {
			s.met.Sends.WithLabelValues(string(tk.ch), outcomeLabel(out.Kind)).Inc()
		}

		switch out.Kind {
		case channel.OutcomeAccepted:
			if err := s.trk.MarkSent(ctx, tk.b.ID, tk.rcpt.ID, tk.ch); err != nil {
				s.log.Error("mark sent failed",
					logx.String("broadcast", tk.b.ID),
					logx.String("recipient", tk.rcpt.ID),
					logx.String("channel", string(tk.ch)),
					logx.Err(err))
			}
			tk.job.accepted()
			return

		case channel.OutcomeRejected:
			s.failTask(ctx, tk, out.FailureReason(), retries)
			return

		default: // OutcomeUnavailable
			if retries >= s.retryMax() {
				s.failTask(ctx, tk, out.FailureReason(), retries)
				return
			}
			retries++
			if err := s.trk.BumpRetry(ctx, tk.b.ID, tk.rcpt.ID, tk.ch); err != nil {
				s.log.Warn("bump retry failed",
					logx.String("broadcast", tk.b.ID),
					logx.String("recipient", tk.rcpt.ID),
					logx.Err(err))
			}
			delay := s.backoffDelay(retries, rng)
			s.log.Debug("send retry scheduled",
				logx.String("broadcast", tk.b.ID),
				logx.String("recipient", tk.rcpt.ID),
				logx.String("channel", string(tk.ch)),
				logx.Int("attempt", retries),
				logx.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				s.failTask(ctx, tk, "dispatch aborted", retries)
				return
			}
		}
	}
}

// failTask records the terminal failure and counts the task down. The record
// write uses a detached context so a cancelled dispatch still persists its
// final state.
func (s *Service) failTask(ctx context.Context, tk task, reason string, retries int) {
	wctx := ctx
	if wctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.trk.MarkFailed(wctx, tk.b.ID, tk.rcpt.ID, tk.ch, reason, retries); err != nil {
		s.log.Error("mark failed failed",
			logx.String("broadcast", tk.b.ID),
			logx.String("recipient", tk.rcpt.ID),
			logx.String("channel", string(tk.ch)),
			logx.Err(err))
	}
	tk.job.failed()
}

func (s *Service) limiterFor(ch model.Channel) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiters[ch]
}

func (s *Service) retryMax() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RetryMax
}

// backoffDelay is exponential in the attempt number with +/- jitter, capped.
func (s *Service) backoffDelay(attempt int, rng *rand.Rand) time.Duration {
	s.mu.Lock()
	base, maxDelay, jitter := s.cfg.RetryBase, s.cfg.RetryMaxDelay, s.cfg.RetryJitter
	s.mu.Unlock()

	d := base << uint(attempt-1)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	if jitter > 0 {
		f := 1 + jitter*(2*rng.Float64()-1)
		d = time.Duration(float64(d) * f)
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func outcomeLabel(k channel.OutcomeKind) string {
	switch k {
	case channel.OutcomeAccepted:
		return "accepted"
	case channel.OutcomeRejected:
		return "rejected"
	default:
		return "unavailable"
	}
}
