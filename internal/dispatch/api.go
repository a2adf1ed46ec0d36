package dispatch

import (
	"context"
	"errors"
	"time"

	"tourcast/internal/audience"
	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

// ErrNotRunning is returned by Dispatch when the worker pools are down.
var ErrNotRunning = errors.New("dispatch: service not running")

// Dispatch fans the broadcast out to every (recipient, channel) pair of the
// resolution. It creates a queued delivery record per pair, enqueues the send
// tasks, and returns without waiting for delivery. When every task has
// reached a terminal per-attempt state the completion callback fires exactly
// once with the tally.
//
// Recipients unreachable on a channel (opted out, or no contact address) get
// no record and are counted in Result.SkippedUnreachable.
func (s *Service) Dispatch(ctx context.Context, b *model.Broadcast, res audience.Resolution) error {
	s.mu.Lock()
	running := s.stopCh != nil && s.stopDone == nil
	stopCh := s.stopCh
	queues := s.queues
	onComplete := s.onComplete
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	job := &jobState{res: Result{
		BroadcastID:    b.ID,
		SkippedUnknown: res.SkippedUnknown,
		StartedAt:      time.Now(),
	}}

	var tasks []task
	for _, rcpt := range res.Recipients {
		for _, ch := range b.Channels {
			if _, ok := queues[ch]; !ok {
				// No adapter was registered for this channel at Start time.
				// Record the pair so the failure is visible per recipient.
				if err := s.trk.CreateQueued(ctx, b.ID, rcpt.ID, ch); err != nil {
					return err
				}
				job.res.Total++
				job.wg.Add(1)
				s.failTask(ctx, task{b: b, rcpt: rcpt, ch: ch, job: job}, "no adapter registered for channel", 0)
				continue
			}
			if !rcpt.Reachable(ch) {
				job.res.SkippedUnreachable++
				continue
			}
			if err := s.trk.CreateQueued(ctx, b.ID, rcpt.ID, ch); err != nil {
				return err
			}
			job.res.Total++
			job.wg.Add(1)
			tasks = append(tasks, task{b: b, rcpt: rcpt, ch: ch, job: job})
		}
	}

	s.log.Info("dispatch started",
		logx.String("broadcast", b.ID),
		logx.Int("recipients", len(res.Recipients)),
		logx.Int("tasks", job.res.Total),
		logx.Int("skipped_unreachable", job.res.SkippedUnreachable),
		logx.Int("skipped_unknown", job.res.SkippedUnknown))

	go s.finalize(job, onComplete)

	for _, tk := range tasks {
		select {
		case queues[tk.ch] <- tk:
		case <-stopCh:
			s.failTask(ctx, tk, "dispatch aborted", 0)
		case <-ctx.Done():
			s.failTask(ctx, tk, "dispatch aborted", 0)
		}
	}
	return nil
}

// finalize waits on the countdown barrier, then reports the result once.
func (s *Service) finalize(job *jobState, onComplete CompletionFunc) {
	job.wg.Wait()

	job.mu.Lock()
	job.res.FinishedAt = time.Now()
	job.mu.Unlock()
	res := job.snapshot()

	s.log.Info("dispatch completed",
		logx.String("broadcast", res.BroadcastID),
		logx.Int("total", res.Total),
		logx.Int("accepted", res.Accepted),
		logx.Int("failed", res.Failed),
		logx.Duration("took", res.FinishedAt.Sub(res.StartedAt)))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventDispatchCompleted, Data: res})
	}
	if onComplete != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		onComplete(ctx, res)
	}
}
