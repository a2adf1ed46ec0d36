package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"tourcast/internal/channel"
	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

func New(cfg Config, reg *channel.Registry, trk *tracker.Tracker, log logx.Logger, bus eventbus.Bus, met *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		reg: reg,
		trk: trk,
		log: log,
		bus: bus,
		met: met,
	}
}

// SetCompletion installs the dispatch-complete callback. Must be called
// before Start.
func (s *Service) SetCompletion(fn CompletionFunc) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Apply updates retry/rate settings. Pool sizes take effect on next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.withDefaults()
	for ch, lim := range s.limiters {
		_ = ch
		lim.SetLimit(rate.Limit(s.cfg.RatePerSec))
		lim.SetBurst(s.cfg.RatePerSec)
	}
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	cfg := s.cfg
	s.queues = map[model.Channel]chan task{}
	s.limiters = map[model.Channel]*rate.Limiter{}

	channels := s.reg.Channels()
	for _, ch := range channels {
		queue := make(chan task, cfg.QueueSize)
		s.queues[ch] = queue
		s.limiters[ch] = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

		for i := 0; i < cfg.WorkersPerChannel; i++ {
			idx := i
			chName := ch
			stopCh := s.stopCh
			runCtx := s.runCtx
			s.workerWG.Add(1)
			go func() {
				defer s.workerWG.Done()
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("panic in dispatch worker",
							logx.String("channel", string(chName)),
							logx.Int("worker", idx),
							logx.Any("panic", r),
							logx.Stack(string(debug.Stack())))
					}
				}()
				s.worker(runCtx, stopCh, queue, chName, idx)
			}()
		}
	}

	s.log.Info("dispatcher started",
		logx.Int("channels", len(channels)),
		logx.Int("workers_per_channel", cfg.WorkersPerChannel),
		logx.Int("rate_per_sec", cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.queues = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}
