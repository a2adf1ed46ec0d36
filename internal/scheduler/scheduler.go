// Package scheduler runs the periodic sweeps: releasing due scheduled
// broadcasts, expiring stale ones, and (when enabled) re-notifying
// unacknowledged recipients. The scheduler only decides WHEN to sweep; the
// sweep semantics live behind the Sweeper interface, and every release is
// guarded by the lifecycle state machine, so an overlapping or duplicated
// sweep cannot double-send.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "tourcast/pkg/logx"
)

// Sweeper is implemented by the broadcast core.
type Sweeper interface {
	// ReleaseDue moves scheduled broadcasts whose scheduled_for has passed
	// into sending and starts their dispatch. Returns how many were released.
	ReleaseDue(ctx context.Context, now time.Time) (int, error)
	// ExpireDue expires non-terminal broadcasts whose expires_at has passed.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	// RenotifyDue re-sends ack-requiring sent broadcasts to recipients that
	// have not acknowledged, honoring the per-broadcast round limit.
	RenotifyDue(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Enabled       bool
	SweepInterval time.Duration

	RenotifyEnabled  bool
	RenotifyInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.RenotifyInterval <= 0 {
		c.RenotifyInterval = 5 * time.Minute
	}
	return c
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	core Sweeper
	log  logx.Logger

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, core Sweeper, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), core: core, log: log}
}

// Enabled reports the current config flag. (Thread-safe; Apply may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates intervals. A changed interval takes effect by restarting the
// cron runner.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	changed := cfg.SweepInterval != s.cfg.SweepInterval ||
		cfg.RenotifyEnabled != s.cfg.RenotifyEnabled ||
		cfg.RenotifyInterval != s.cfg.RenotifyInterval
	s.cfg = cfg
	restart := changed && s.c != nil
	s.mu.Unlock()

	if restart {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		s.Start(context.Background())
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cfg := s.cfg
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	s.c = cron.New()
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	_, _ = s.c.AddFunc(spec, func() { s.sweep(runCtx) })
	if cfg.RenotifyEnabled {
		respec := fmt.Sprintf("@every %s", cfg.RenotifyInterval)
		_, _ = s.c.AddFunc(respec, func() { s.renotify(runCtx) })
	}
	s.c.Start()

	s.log.Info("scheduler started",
		logx.Duration("sweep_interval", cfg.SweepInterval),
		logx.Bool("renotify", cfg.RenotifyEnabled))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// sweep runs one release+expire pass. Safe to call directly from tests.
func (s *Service) sweep(ctx context.Context) {
	defer s.recoverPanic("sweep")
	now := time.Now()

	released, err := s.core.ReleaseDue(ctx, now)
	if err != nil {
		s.log.Error("release sweep failed", logx.Err(err))
	} else if released > 0 {
		s.log.Info("released scheduled broadcasts", logx.Int("count", released))
	}

	expired, err := s.core.ExpireDue(ctx, now)
	if err != nil {
		s.log.Error("expiry sweep failed", logx.Err(err))
	} else if expired > 0 {
		s.log.Info("expired broadcasts", logx.Int("count", expired))
	}
}

func (s *Service) renotify(ctx context.Context) {
	defer s.recoverPanic("renotify")
	n, err := s.core.RenotifyDue(ctx, time.Now())
	if err != nil {
		s.log.Error("renotify sweep failed", logx.Err(err))
	} else if n > 0 {
		s.log.Info("renotified broadcasts", logx.Int("count", n))
	}
}

func (s *Service) recoverPanic(job string) {
	if r := recover(); r != nil {
		s.log.Error("panic in scheduler job",
			logx.String("job", job),
			logx.Any("panic", r),
			logx.Stack(string(debug.Stack())))
	}
}
