package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tourcast/internal/audience"
	"tourcast/internal/channel"
	"tourcast/internal/eventbus"
	"tourcast/internal/model"
	"tourcast/internal/tracker"
	logx "tourcast/pkg/logx"
	"tourcast/pkg/metrics"
)

// Config controls the fan-out pools.
//
// Workers and rate limits are per channel, not per broadcast: one broadcast
// with 10k recipients cannot starve another broadcast's delivery or overrun
// a provider's rate limit.
type Config struct {
	WorkersPerChannel int
	QueueSize         int
	RatePerSec        int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.WorkersPerChannel <= 0 {
		c.WorkersPerChannel = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Result summarizes one broadcast's completed fan-out.
type Result struct {
	BroadcastID string

	Total    int // delivery records created
	Accepted int // provider accepted (possibly after retries)
	Failed   int // rejected, exhausted retries, or no adapter

	SkippedUnreachable int // opted out / no contact; no record created
	SkippedUnknown     int // unknown explicit ids reported by the resolver

	StartedAt  time.Time
	FinishedAt time.Time
}

// CompletionFunc is invoked exactly once per dispatch, after every record has
// reached a terminal per-attempt state. This is the single synchronization
// point the lifecycle manager uses to finalize the broadcast.
type CompletionFunc func(ctx context.Context, res Result)

type task struct {
	b    *model.Broadcast
	rcpt *audience.Recipient
	ch   model.Channel
	job  *jobState
}

// jobState is the per-dispatch countdown barrier plus the running tally.
type jobState struct {
	res Result

	mu sync.Mutex
	wg sync.WaitGroup
}

func (j *jobState) accepted() {
	j.mu.Lock()
	j.res.Accepted++
	j.mu.Unlock()
	j.wg.Done()
}

func (j *jobState) failed() {
	j.mu.Lock()
	j.res.Failed++
	j.mu.Unlock()
	j.wg.Done()
}

func (j *jobState) snapshot() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.res
}

type Service struct {
	mu sync.Mutex

	cfg Config
	reg *channel.Registry
	trk *tracker.Tracker
	log logx.Logger
	bus eventbus.Bus
	met *metrics.Metrics

	queues   map[model.Channel]chan task
	limiters map[model.Channel]*rate.Limiter

	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	onComplete CompletionFunc
}
