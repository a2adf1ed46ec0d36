package broadcast

import (
	"sync"
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

// RenotifyPolicy re-sends an ack-requiring broadcast to recipients that have
// not acknowledged it. Zero MaxRounds disables re-notification entirely;
// there is deliberately no built-in default policy.
type RenotifyPolicy struct {
	Interval  time.Duration
	MaxRounds int
}

func (p RenotifyPolicy) enabled() bool { return p.MaxRounds > 0 && p.Interval > 0 }

// NewBroadcast is the authoring input for CreateBroadcast.
type NewBroadcast struct {
	Title    string
	Body     string
	Type     model.BroadcastType
	Priority model.Priority

	Audience model.AudienceSpec
	Channels []model.Channel

	RequiresAck  bool
	ScheduledFor *time.Time
	ExpiresAt    *time.Time

	CreatedBy string
}

// View is a broadcast with its current delivery rollup.
type View struct {
	Broadcast *model.Broadcast    `json:"broadcast"`
	Stats     model.DeliveryStats `json:"stats"`
}

// roundState tracks re-notification progress per broadcast. In-memory only:
// a restart resets round counting, which at worst re-notifies one extra time.
type roundState struct {
	rounds int
	lastAt time.Time
}

// Service is the broadcast core: the single entry point for authoring,
// querying, cancelling, acknowledging and sweeping broadcasts. All status
// writes are delegated to the lifecycle manager.
type Service struct {
	store    storage.Store
	lc       *lifecycle.Manager
	resolver *audience.Resolver
	disp     *dispatch.Service
	trk      *tracker.Tracker
	bus      eventbus.Bus
	log      logx.Logger
	met      *metrics.Metrics

	renotify RenotifyPolicy

	mu     sync.Mutex
	rounds map[string]*roundState
}
