package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/idalloc"
	"github.com/Sh00ty/mcast-northd/internal/metrics"
	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/snapshot"
)

type EventType string

const (
	InputChanged EventType = "input-changed"
	RunReconcile EventType = "run-reconcile"
	RetryRound   EventType = "retry-round"

	LeadershipAcquired EventType = "leadership-acquired"
	LeadershipLost     EventType = "leadership-lost"

	ChassisAlive EventType = "chassis-alive"
	ChassisDead  EventType = "chassis-dead"
)

type Event struct {
	Type    EventType
	Reason  string
	Chassis models.ChassisID

	timestamp uint64
}

func (e Event) String() string {
	switch {
	case e.Chassis != "":
		return fmt.Sprintf("{type=%s, chassis=%s}", e.Type, e.Chassis)
	case e.Reason != "":
		return fmt.Sprintf("{type=%s, reason=%s}", e.Type, e.Reason)
	}
	return fmt.Sprintf("{type=%s}", e.Type)
}

type InputStore interface {
	Snapshot() snapshot.Snapshot
	SetChassisStatus(id models.ChassisID, status models.ChassisStatus)
}

type OutputStore interface {
	Snapshot(ctx context.Context) (models.OutputState, error)
	Commit(ctx context.Context, d delta.Delta) error
}

type Allocator interface {
	Allocate(requests []models.GroupKey, committed map[models.DatapathID]map[string]uint32) idalloc.Result
}

type Config struct {
	// ForceReconcileInterval of zero disables periodic resync.
	ForceReconcileInterval time.Duration
	RetryDelay             time.Duration
	RoundTimeout           time.Duration
	CommitAttempts         uint
	CommitRetryDelay       time.Duration
	MinRoundInterval       time.Duration
	RoundBurst             int
	// ChassisDeathDelay is how long reports of a dead chassis are kept
	// before they are flushed from output.
	ChassisDeathDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		ForceReconcileInterval: 5 * time.Minute,
		RetryDelay:             10 * time.Second,
		RoundTimeout:           30 * time.Second,
		CommitAttempts:         3,
		CommitRetryDelay:       200 * time.Millisecond,
		MinRoundInterval:       100 * time.Millisecond,
		RoundBurst:             5,
		ChassisDeathDelay:      10 * time.Second,
	}
}

type Reconciler struct {
	input   InputStore
	output  OutputStore
	alloc   Allocator
	metrics metrics.Metrics
	cfg     Config

	trigger              <-chan struct{}
	eventCh              chan Event
	limiter              *rate.Limiter
	forceReconcileTicker *time.Ticker
	delayEventTimer      *time.Timer
	delayed              []delayedEvent
	retryScheduled       bool
	leading              bool

	eventTimestamp uint64
	// last alive event per chassis, stale death events are skipped
	chassisAliveAt map[models.ChassisID]uint64

	log zerolog.Logger
}

func NewReconciler(
	input InputStore,
	output OutputStore,
	alloc Allocator,
	m metrics.Metrics,
	trigger <-chan struct{},
	cfg Config,
	logger zerolog.Logger,
) *Reconciler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Reconciler{
		input:   input,
		output:  output,
		alloc:   alloc,
		metrics: m,
		cfg:     cfg,

		trigger:         trigger,
		eventCh:         make(chan Event, 256),
		limiter:         rate.NewLimiter(rate.Every(cfg.MinRoundInterval), max(cfg.RoundBurst, 1)),
		delayEventTimer: time.NewTimer(time.Minute),
		chassisAliveAt:  make(map[models.ChassisID]uint64, 64),

		log: logger.With().Str("component", "reconciler").Logger(),
	}
}

// GetEventsChan accepts events from outside of the input store: leadership
// changes and chassis liveness.
func (r *Reconciler) GetEventsChan() chan<- Event {
	return r.eventCh
}

// SetChassisStatus queues a gossip liveness change. Alive is applied at
// once, dead only after ChassisDeathDelay unless the chassis came back.
func (r *Reconciler) SetChassisStatus(id models.ChassisID, status models.ChassisStatus) {
	switch status {
	case models.ChassisAlive:
		r.eventCh <- Event{Type: ChassisAlive, Chassis: id}
	case models.ChassisDead:
		r.eventCh <- Event{Type: ChassisDead, Chassis: id}
	}
}

// Run processes events until ctx is done. Rounds only run while this
// instance leads, chassis liveness is tracked all the time so a new leader
// starts from the same view.
func (r *Reconciler) Run(ctx context.Context) error {
	var forceReconcile <-chan time.Time
	if r.cfg.ForceReconcileInterval > 0 {
		r.forceReconcileTicker = time.NewTicker(r.cfg.ForceReconcileInterval)
		defer r.forceReconcileTicker.Stop()
		forceReconcile = r.forceReconcileTicker.C
	}
	defer r.delayEventTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-r.trigger:
			if !ok {
				r.log.Info().Msg("input trigger closed, stop reconciler")
				return nil
			}
			r.processIncomingEvent(ctx, Event{Type: InputChanged}, true)
		case event := <-r.eventCh:
			r.eventTimestamp++
			event.timestamp = r.eventTimestamp

			r.log.Info().Msgf("got new event: %v", event)
			r.processIncomingEvent(ctx, event, true)
		case <-r.delayEventTimer.C:
			if len(r.delayed) == 0 {
				continue
			}
			r.handleDelayedEvent(ctx)
		case <-forceReconcile:
			r.processIncomingEvent(ctx, Event{Type: RunReconcile, Reason: "periodic resync"}, true)
		}
	}
}

func (r *Reconciler) processIncomingEvent(ctx context.Context, event Event, canSchedule bool) {
	switch event.Type {
	case ChassisDead:
		if canSchedule && r.cfg.ChassisDeathDelay > 0 {
			r.delayEvent(event, r.cfg.ChassisDeathDelay)
			return
		}
		r.handleChassisDeath(event)
	case ChassisAlive:
		r.chassisAliveAt[event.Chassis] = event.timestamp
		r.input.SetChassisStatus(event.Chassis, models.ChassisAlive)
	case LeadershipAcquired:
		r.leading = true
		r.reconcile(ctx)
	case LeadershipLost:
		r.leading = false
	case RetryRound:
		r.retryScheduled = false
		r.reconcile(ctx)
	case InputChanged, RunReconcile:
		r.reconcile(ctx)
	default:
		r.log.Warn().Msgf("skip unknown event %v", event)
	}
}

func (r *Reconciler) handleChassisDeath(event Event) {
	// if delayed we need to check if chassis became alive meanwhile
	if r.chassisAliveAt[event.Chassis] > event.timestamp {
		r.log.Warn().Msgf("skip death of %s: have alive event with bigger timestamp", event.Chassis)
		return
	}
	r.log.Warn().Msgf("chassis %s is dead, flush its igmp groups", event.Chassis)
	// input store notifies the trigger, the round follows from there
	r.input.SetChassisStatus(event.Chassis, models.ChassisDead)
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if !r.leading {
		r.log.Debug().Msg("not a leader, skip round")
		return
	}
	err := r.limiter.Wait(ctx)
	if err != nil {
		// context canceled, loop exits on next select
		return
	}
	report, err := r.RunRound(ctx)
	if err == nil {
		if report.FollowUp != "" {
			r.delayEvent(Event{Type: RunReconcile, Reason: report.FollowUp}, 0)
		}
		return
	}
	r.metrics.Increment(metrics.RoundsFailed)
	r.log.Error().Err(err).Msgf("round failed, retry in %s", r.cfg.RetryDelay)
	if r.retryScheduled {
		return
	}
	r.retryScheduled = true
	r.delayEvent(Event{Type: RetryRound, Reason: err.Error()}, r.cfg.RetryDelay)
}
