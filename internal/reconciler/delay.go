package reconciler

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// delayedEvent is applied by the Run loop once applyAt passes: retries of
// failed rounds, follow-up rounds and chassis deaths waiting out
// ChassisDeathDelay.
type delayedEvent struct {
	ev      Event
	applyAt time.Time
}

func (e delayedEvent) String() string {
	return fmt.Sprintf("{event=%s, apply_at=%s}", e.ev, e.applyAt.Format(time.DateTime))
}

// delayEvent inserts the event keeping the queue ordered by applyAt, equal
// deadlines keep arrival order. The timer is armed for the queue head.
func (r *Reconciler) delayEvent(event Event, after time.Duration) {
	ev := delayedEvent{
		ev:      event,
		applyAt: time.Now().Add(after),
	}
	r.log.Debug().Msgf("delayed event: %v", ev)

	i := slices.IndexFunc(r.delayed, func(queued delayedEvent) bool {
		return queued.applyAt.After(ev.applyAt)
	})
	if i < 0 {
		i = len(r.delayed)
	}
	r.delayed = slices.Insert(r.delayed, i, ev)
	if i == 0 {
		r.delayEventTimer.Reset(after)
	}
}

// handleDelayedEvent applies every event that is due and rearms the timer
// for the rest.
func (r *Reconciler) handleDelayedEvent(ctx context.Context) {
	now := time.Now()
	due := 0
	for due < len(r.delayed) && !r.delayed[due].applyAt.After(now) {
		due++
	}
	ready := slices.Clone(r.delayed[:due])
	r.delayed = slices.Delete(r.delayed, 0, due)

	for _, ev := range ready {
		r.log.Debug().Msgf("got delayed event: %v", ev.ev)
		r.processIncomingEvent(ctx, ev.ev, false)
	}
	if len(r.delayed) > 0 {
		r.delayEventTimer.Reset(time.Until(r.delayed[0].applyAt))
	}
}
