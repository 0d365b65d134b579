package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-uuid"

	"github.com/Sh00ty/mcast-northd/internal/delta"
	"github.com/Sh00ty/mcast-northd/internal/derivation"
	"github.com/Sh00ty/mcast-northd/internal/idalloc"
	"github.com/Sh00ty/mcast-northd/internal/metrics"
	"github.com/Sh00ty/mcast-northd/internal/projection"
	"github.com/Sh00ty/mcast-northd/internal/storage"
)

// RoundReport describes what a completed round did.
type RoundReport struct {
	ID                 string
	InputVersion       uint64
	Delta              delta.Delta
	Committed          bool
	AllocationFailures []idalloc.Failure
	Warnings           []derivation.Warning
	// FollowUp is set when another round right away can change output
	// without new input: keys were released while groups still wait for
	// one, or the store took only part of the delta.
	FollowUp string
}

// RunRound runs the whole pipeline once: derive from an input snapshot,
// allocate tunnel keys against committed output, project and commit the
// delta. A failed commit leaves the committed output untouched.
func (r *Reconciler) RunRound(ctx context.Context) (RoundReport, error) {
	roundID, err := uuid.GenerateUUID()
	if err != nil {
		return RoundReport{}, fmt.Errorf("failed to generate round id: %w", err)
	}
	if r.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RoundTimeout)
		defer cancel()
	}

	var (
		logger = r.log.With().Str("round_id", roundID).Logger()
		start  = time.Now()
		snap   = r.input.Snapshot()
		report = RoundReport{ID: roundID, InputVersion: snap.Version}
	)
	r.metrics.Increment(metrics.RoundsTotal)
	logger.Debug().Msgf("start round on input version %d", snap.Version)

	derived := derivation.Derive(snap)
	for _, w := range derived.Warnings {
		logger.Warn().Msgf("malformed input, default used: %s", w)
	}
	report.Warnings = derived.Warnings
	r.metrics.Add(metrics.ConfigWarnings, len(derived.Warnings))
	r.metrics.Add(metrics.SkippedReports, derived.SkippedReports)

	committed, err := r.output.Snapshot(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read committed output: %w", err)
	}

	allocated := r.alloc.Allocate(projection.GroupRequests(derived.Groups), committed.CommittedTunnelKeys())
	for _, f := range allocated.Failures {
		logger.Error().Err(f.Err).Msgf("group %s left out of output until keys free up", f.Group)
	}
	report.AllocationFailures = allocated.Failures
	r.metrics.Add(metrics.AllocatedKeys, len(allocated.Allocated))
	r.metrics.Add(metrics.AllocationFailures, len(allocated.Failures))

	next := projection.Project(derived, allocated.Keys)
	report.Delta = delta.Diff(next, committed)
	r.metrics.Gauge(metrics.Groups, len(next.Groups))
	r.metrics.Gauge(metrics.Flows, len(next.Flows))

	if report.Delta.Empty() {
		logger.Info().Msg("round: no changes")
		r.metrics.Duration(metrics.RoundDuration, time.Since(start))
		return report, nil
	}

	var partial error
	commitStart := time.Now()
	err = retry.Do(
		func() error {
			err := r.output.Commit(ctx, report.Delta)
			if errors.Is(err, storage.ErrPartialCommit) {
				partial = err
				return nil
			}
			if errors.Is(err, storage.ErrNotLeader) || errors.Is(err, storage.ErrConstraint) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(max(r.cfg.CommitAttempts, 1)),
		retry.Delay(r.cfg.CommitRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn().Err(err).Msgf("failed to commit round delta, attempt: %d", attempt)
		}),
	)
	if err != nil {
		return report, fmt.Errorf("failed to commit delta of %d changes: %w", report.Delta.Len(), err)
	}
	report.Committed = true
	switch {
	case partial != nil:
		logger.Warn().Err(partial).Msg("delta committed partially, run next round for the rest")
		report.FollowUp = "partial commit"
	case len(report.AllocationFailures) > 0 && releasesKeys(report.Delta):
		report.FollowUp = "keys released"
	}
	r.metrics.Duration(metrics.CommitDuration, time.Since(commitStart))
	r.metrics.Duration(metrics.RoundDuration, time.Since(start))
	r.metrics.Add(metrics.DeltaInserts, len(report.Delta.Groups.Inserts)+len(report.Delta.Flows.Inserts))
	r.metrics.Add(metrics.DeltaUpdates, len(report.Delta.Groups.Updates)+len(report.Delta.Flows.Updates))
	r.metrics.Add(metrics.DeltaDeletes, len(report.Delta.Groups.Deletes)+len(report.Delta.Flows.Deletes))

	logger.Info().Msgf(
		"round committed: groups +%d ~%d -%d, flows +%d ~%d -%d",
		len(report.Delta.Groups.Inserts), len(report.Delta.Groups.Updates), len(report.Delta.Groups.Deletes),
		len(report.Delta.Flows.Inserts), len(report.Delta.Flows.Updates), len(report.Delta.Flows.Deletes),
	)
	return report, nil
}

func releasesKeys(d delta.Delta) bool {
	return len(d.Groups.Deletes) > 0
}
