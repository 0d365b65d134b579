package metrics

import "time"

type Metrics interface {
	Increment(string)
	Add(string, int)
	Duration(string, time.Duration)
	Gauge(string, int)
}

const (
	RoundsTotal        = "rounds.total"
	RoundsFailed       = "rounds.failed"
	RoundDuration      = "rounds.duration"
	CommitDuration     = "commit.duration"
	DeltaInserts       = "delta.inserts"
	DeltaUpdates       = "delta.updates"
	DeltaDeletes       = "delta.deletes"
	AllocatedKeys      = "idalloc.allocated"
	AllocationFailures = "idalloc.failures"
	ConfigWarnings     = "derivation.config_warnings"
	SkippedReports     = "derivation.skipped_reports"
	Groups             = "output.groups"
	Flows              = "output.flows"
)
