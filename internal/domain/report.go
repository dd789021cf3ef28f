package domain

import "time"

// CycleReport summarizes one reconciliation cycle for the operator.
// Built in memory during the cycle, handed to the Notifier, then dropped.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Replied    int // replies newly posted this cycle
	Adopted    int // upstream replies adopted into the local log
	Failed     int
	Skipped    int // permanent rejections, never retried
	Aborted    bool
	AbortErr   string
	Failures   []CycleFailure
}

// CycleFailure pins a failure to the review and pipeline stage it hit.
type CycleFailure struct {
	ReviewID string
	Stage    string // generate | post | record | track
	Reason   string
}

// Clean reports whether the cycle completed without any failure.
func (r CycleReport) Clean() bool {
	return !r.Aborted && r.Failed == 0 && len(r.Failures) == 0
}
