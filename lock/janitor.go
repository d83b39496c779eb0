package lock

import (
	"fmt"

	rcron "github.com/robfig/cron/v3"

	lifecycle "github.com/goliatone/go-lifecycle"
)

// DefaultSweepSchedule runs the sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Janitor periodically sweeps expired handles so a crashed holder cannot keep
// its entry in the table past the TTL plus one sweep interval.
type Janitor struct {
	table  *Table
	cron   *rcron.Cron
	logger lifecycle.Logger
}

// NewJanitor schedules sweeps of the table using a cron expression or
// @every descriptor.
func NewJanitor(table *Table, schedule string, logger lifecycle.Logger) (*Janitor, error) {
	if table == nil {
		return nil, fmt.Errorf("lock table required")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	logger = lifecycle.NormalizeLogger(logger)

	j := &Janitor{
		table:  table,
		cron:   rcron.New(),
		logger: logger,
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if removed := table.Sweep(); removed > 0 {
			logger.Info("lock janitor removed %d expired handles", removed)
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule lock sweep: %w", err)
	}
	return j, nil
}

// Start begins executing scheduled sweeps.
func (j *Janitor) Start() {
	if j == nil {
		return
	}
	j.cron.Start()
}

// Stop halts scheduled sweeps. Safe to call more than once.
func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	j.cron.Stop()
}
