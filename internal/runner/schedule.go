package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next check time after a successful cycle.
type Schedule interface {
	Next(time.Time) time.Time
}

// NewSchedule returns a cron schedule for expr when set, otherwise a fixed
// interval. A timezone can be pinned with a CRON_TZ= prefix.
func NewSchedule(interval time.Duration, expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		if interval <= 0 {
			return nil, fmt.Errorf("check interval must be positive")
		}
		return cron.Every(interval), nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}
