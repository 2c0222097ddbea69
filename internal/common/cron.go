package common

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronSchedule checks that a 5-field cron expression parses.
// Unlike the scheduler this module was modeled on, no minimum-interval
// restriction is enforced here: the spec places no floor on task frequency.
func ValidateCronSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("cron schedule must not be empty")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}
