package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnsupportedCron is returned for any schedule outside the three
// supported shapes (hourly, daily, weekly).
var ErrUnsupportedCron = errors.New("reconcile: unsupported cron expression")

// Supported shapes:
//
//	M * * * *    hourly at minute M
//	M H * * *    daily at H:M
//	M H * * D    weekly on day-of-week D at H:M
//
// Steps, ranges, lists and day-of-month restrictions are deliberately
// rejected: schedule semantics must stay trivially auditable.
func validateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if dom != "*" || month != "*" {
		return fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
	if !isNumericField(minute, 0, 59) {
		return fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
	switch {
	case hour == "*" && dow == "*":
		return nil // hourly
	case isNumericField(hour, 0, 23) && dow == "*":
		return nil // daily
	case isNumericField(hour, 0, 23) && isNumericField(dow, 0, 6):
		return nil // weekly
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
}

func isNumericField(s string, lo, hi int) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= lo && n <= hi
}

// NextRun computes the next scheduled moment strictly after from. When
// from falls exactly on a scheduled moment the result is one full
// period later.
func NextRun(expr string, from time.Time) (time.Time, error) {
	if err := validateCron(expr); err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
	return sched.Next(from), nil
}
