package pipeline

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// schedule is a parsed 5-field cron expression evaluated in UTC.
type schedule struct {
	spec cron.Schedule
}

// parseCron parses "minute hour day-of-month month day-of-week". Descriptors
// such as "@daily" are accepted too.
func parseCron(expr string) (schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return schedule{}, err
	}
	return schedule{spec: s}, nil
}

// ValidateCron reports whether expr is a usable schedule.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// next returns the first activation strictly after 'after'.
func (s schedule) next(after time.Time) (time.Time, error) {
	t := s.spec.Next(after.UTC())
	if t.IsZero() {
		return time.Time{}, errors.New("schedule never fires")
	}
	return t, nil
}
