package ticker

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both the five-field form and a leading seconds field,
// so "0 2 * * *" and "44 59 7 * * *" are both valid.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronTicker fires on a cron schedule evaluated in a fixed timezone
type CronTicker struct {
	*driver

	expression string
	schedule   cron.Schedule
}

// NewCronTicker parses expression and binds it to config.Timezone
func NewCronTicker(expression string, config TickerConfig) (*CronTicker, error) {
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %s: %w", expression, err)
	}

	t := &CronTicker{expression: expression, schedule: schedule}
	t.driver = newDriver(loc, func(after time.Time, _ int) (time.Time, bool) {
		return schedule.Next(after.In(loc)), true
	})
	return t, nil
}

// ValidateCron reports whether expression is accepted by NewCronTicker
func ValidateCron(expression string) error {
	if _, err := cronParser.Parse(expression); err != nil {
		return fmt.Errorf("invalid cron expression %s: %w", expression, err)
	}
	return nil
}

// GetOccurrencesBetween returns every slot in (start, end], oldest first
func (t *CronTicker) GetOccurrencesBetween(start, end time.Time) ([]time.Time, error) {
	var occurrences []time.Time
	current := start.In(t.location)
	end = end.In(t.location)

	for i := 0; ; i++ {
		if i >= MaxOccurrenceIterations {
			return nil, fmt.Errorf("more than %d occurrences of %s between %s and %s",
				MaxOccurrenceIterations, t.expression, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		next := t.schedule.Next(current)
		if next.IsZero() || next.After(end) {
			return occurrences, nil
		}
		occurrences = append(occurrences, next)
		current = next
	}
}

func (t *CronTicker) String() string {
	return fmt.Sprintf("cron(%s %s)", t.expression, t.location)
}
