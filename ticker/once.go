package ticker

import (
	"fmt"
	"time"
)

// OnceTicker fires a single time. An instant in the past fires right after
// Start; once fired, Start returns ErrExhausted.
type OnceTicker struct {
	*driver

	scheduledTime time.Time
}

// NewOnceTicker creates a ticker for scheduledTime
func NewOnceTicker(scheduledTime time.Time, config TickerConfig) (*OnceTicker, error) {
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	at := scheduledTime.In(loc)
	t := &OnceTicker{scheduledTime: at}
	t.driver = newDriver(loc, func(_ time.Time, fired int) (time.Time, bool) {
		return at, fired == 0
	})
	return t, nil
}

// GetOccurrencesBetween returns the scheduled time if it falls within (start, end]
func (t *OnceTicker) GetOccurrencesBetween(start, end time.Time) ([]time.Time, error) {
	if t.scheduledTime.After(start) && !t.scheduledTime.After(end) {
		return []time.Time{t.scheduledTime}, nil
	}
	return nil, nil
}

func (t *OnceTicker) String() string {
	return fmt.Sprintf("once(%s)", t.scheduledTime.Format(time.RFC3339))
}
