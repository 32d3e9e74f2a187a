// Package history keeps a rolling window of daily cycle records: each day the
// cycle that started on that date is renamed into the published schema and
// appended, and the oldest record is dropped.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gebederry/cyclesync/artifact"
	"github.com/gebederry/cyclesync/cycles"
)

// DateLayout is the format of the date field and of date matching
const DateLayout = "2006-01-02"

// FieldRenames maps endpoint category names to the names used in the
// published history. Fields not listed keep their name.
var FieldRenames = map[string]string{
	"jewelry":  "lost_jewelry",
	"card":     "tarot_cards",
	"fossil":   "fossils",
	"heirloom": "heirlooms",
}

// Outcome describes what Append did
type Outcome string

const (
	OutcomeAppended Outcome = "appended"
	OutcomeNoMatch  Outcome = "no_match"
)

// Record is one entry of the history file
type Record map[string]json.RawMessage

// Appender appends today's cycle to the history file
type Appender struct {
	store    *artifact.Store
	path     string
	location *time.Location
}

// NewAppender creates an appender writing to path. Today's date is taken in
// location; cycle start times are compared by their UTC date.
func NewAppender(store *artifact.Store, path string, location *time.Location) *Appender {
	if location == nil {
		location = time.UTC
	}
	return &Appender{store: store, path: path, location: location}
}

// Append finds the cycle that started today and appends it to the history.
// When no cycle matches, the file is left untouched and OutcomeNoMatch is
// returned without error.
func (a *Appender) Append(ctx context.Context, doc *cycles.Document, now time.Time) (Outcome, error) {
	logger := log.Ctx(ctx)
	today := now.In(a.location).Format(DateLayout)

	cycle, ok := MatchDate(doc.Cycles, today)
	if !ok {
		logger.Info().Str("date", today).Int("cycles", len(doc.Cycles)).Msg("No cycle matches today's date")
		return OutcomeNoMatch, nil
	}

	var records []Record
	if err := a.store.ReadJSON(a.path, &records); err != nil {
		return "", err
	}

	rec := NewRecord(cycle, today)
	logger.Debug().Stringer("record", rec).Msg("Built history record")

	records = Roll(records, rec)
	if err := a.store.WriteJSON(a.path, records); err != nil {
		return "", err
	}

	logger.Info().
		Str("date", today).
		Int64("start_time", cycle.StartTime).
		Int("records", len(records)).
		Str("path", a.path).
		Msg("Appended cycle to history")
	return OutcomeAppended, nil
}

// MatchDate returns the first cycle whose UTC start date equals date
func MatchDate(list []cycles.Cycle, date string) (cycles.Cycle, bool) {
	for _, c := range list {
		if time.Unix(c.StartTime, 0).UTC().Format(DateLayout) == date {
			return c, true
		}
	}
	return cycles.Cycle{}, false
}

// NewRecord builds a fresh record from cycle, renaming fields per FieldRenames
// and adding startTime and date. cycle is not modified.
func NewRecord(cycle cycles.Cycle, date string) Record {
	rec := make(Record, len(cycle.Fields)+2)
	for k, v := range cycle.Fields {
		if renamed, ok := FieldRenames[k]; ok {
			k = renamed
		}
		rec[k] = v
	}
	rec["startTime"] = json.RawMessage(strconv.FormatInt(cycle.StartTime, 10))
	rec["date"] = json.RawMessage(strconv.Quote(date))
	return rec
}

// Roll drops the oldest record and appends rec, keeping the window length.
// An empty history simply gains rec.
func Roll(records []Record, rec Record) []Record {
	out := make([]Record, 0, len(records)+1)
	if len(records) > 0 {
		out = append(out, records[1:]...)
	}
	return append(out, rec)
}

// String renders a record for diagnostics
func (r Record) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("<invalid record: %v>", err)
	}
	return string(data)
}
