// Package spawn derives static spawn timestamps for collectible items from
// the cycle offsets at which each item is known to appear.
package spawn

import (
	"fmt"
	"time"

	"github.com/gebederry/cyclesync/cycles"
)

// DefaultCategory is the next_cycle_times category the occurrence table refers to
const DefaultCategory = "jewelry"

// OccurrenceTable maps an item id to the cycle offsets it appears in
type OccurrenceTable map[string][]int

// StaticSpawnTimestamps is the published artifact. A nil item value means the
// item has no known occurrence.
type StaticSpawnTimestamps struct {
	Updated int64             `json:"updated"`
	Items   map[string]*int64 `json:"items"`
}

// MissingCategoryError reports a category absent from next_cycle_times
type MissingCategoryError struct {
	Category string
}

func (e *MissingCategoryError) Error() string {
	return fmt.Sprintf("next_cycle_times has no category %q", e.Category)
}

// MissingOffsetError reports an offset that next_cycle_times does not publish
type MissingOffsetError struct {
	Item     string
	Offset   int
	Category string
}

func (e *MissingOffsetError) Error() string {
	return fmt.Sprintf("item %q: offset %d has no entry %s.%s in next_cycle_times",
		e.Item, e.Offset, e.Category, cycles.OffsetKey(e.Offset))
}

// Resolve picks, for every item, the timestamp of its offsets that lies
// closest to anchor. On equal distance the earlier offset in the item's list
// wins. Items with no offsets resolve to nil. Any offset missing from next
// fails the whole resolution; no partial table is returned.
func Resolve(table OccurrenceTable, anchor int64, next cycles.NextCycleTimes, category string) (map[string]*int64, error) {
	times, ok := next[category]

	items := make(map[string]*int64, len(table))
	for item, offsets := range table {
		if len(offsets) == 0 {
			items[item] = nil
			continue
		}
		if !ok {
			return nil, &MissingCategoryError{Category: category}
		}

		var nearest int64
		best := int64(-1)
		for _, offset := range offsets {
			ts, ok := times[cycles.OffsetKey(offset)]
			if !ok {
				return nil, &MissingOffsetError{Item: item, Offset: offset, Category: category}
			}
			if d := distance(ts, anchor); best < 0 || d < best {
				nearest, best = ts, d
			}
		}
		items[item] = &nearest
	}
	return items, nil
}

// NewStaticSpawnTimestamps stamps resolved items with the resolution time
func NewStaticSpawnTimestamps(items map[string]*int64, now time.Time) *StaticSpawnTimestamps {
	return &StaticSpawnTimestamps{
		Updated: now.Unix(),
		Items:   items,
	}
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
