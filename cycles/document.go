package cycles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Marker is the endpoint's opaque change marker, kept as compact JSON text so
// that "1731000000" and 1731000000 stay distinguishable.
type Marker string

func (m *Marker) UnmarshalJSON(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*m = Marker(buf.String())
	return nil
}

func (m Marker) MarshalJSON() ([]byte, error) {
	if m == "" {
		return []byte("null"), nil
	}
	return []byte(m), nil
}

// Cycle is one entry of the cycles list. Members other than startTime are
// kept verbatim in Fields.
type Cycle struct {
	StartTime int64
	Fields    map[string]json.RawMessage
}

const startTimeKey = "startTime"

func (c *Cycle) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	raw, ok := fields[startTimeKey]
	if !ok {
		return fmt.Errorf("cycle has no %s", startTimeKey)
	}
	var start json.Number
	if err := json.Unmarshal(raw, &start); err != nil {
		return fmt.Errorf("cycle %s: %w", startTimeKey, err)
	}
	ts, err := strconv.ParseInt(start.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("cycle %s %q is not an integer: %w", startTimeKey, start, err)
	}
	delete(fields, startTimeKey)

	c.StartTime = ts
	c.Fields = fields
	return nil
}

func (c Cycle) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	out[startTimeKey] = json.RawMessage(strconv.FormatInt(c.StartTime, 10))
	return json.Marshal(out)
}

// NextCycleTimes maps a category to "cycle_<offset>" keys and epoch seconds
type NextCycleTimes map[string]map[string]int64

// OffsetKey returns the key under which offset n is published
func OffsetKey(n int) string {
	return "cycle_" + strconv.Itoa(n)
}

// Document is the subset of the endpoint response this module consumes
type Document struct {
	Updated        Marker         `json:"updated"`
	Cycles         []Cycle        `json:"cycles"`
	NextCycleTimes NextCycleTimes `json:"next_cycle_times"`
}

// Anchor returns the start time of the cycle at index i
func (d *Document) Anchor(i int) (int64, error) {
	if i < 0 || i >= len(d.Cycles) {
		return 0, fmt.Errorf("anchor index %d out of range: document has %d cycles", i, len(d.Cycles))
	}
	return d.Cycles[i].StartTime, nil
}

// Marker returns the change marker as a plain string for comparison
func (d *Document) Marker() string {
	return string(d.Updated)
}
