package spawn

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
)

// LoadOccurrenceTable reads a JSON object of item id to offset list
func LoadOccurrenceTable(fs afero.Fs, path string) (OccurrenceTable, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read occurrence table: %w", err)
	}

	var table OccurrenceTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse occurrence table %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("occurrence table %s: %w", path, err)
	}
	return table, nil
}

// Validate rejects offsets that cannot name a future cycle
func (t OccurrenceTable) Validate() error {
	for item, offsets := range t {
		for _, offset := range offsets {
			if offset <= 0 {
				return fmt.Errorf("item %q has non-positive offset %d", item, offset)
			}
		}
	}
	return nil
}
