package reducer

import (
	"encoding/json"

	"github.com/ocx/orchestrator/internal/codec"
	"github.com/ocx/orchestrator/internal/ndjson"
	"github.com/ocx/orchestrator/internal/orchevents"
)

// ReadAndVerify reads every line of the events.ndjson at path, decodes
// it, and verifies its CRC-32. Lines that fail either check are
// returned as Corrupted descriptors and excluded from the returned
// event slice (spec.md §4.4 step 1).
func ReadAndVerify(path string) ([]orchevents.Event, []Corrupted, error) {
	lines, err := ndjson.ReadLines(path)
	if err != nil {
		return nil, nil, err
	}

	events := make([]orchevents.Event, 0, len(lines))
	var corrupted []Corrupted

	for i, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			corrupted = append(corrupted, Corrupted{Line: i, Reason: "decode_error", Raw: line})
			continue
		}
		if !codec.VerifyMap(m) {
			corrupted = append(corrupted, Corrupted{Line: i, Reason: "crc_mismatch", Raw: line})
			continue
		}

		var ev orchevents.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			corrupted = append(corrupted, Corrupted{Line: i, Reason: "decode_error", Raw: line})
			continue
		}
		events = append(events, ev)
	}

	return events, corrupted, nil
}
