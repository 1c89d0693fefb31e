package tail

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/opencode-ai/clawdash/internal/models"
)

// Record is one decoded transcript line.
type Record struct {
	// Event is the decoded line.
	Event models.RawEvent

	// Key identifies the line: the record id when present, otherwise a
	// name-based UUID of the line bytes. Re-reading a line yields the same
	// key.
	Key string
}

// DecodeLines splits buf on line feeds and decodes each complete line as
// one JSON object. Blank lines, the unterminated trailing segment, malformed
// JSON and non-object values are dropped; decoding never fails.
func DecodeLines(buf []byte) []models.RawEvent {
	records := DecodeRecords(buf)
	events := make([]models.RawEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, rec.Event)
	}
	return events
}

// DecodeRecords is DecodeLines keeping each line's key.
func DecodeRecords(buf []byte) []Record {
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil
	}

	lines := bytes.Split(buf[:end], []byte{'\n'})
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		if rec, ok := DecodeLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// DecodeLine decodes a single line. It reports false for blank lines and
// anything that is not a JSON object.
func DecodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, false
	}

	var ev models.RawEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return Record{}, false
	}

	key := ev.ID
	if key == "" {
		key = uuid.NewSHA1(uuid.NameSpaceOID, line).String()
	}
	return Record{Event: ev, Key: key}, true
}
