package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNoEvents = errors.New("ipc: Events missing or not an array")

// Decode parses an Outbound push body. The Events field must be present and
// be a JSON array; an empty array is valid.
func Decode(body []byte) (Notification, error) {
	var n Notification
	var env struct {
		Version string          `json:"Version"`
		Events  json.RawMessage `json:"Events"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return n, fmt.Errorf("invalid ipc json: %w", err)
	}
	raw := bytes.TrimSpace(env.Events)
	if len(raw) == 0 || raw[0] != '[' {
		return n, ErrNoEvents
	}
	n.Version = env.Version
	if err := json.Unmarshal(raw, &n.Events); err != nil {
		return n, fmt.Errorf("invalid ipc events: %w", err)
	}
	if n.Events == nil {
		n.Events = []Event{}
	}
	return n, nil
}

// Latest returns the event with the greatest timestamp. Among equal
// timestamps the one appearing last in the batch wins.
func Latest(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	latest := events[0]
	for _, e := range events[1:] {
		if e.Timestamp >= latest.Timestamp {
			latest = e
		}
	}
	return latest, true
}
