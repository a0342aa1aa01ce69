package drafts

import (
	"encoding/json"
	"errors"
	"time"
)

// record is the persisted value. Expiry is never stored; it is derived from
// SavedAt on every read.
type record struct {
	Payload map[string]any `json:"payload"`
	SavedAt time.Time      `json:"savedAt"`
}

var errCorrupt = errors.New("corrupt draft entry")

func encodeRecord(payload map[string]any, savedAt time.Time) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(record{Payload: payload, SavedAt: savedAt.UTC()})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRecord(raw string) (record, error) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, errors.Join(errCorrupt, err)
	}
	if rec.Payload == nil {
		return record{}, errors.Join(errCorrupt, errors.New("missing payload"))
	}
	if rec.SavedAt.IsZero() {
		return record{}, errors.Join(errCorrupt, errors.New("missing savedAt"))
	}
	return rec, nil
}
