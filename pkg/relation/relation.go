// Package relation normalises related-record shapes that may arrive either as a single
// record or as a list holding at most one record.
package relation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// First returns the first row, reporting false when rows is empty.
func First[T any](rows []T) (T, bool) {
	var zero T
	if len(rows) == 0 {
		return zero, false
	}
	return rows[0], true
}

// One decodes a JSON document holding an object or an array of objects. Empty input,
// `null` and `[]` report absence. Lists with more than one element are rejected.
func One[T any](raw []byte) (T, bool, error) {
	var zero T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return zero, false, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return zero, false, fmt.Errorf("relation: decode list: %w", err)
		}
		if len(items) > 1 {
			return zero, false, fmt.Errorf("relation: expected at most one record, got %d", len(items))
		}
		value, ok := First(items)
		return value, ok, nil
	}

	var value T
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return zero, false, fmt.Errorf("relation: decode record: %w", err)
	}
	return value, true, nil
}
