package scheduling

import (
	"bytes"
	"encoding/json"
)

// DiffOp is the closed set of change kinds a diff can carry. Ops are plain
// strings so stored diffs stay representable in generic structured formats.
type DiffOp string

const (
	DiffOpAdded   DiffOp = "added"
	DiffOpRemoved DiffOp = "removed"
	DiffOpChanged DiffOp = "changed"
)

// FieldChange records how a single field moved between two snapshots.
type FieldChange struct {
	Op   DiffOp `json:"op"`
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`
}

// Diff maps field names to their changes between two consecutive snapshots.
type Diff map[string]FieldChange

// computeDiff compares two snapshot mappings field by field. Values are the
// JSON-decoded forms of the stored snapshots; list-valued fields compare
// order-insensitively.
func computeDiff(previous, current map[string]any) Diff {
	diff := Diff{}
	for field, previousValue := range previous {
		currentValue, present := current[field]
		if !present {
			diff[field] = FieldChange{Op: DiffOpRemoved, From: previousValue}
			continue
		}
		if !valuesEqual(previousValue, currentValue) {
			diff[field] = FieldChange{Op: DiffOpChanged, From: previousValue, To: currentValue}
		}
	}
	for field, currentValue := range current {
		if _, present := previous[field]; !present {
			diff[field] = FieldChange{Op: DiffOpAdded, To: currentValue}
		}
	}
	return diff
}

// applyDiff replays a diff onto a snapshot mapping, producing the successor
// snapshot. computeDiff and applyDiff round-trip: applying the diff between
// A and B to A yields B.
func applyDiff(base map[string]any, diff Diff) map[string]any {
	result := make(map[string]any, len(base))
	for field, value := range base {
		result[field] = value
	}
	for field, change := range diff {
		switch change.Op {
		case DiffOpRemoved:
			delete(result, field)
		case DiffOpAdded, DiffOpChanged:
			result[field] = change.To
		}
	}
	return result
}

// valuesEqual compares JSON-decoded values. Lists compare as multisets;
// everything else compares by its canonical JSON encoding, which sorts map
// keys deterministically.
func valuesEqual(a, b any) bool {
	aList, aIsList := a.([]any)
	bList, bIsList := b.([]any)
	if aIsList != bIsList {
		return false
	}
	if aIsList {
		return listsEqualUnordered(aList, bList)
	}
	return bytes.Equal(canonicalJSON(a), canonicalJSON(b))
}

func listsEqualUnordered(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, item := range a {
		counts[string(canonicalJSON(item))]++
	}
	for _, item := range b {
		key := string(canonicalJSON(item))
		counts[key]--
		if counts[key] < 0 {
			return false
		}
	}
	return true
}

func canonicalJSON(value any) []byte {
	encoded, err := json.Marshal(value)
	if err != nil {
		return []byte("null")
	}
	return encoded
}
