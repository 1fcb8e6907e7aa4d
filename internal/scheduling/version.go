package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// eventSnapshot is the serialized event state stored in a version row.
// Instants are serialized as RFC 3339 strings and re-parsed on restore.
type eventSnapshot struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	Location       string `json:"location"`
	IsRecurring    bool   `json:"is_recurring"`
	RecurrenceRule string `json:"recurrence_rule"`
	OwnerID        uint   `json:"owner_id"`
}

func snapshotEvent(event Event) eventSnapshot {
	return eventSnapshot{
		Title:          event.Title,
		Description:    event.Description,
		StartTime:      event.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:        event.EndTime.UTC().Format(time.RFC3339Nano),
		Location:       event.Location,
		IsRecurring:    event.IsRecurring,
		RecurrenceRule: event.RecurrenceRule,
		OwnerID:        event.OwnerID,
	}
}

// restoreSnapshot overwrites the event's mutable fields from the snapshot.
// Date-valued fields are re-parsed from their serialized string form; the
// remaining fields are assigned verbatim. Identity and ownership never move.
func restoreSnapshot(event *Event, snapshot eventSnapshot) error {
	startTime, err := time.Parse(time.RFC3339Nano, snapshot.StartTime)
	if err != nil {
		return fmt.Errorf("snapshot start time %q: %w", snapshot.StartTime, err)
	}
	endTime, err := time.Parse(time.RFC3339Nano, snapshot.EndTime)
	if err != nil {
		return fmt.Errorf("snapshot end time %q: %w", snapshot.EndTime, err)
	}

	event.Title = snapshot.Title
	event.Description = snapshot.Description
	event.StartTime = startTime
	event.EndTime = endTime
	event.Location = snapshot.Location
	event.IsRecurring = snapshot.IsRecurring
	event.RecurrenceRule = snapshot.RecurrenceRule
	return nil
}

func decodeSnapshot(data string) (eventSnapshot, error) {
	var snapshot eventSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return eventSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func decodeSnapshotMap(data string) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return decoded, nil
}

// commitVersion appends the next version for the event and its paired
// changelog entry inside the caller's transaction. The first version carries
// an empty diff; every later version diffs against its immediate
// predecessor. The version row and changelog row land atomically or not at
// all because the surrounding transaction owns both writes.
func commitVersion(tx *gorm.DB, clock func() time.Time, event *Event, author uint, note string) (EventVersion, error) {
	var latest EventVersion
	havePrevious := true
	err := tx.Where("event_id = ?", event.ID).
		Order("version DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		havePrevious = false
	} else if err != nil {
		return EventVersion{}, err
	}

	nextNumber := 1
	if havePrevious {
		nextNumber = latest.Version + 1
	}

	snapshot := snapshotEvent(*event)
	data, err := json.Marshal(snapshot)
	if err != nil {
		return EventVersion{}, fmt.Errorf("encode snapshot: %w", err)
	}

	changedAt := clock().UTC()
	version := EventVersion{
		EventID:    event.ID,
		Version:    nextNumber,
		Data:       string(data),
		ChangedBy:  author,
		ChangedAt:  changedAt,
		ChangeNote: note,
	}
	if err := tx.Create(&version).Error; err != nil {
		return EventVersion{}, err
	}

	diff := Diff{}
	if havePrevious {
		previousMap, err := decodeSnapshotMap(latest.Data)
		if err != nil {
			return EventVersion{}, err
		}
		currentMap, err := decodeSnapshotMap(string(data))
		if err != nil {
			return EventVersion{}, err
		}
		diff = computeDiff(previousMap, currentMap)
	}

	encodedDiff, err := json.Marshal(diff)
	if err != nil {
		return EventVersion{}, fmt.Errorf("encode diff: %w", err)
	}

	entry := EventChangelog{
		EventID:   event.ID,
		Version:   nextNumber,
		Diff:      string(encodedDiff),
		ChangedBy: author,
		ChangedAt: changedAt,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return EventVersion{}, err
	}

	return version, nil
}
