package scheduling

import (
	"time"

	"gorm.io/gorm"
)

// intervalsOverlap reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) overlap. Touching endpoints do not overlap.
func intervalsOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// hasConflict reports whether the candidate interval [start, end) overlaps
// any occurrence of an event visible to the user, i.e. owned by or shared
// with them. excludeID carves the event being updated out of the scan; zero
// excludes nothing. The scan always reads the authoritative store, never the
// cache, and short-circuits on the first hit.
func hasConflict(tx *gorm.DB, userID uint, start, end time.Time, excludeID uint) (bool, error) {
	sharedEventIDs := tx.Session(&gorm.Session{NewDB: true}).
		Model(&EventPermission{}).
		Select("event_id").
		Where("user_id = ?", userID)

	query := tx.Model(&Event{}).Where("owner_id = ? OR id IN (?)", userID, sharedEventIDs)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}

	var visible []Event
	if err := query.Find(&visible).Error; err != nil {
		return false, err
	}

	for _, existing := range visible {
		// Expansion is bounded only by the candidate's end instant. An
		// occurrence starting exactly there is still generated but cannot
		// overlap a half-open candidate.
		occurrences, err := ExpandOccurrences(existing, ExpandOptions{Until: end})
		if err != nil {
			return false, err
		}
		for _, occurrence := range occurrences {
			if intervalsOverlap(occurrence.Start, occurrence.End, start, end) {
				return true, nil
			}
		}
	}

	return false, nil
}
