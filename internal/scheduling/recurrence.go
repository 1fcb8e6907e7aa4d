package scheduling

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/almanac-hq/almanac/internal/errdef"
)

// errUnboundedExpansion is an invariant violation, not a runtime edge case:
// every expansion call must carry a count or an until bound.
var errUnboundedExpansion = errors.New("scheduling: recurrence expansion requires a count or until bound")

// ExpandOptions bounds a recurrence expansion. At least one of Count and
// Until must be set for recurring events.
type ExpandOptions struct {
	// Count caps the number of generated occurrences.
	Count int
	// Until stops generation after the first occurrence starting past it.
	// Occurrences starting exactly at Until are still included.
	Until time.Time
}

// ExpandOccurrences turns an event into its concrete occurrences, ordered by
// start time. Non-recurring events expand to exactly one occurrence equal to
// the event's own interval. Rule evaluation happens in UTC; each occurrence
// keeps the source event's duration. The sequence is recomputed on every
// call, never memoized.
func ExpandOccurrences(event Event, opts ExpandOptions) ([]Occurrence, error) {
	if !event.IsRecurring || strings.TrimSpace(event.RecurrenceRule) == "" {
		return []Occurrence{{Start: event.StartTime, End: event.EndTime}}, nil
	}
	if opts.Count <= 0 && opts.Until.IsZero() {
		return nil, errUnboundedExpansion
	}

	rule, err := rrule.StrToRRule(event.RecurrenceRule)
	if err != nil {
		return nil, errdef.NewValidation("invalid recurrence rule %q: %v", event.RecurrenceRule, err)
	}

	start := event.StartTime.UTC()
	duration := event.EndTime.Sub(event.StartTime)
	rule.DTStart(start)

	var until time.Time
	if !opts.Until.IsZero() {
		until = opts.Until.UTC()
	}

	occurrences := make([]Occurrence, 0)
	next := rule.Iterator()
	for {
		occurrenceStart, ok := next()
		if !ok {
			break
		}
		if !until.IsZero() && occurrenceStart.After(until) {
			break
		}
		occurrences = append(occurrences, Occurrence{
			Start: occurrenceStart,
			End:   occurrenceStart.Add(duration),
		})
		if opts.Count > 0 && len(occurrences) >= opts.Count {
			break
		}
	}

	return occurrences, nil
}

// validateRecurrenceRule checks that a rule parses without expanding it.
func validateRecurrenceRule(rawRule string) error {
	if strings.TrimSpace(rawRule) == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rawRule); err != nil {
		return errdef.NewValidation("invalid recurrence rule %q: %v", rawRule, err)
	}
	return nil
}
