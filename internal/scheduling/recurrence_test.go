package scheduling

import (
	"testing"
	"time"

	"github.com/almanac-hq/almanac/internal/errdef"
)

func TestExpandOccurrencesNonRecurringIdentity(t *testing.T) {
	event := Event{
		StartTime: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC),
	}

	occurrences, err := ExpandOccurrences(event, ExpandOptions{})
	if err != nil {
		t.Fatalf("expand non-recurring: %v", err)
	}
	if len(occurrences) != 1 {
		t.Fatalf("expected one occurrence, got %d", len(occurrences))
	}
	if !occurrences[0].Start.Equal(event.StartTime) || !occurrences[0].End.Equal(event.EndTime) {
		t.Fatalf("occurrence %v does not match event interval", occurrences[0])
	}
}

func TestExpandOccurrencesWeeklyUntil(t *testing.T) {
	event := Event{
		Title:          "Weekly standup",
		StartTime:      time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 1, 6, 11, 0, 0, 0, time.UTC),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
	}

	until := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	occurrences, err := ExpandOccurrences(event, ExpandOptions{Until: until})
	if err != nil {
		t.Fatalf("expand weekly rule: %v", err)
	}

	wantStarts := []time.Time{
		time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 13, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC),
	}
	if len(occurrences) != len(wantStarts) {
		t.Fatalf("expected %d occurrences, got %d", len(wantStarts), len(occurrences))
	}
	for index, occurrence := range occurrences {
		if !occurrence.Start.Equal(wantStarts[index]) {
			t.Fatalf("occurrence %d starts %v, want %v", index, occurrence.Start, wantStarts[index])
		}
		if duration := occurrence.End.Sub(occurrence.Start); duration != time.Hour {
			t.Fatalf("occurrence %d duration %v, want 1h", index, duration)
		}
	}
}

func TestExpandOccurrencesCountCap(t *testing.T) {
	event := Event{
		StartTime:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=DAILY",
	}

	occurrences, err := ExpandOccurrences(event, ExpandOptions{Count: 5})
	if err != nil {
		t.Fatalf("expand daily rule: %v", err)
	}
	if len(occurrences) != 5 {
		t.Fatalf("expected 5 occurrences, got %d", len(occurrences))
	}
	for index := 1; index < len(occurrences); index++ {
		if !occurrences[index-1].Start.Before(occurrences[index].Start) {
			t.Fatalf("occurrence starts are not strictly increasing at index %d", index)
		}
	}
}

func TestExpandOccurrencesRequiresBound(t *testing.T) {
	event := Event{
		StartTime:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=DAILY",
	}

	if _, err := ExpandOccurrences(event, ExpandOptions{}); err == nil {
		t.Fatal("expected error for unbounded expansion")
	}
}

func TestExpandOccurrencesInvalidRule(t *testing.T) {
	event := Event{
		StartTime:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=SOMETIMES",
	}

	_, err := ExpandOccurrences(event, ExpandOptions{Count: 3})
	if err == nil {
		t.Fatal("expected error for invalid rule")
	}
	if !errdef.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRecurrenceRule(t *testing.T) {
	if err := validateRecurrenceRule(""); err != nil {
		t.Fatalf("empty rule should validate: %v", err)
	}
	if err := validateRecurrenceRule("FREQ=WEEKLY;BYDAY=MO,WE"); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	if err := validateRecurrenceRule("not-a-rule"); err == nil {
		t.Fatal("expected error for malformed rule")
	}
}
