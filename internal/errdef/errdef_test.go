package errdef_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/almanac-hq/almanac/internal/errdef"
)

func TestKindsClassifyOnlyThemselves(t *testing.T) {
	kinds := []struct {
		name string
		make func(string) error
		is   func(error) bool
	}{
		{"validation", func(m string) error { return errdef.NewValidation("%s", m) }, errdef.IsValidation},
		{"conflict", func(m string) error { return errdef.NewConflict("%s", m) }, errdef.IsConflict},
		{"not_found", func(m string) error { return errdef.NewNotFound("%s", m) }, errdef.IsNotFound},
		{"forbidden", func(m string) error { return errdef.NewForbidden("%s", m) }, errdef.IsForbidden},
		{"unauthorized", func(m string) error { return errdef.NewUnauthorized("%s", m) }, errdef.IsUnauthorized},
		{"internal", func(m string) error { return errdef.NewInternal("%s", m) }, errdef.IsInternal},
	}

	for i, kind := range kinds {
		t.Run(kind.name, func(t *testing.T) {
			err := kind.make("boom")
			if !kind.is(err) {
				t.Fatalf("%s predicate rejected its own error", kind.name)
			}
			if kind.is(errors.New("plain")) {
				t.Fatalf("%s predicate accepted a plain error", kind.name)
			}
			other := kinds[(i+1)%len(kinds)].make("boom")
			if kind.is(other) {
				t.Fatalf("%s predicate accepted another kind", kind.name)
			}
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", errdef.NewConflict("event overlaps"))
	if !errdef.IsConflict(err) {
		t.Fatalf("expected wrapped conflict to classify as conflict")
	}
	if errdef.IsNotFound(err) {
		t.Fatalf("wrapped conflict should not classify as not found")
	}
}
