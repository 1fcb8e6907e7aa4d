package scheduling

import (
	"strings"
	"time"
)

// Role describes the standing a user has on an event. Ownership is implicit
// via Event.OwnerID and is never stored as a permission row; only editor and
// viewer grants are persisted.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	// RoleNone marks the absence of any standing.
	RoleNone Role = ""
)

// ParseRole maps raw input onto a storable role. Owner is not accepted
// because it is never stored.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleEditor:
		return RoleEditor, true
	case RoleViewer:
		return RoleViewer, true
	default:
		return RoleNone, false
	}
}

// Event is the authoritative calendar event record.
type Event struct {
	ID             uint      `gorm:"column:id;primaryKey"`
	Title          string    `gorm:"column:title;size:255;not null"`
	Description    string    `gorm:"column:description;type:text"`
	StartTime      time.Time `gorm:"column:start_time;not null"`
	EndTime        time.Time `gorm:"column:end_time;not null"`
	Location       string    `gorm:"column:location;size:255"`
	IsRecurring    bool      `gorm:"column:is_recurring;not null;default:false"`
	RecurrenceRule string    `gorm:"column:recurrence_rule;size:512"`
	OwnerID        uint      `gorm:"column:owner_id;not null;index"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// EventVersion is an immutable snapshot of an event's state. Version numbers
// per event are gapless and ascending from 1; the composite unique index
// turns concurrent commits of the same number into a store-level failure.
type EventVersion struct {
	ID         uint      `gorm:"column:id;primaryKey"`
	EventID    uint      `gorm:"column:event_id;not null;uniqueIndex:idx_event_versions_event_version,priority:1"`
	Version    int       `gorm:"column:version;not null;uniqueIndex:idx_event_versions_event_version,priority:2"`
	Data       string    `gorm:"column:data;type:text;not null"`
	ChangedBy  uint      `gorm:"column:changed_by;not null"`
	ChangedAt  time.Time `gorm:"column:changed_at;not null"`
	ChangeNote string    `gorm:"column:change_note;size:255"`
}

// TableName provides the explicit table binding for GORM.
func (EventVersion) TableName() string {
	return "event_versions"
}

// EventChangelog records the structural diff that produced a version.
type EventChangelog struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	EventID   uint      `gorm:"column:event_id;not null;index"`
	Version   int       `gorm:"column:version;not null"`
	Diff      string    `gorm:"column:diff;type:text;not null"`
	ChangedBy uint      `gorm:"column:changed_by;not null"`
	ChangedAt time.Time `gorm:"column:changed_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventChangelog) TableName() string {
	return "event_changelog"
}

// EventPermission grants a user a stored role on an event. Sharing is managed
// by an external collaborator; the engine only reads these rows.
type EventPermission struct {
	ID      uint `gorm:"column:id;primaryKey"`
	EventID uint `gorm:"column:event_id;not null;uniqueIndex:idx_event_permissions_event_user,priority:1"`
	UserID  uint `gorm:"column:user_id;not null;uniqueIndex:idx_event_permissions_event_user,priority:2;index"`
	Role    Role `gorm:"column:role;size:16;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventPermission) TableName() string {
	return "event_permissions"
}

// Occurrence is one concrete interval produced by expanding an event. It is
// derived, never persisted.
type Occurrence struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// EventInput carries the validated fields for creating an event.
type EventInput struct {
	Title          string
	Description    string
	StartTime      time.Time
	EndTime        time.Time
	Location       string
	IsRecurring    bool
	RecurrenceRule string
}

// EventPatch carries a partial update; nil fields are left untouched.
type EventPatch struct {
	Title          *string
	Description    *string
	StartTime      *time.Time
	EndTime        *time.Time
	Location       *string
	IsRecurring    *bool
	RecurrenceRule *string
}

// apply merges the patch onto the event over the enumerated set of updatable
// fields and reports whether the interval was touched.
func (p EventPatch) apply(event *Event) (intervalTouched bool) {
	if p.Title != nil {
		event.Title = *p.Title
	}
	if p.Description != nil {
		event.Description = *p.Description
	}
	if p.StartTime != nil {
		event.StartTime = *p.StartTime
		intervalTouched = true
	}
	if p.EndTime != nil {
		event.EndTime = *p.EndTime
		intervalTouched = true
	}
	if p.Location != nil {
		event.Location = *p.Location
	}
	if p.IsRecurring != nil {
		event.IsRecurring = *p.IsRecurring
	}
	if p.RecurrenceRule != nil {
		event.RecurrenceRule = *p.RecurrenceRule
	}
	return intervalTouched
}

// ListFilter describes the query parameters accepted by ListEvents.
type ListFilter struct {
	Offset    int
	Limit     int
	Recurring *bool
	Search    string
	StartDate *time.Time
	EndDate   *time.Time
}

// EventView is the read projection returned to callers: the event plus its
// expanded occurrence preview.
type EventView struct {
	ID             uint         `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	Location       string       `json:"location,omitempty"`
	IsRecurring    bool         `json:"is_recurring"`
	RecurrenceRule string       `json:"recurrence_rule,omitempty"`
	OwnerID        uint         `json:"owner_id"`
	Occurrences    []Occurrence `json:"occurrences"`
}

// VersionView is the read projection of a stored version.
type VersionView struct {
	EventID    uint           `json:"event_id"`
	Version    int            `json:"version"`
	Data       map[string]any `json:"data"`
	ChangedBy  uint           `json:"changed_by"`
	ChangedAt  time.Time      `json:"changed_at"`
	ChangeNote string         `json:"change_note,omitempty"`
}

// ChangelogView is the read projection of a changelog entry.
type ChangelogView struct {
	EventID   uint      `json:"event_id"`
	Version   int       `json:"version"`
	Diff      Diff      `json:"diff"`
	ChangedBy uint      `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}
