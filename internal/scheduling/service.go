// Package scheduling implements the event scheduling and versioning engine:
// recurrence expansion, conflict detection across owned and shared events,
// append-only version history with structural diffs, rollback, and the
// read-through cache in front of event reads.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/almanac-hq/almanac/internal/errdef"
)

const (
	// defaultOccurrencePreview caps the occurrences attached to event read
	// projections.
	defaultOccurrencePreview = 10
	defaultCacheTTL          = 5 * time.Minute
	defaultListLimit         = 10
)

const (
	opCreateEvent  = "scheduling.create_event"
	opCreateBatch  = "scheduling.create_events"
	opGetEvent     = "scheduling.get_event"
	opListEvents   = "scheduling.list_events"
	opUpdateEvent  = "scheduling.update_event"
	opDeleteEvent  = "scheduling.delete_event"
	opRollback     = "scheduling.rollback_event"
	opGetVersion   = "scheduling.get_version"
	opGetDiff      = "scheduling.get_diff"
	opGetChangelog = "scheduling.get_changelog"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies the engine needs. Database is
// required; Cache defaults to an in-memory cache, Clock to time.Now.
type ServiceConfig struct {
	Database *gorm.DB
	Cache    Cache
	Clock    func() time.Time
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// Service orchestrates validation, conflict detection, persistence,
// versioning, and cache invalidation for calendar events.
type Service struct {
	db       *gorm.DB
	cache    Cache
	clock    func() time.Time
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewService constructs the scheduling engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache(clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &Service{
		db:       cfg.Database,
		cache:    cache,
		clock:    clock,
		logger:   logger,
		cacheTTL: cacheTTL,
	}, nil
}

// CreateEvent validates the interval and rule, scans for conflicts, and
// persists the event together with version 1 and its empty-diff changelog
// entry in one transaction.
func (s *Service) CreateEvent(ctx context.Context, viewer uint, input EventInput) (EventView, error) {
	if err := validateInput(input); err != nil {
		return EventView{}, err
	}

	var created EventView
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflicted, err := hasConflict(tx, viewer, input.StartTime, input.EndTime, 0)
		if err != nil {
			return err
		}
		if conflicted {
			return errdef.NewConflict("event time conflicts with an existing event")
		}
		event, err := s.insertEvent(tx, viewer, input)
		if err != nil {
			return err
		}
		view, err := s.buildView(event)
		if err != nil {
			return err
		}
		created = view
		return nil
	})
	if txErr != nil {
		return EventView{}, s.classify(opCreateEvent, txErr)
	}

	s.cache.InvalidateUser(viewer)
	return created, nil
}

// CreateEvents validates and conflict-checks every entry against the
// existing store, then inserts them all in one transaction. Entries of the
// same batch are not checked against each other.
func (s *Service) CreateEvents(ctx context.Context, viewer uint, inputs []EventInput) ([]EventView, error) {
	if len(inputs) == 0 {
		return nil, errdef.NewValidation("batch must contain at least one event")
	}
	for _, input := range inputs {
		if err := validateInput(input); err != nil {
			return nil, err
		}
	}

	// Views are built inside the transaction so a projection failure rolls
	// the whole batch back instead of erroring after the commit.
	views := make([]EventView, 0, len(inputs))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, input := range inputs {
			conflicted, err := hasConflict(tx, viewer, input.StartTime, input.EndTime, 0)
			if err != nil {
				return err
			}
			if conflicted {
				return errdef.NewConflict("event time conflicts with an existing event: %s", input.Title)
			}
		}
		for _, input := range inputs {
			event, err := s.insertEvent(tx, viewer, input)
			if err != nil {
				return err
			}
			view, err := s.buildView(event)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	if txErr != nil {
		return nil, s.classify(opCreateBatch, txErr)
	}

	s.cache.InvalidateUser(viewer)
	return views, nil
}

// insertEvent persists the event, its initial version, and the empty-diff
// changelog entry. Conflict checking happens before this call so that batch
// entries are validated against the pre-existing store only.
func (s *Service) insertEvent(tx *gorm.DB, viewer uint, input EventInput) (Event, error) {
	event := Event{
		Title:          input.Title,
		Description:    input.Description,
		StartTime:      input.StartTime,
		EndTime:        input.EndTime,
		Location:       input.Location,
		IsRecurring:    input.IsRecurring,
		RecurrenceRule: input.RecurrenceRule,
		OwnerID:        viewer,
	}
	if err := tx.Create(&event).Error; err != nil {
		return Event{}, err
	}
	if _, err := commitVersion(tx, s.clock, &event, viewer, "Initial version"); err != nil {
		return Event{}, err
	}
	return event, nil
}

// GetEvent serves a single event read through the cache. Absent and
// inaccessible events are indistinguishable to the caller.
func (s *Service) GetEvent(ctx context.Context, viewer uint, eventID uint) (EventView, error) {
	cacheKey := eventCacheKey(eventID, viewer)
	if cached, ok := s.cache.Get(cacheKey); ok {
		var view EventView
		if err := json.Unmarshal([]byte(cached), &view); err == nil {
			return view, nil
		}
		s.logError(opGetEvent, "cache_decode_failed", nil, zap.String("key", cacheKey))
	}

	var event Event
	err := s.db.WithContext(ctx).First(&event, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EventView{}, errdef.NewNotFound("event %d not found", eventID)
	}
	if err != nil {
		return EventView{}, s.classify(opGetEvent, err)
	}

	role, err := s.roleFor(s.db.WithContext(ctx), event, viewer)
	if err != nil {
		return EventView{}, s.classify(opGetEvent, err)
	}
	if role == RoleNone {
		return EventView{}, errdef.NewNotFound("event %d not found", eventID)
	}

	view, err := s.buildView(event)
	if err != nil {
		return EventView{}, err
	}
	s.cachePut(cacheKey, view)
	return view, nil
}

// ListEvents returns the events visible to the viewer that match the filter,
// through the cache. An empty result is a not-found outcome.
func (s *Service) ListEvents(ctx context.Context, viewer uint, filter ListFilter) ([]EventView, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	cacheKey := listCacheKey(viewer, filter)
	if cached, ok := s.cache.Get(cacheKey); ok {
		var views []EventView
		if err := json.Unmarshal([]byte(cached), &views); err == nil {
			return views, nil
		}
		s.logError(opListEvents, "cache_decode_failed", nil, zap.String("key", cacheKey))
	}

	db := s.db.WithContext(ctx)
	sharedEventIDs := db.Session(&gorm.Session{NewDB: true}).
		Model(&EventPermission{}).
		Select("event_id").
		Where("user_id = ?", viewer)

	query := db.Model(&Event{}).Where("owner_id = ? OR id IN (?)", viewer, sharedEventIDs)
	if filter.Recurring != nil {
		query = query.Where("is_recurring = ?", *filter.Recurring)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	if filter.StartDate != nil {
		query = query.Where("start_time >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("end_time <= ?", *filter.EndDate)
	}

	var events []Event
	if err := query.Order("start_time ASC, id ASC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&events).Error; err != nil {
		return nil, s.classify(opListEvents, err)
	}
	if len(events) == 0 {
		return nil, errdef.NewNotFound("no events found")
	}

	views := make([]EventView, 0, len(events))
	for _, event := range events {
		view, err := s.buildView(event)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	s.cachePut(cacheKey, views)
	return views, nil
}

// UpdateEvent merges the patch onto the event for an owner or editor,
// re-validating the interval and re-running conflict detection (excluding
// the event itself) whenever start or end moved, then commits the next
// version with its diffed changelog entry.
func (s *Service) UpdateEvent(ctx context.Context, viewer uint, eventID uint, patch EventPatch) (EventView, error) {
	if patch.RecurrenceRule != nil {
		if err := validateRecurrenceRule(*patch.RecurrenceRule); err != nil {
			return EventView{}, err
		}
	}

	var updated Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event Event
		err := tx.First(&event, eventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errdef.NewNotFound("event %d not found", eventID)
		}
		if err != nil {
			return err
		}

		role, err := s.roleFor(tx, event, viewer)
		if err != nil {
			return err
		}
		if role != RoleOwner && role != RoleEditor {
			return errdef.NewForbidden("user %d may not update event %d", viewer, eventID)
		}

		intervalTouched := patch.apply(&event)
		if intervalTouched {
			if err := validateInterval(event.StartTime, event.EndTime); err != nil {
				return err
			}
			conflicted, err := hasConflict(tx, viewer, event.StartTime, event.EndTime, event.ID)
			if err != nil {
				return err
			}
			if conflicted {
				return errdef.NewConflict("event time conflicts with an existing event")
			}
		}

		if err := tx.Save(&event).Error; err != nil {
			return err
		}
		if _, err := commitVersion(tx, s.clock, &event, viewer, "Updated event"); err != nil {
			return err
		}
		updated = event
		return nil
	})
	if txErr != nil {
		return EventView{}, s.classify(opUpdateEvent, txErr)
	}

	s.cache.InvalidateUser(viewer)
	return s.buildView(updated)
}

// DeleteEvent removes an event and everything it owns: versions, changelog
// entries, and permission rows, in one transaction. Owner only.
func (s *Service) DeleteEvent(ctx context.Context, viewer uint, eventID uint) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event Event
		err := tx.First(&event, eventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errdef.NewNotFound("event %d not found", eventID)
		}
		if err != nil {
			return err
		}
		if event.OwnerID != viewer {
			return errdef.NewForbidden("user %d may not delete event %d", viewer, eventID)
		}

		if err := tx.Where("event_id = ?", eventID).Delete(&EventVersion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", eventID).Delete(&EventChangelog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", eventID).Delete(&EventPermission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&event).Error
	})
	if txErr != nil {
		return s.classify(opDeleteEvent, txErr)
	}

	s.cache.InvalidateUser(viewer)
	return nil
}

// RollbackEvent restores the event's mutable fields from the target
// version's snapshot and commits the result as a new forward version.
// History is never rewritten. Owner only.
func (s *Service) RollbackEvent(ctx context.Context, viewer uint, eventID uint, targetVersion int) (VersionView, error) {
	var committed EventVersion
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target EventVersion
		err := tx.Where("event_id = ? AND version = ?", eventID, targetVersion).
			Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errdef.NewNotFound("version %d not found for event %d", targetVersion, eventID)
		}
		if err != nil {
			return err
		}

		var event Event
		err = tx.First(&event, eventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errdef.NewNotFound("event %d not found", eventID)
		}
		if err != nil {
			return err
		}
		if event.OwnerID != viewer {
			return errdef.NewForbidden("user %d may not roll back event %d", viewer, eventID)
		}

		snapshot, err := decodeSnapshot(target.Data)
		if err != nil {
			return err
		}
		if err := restoreSnapshot(&event, snapshot); err != nil {
			return err
		}
		if err := tx.Save(&event).Error; err != nil {
			return err
		}

		version, err := commitVersion(tx, s.clock, &event, viewer,
			fmt.Sprintf("Rolled back to version %d", targetVersion))
		if err != nil {
			return err
		}
		committed = version
		return nil
	})
	if txErr != nil {
		return VersionView{}, s.classify(opRollback, txErr)
	}

	s.cache.InvalidateUser(viewer)
	return versionView(committed)
}

// GetVersion returns one stored snapshot. A missing version is not-found; an
// inaccessible event is forbidden, matching the asymmetry of the write paths.
func (s *Service) GetVersion(ctx context.Context, viewer uint, eventID uint, versionNumber int) (VersionView, error) {
	db := s.db.WithContext(ctx)

	var version EventVersion
	err := db.Where("event_id = ? AND version = ?", eventID, versionNumber).
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VersionView{}, errdef.NewNotFound("version %d not found for event %d", versionNumber, eventID)
	}
	if err != nil {
		return VersionView{}, s.classify(opGetVersion, err)
	}

	if err := s.requireAnyRole(db, eventID, viewer, opGetVersion); err != nil {
		return VersionView{}, err
	}
	return versionView(version)
}

// GetDiff computes the structural diff between two stored versions.
func (s *Service) GetDiff(ctx context.Context, viewer uint, eventID uint, fromVersion, toVersion int) (Diff, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireAnyRole(db, eventID, viewer, opGetDiff); err != nil {
		return nil, err
	}

	load := func(number int) (map[string]any, error) {
		var version EventVersion
		err := db.Where("event_id = ? AND version = ?", eventID, number).
			Take(&version).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errdef.NewNotFound("version %d not found for event %d", number, eventID)
		}
		if err != nil {
			return nil, s.classify(opGetDiff, err)
		}
		return decodeSnapshotMap(version.Data)
	}

	from, err := load(fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := load(toVersion)
	if err != nil {
		return nil, err
	}
	return computeDiff(from, to), nil
}

// GetChangelog returns the event's change history ordered by change time.
// Entries whose version row is missing are silently skipped.
func (s *Service) GetChangelog(ctx context.Context, viewer uint, eventID uint) ([]ChangelogView, error) {
	db := s.db.WithContext(ctx)
	if err := s.requireAnyRole(db, eventID, viewer, opGetChangelog); err != nil {
		return nil, err
	}

	var entries []EventChangelog
	if err := db.Where("event_id = ?", eventID).
		Order("changed_at ASC, version ASC").
		Find(&entries).Error; err != nil {
		return nil, s.classify(opGetChangelog, err)
	}

	var versionNumbers []int
	if err := db.Model(&EventVersion{}).
		Where("event_id = ?", eventID).
		Pluck("version", &versionNumbers).Error; err != nil {
		return nil, s.classify(opGetChangelog, err)
	}
	resolvable := make(map[int]struct{}, len(versionNumbers))
	for _, number := range versionNumbers {
		resolvable[number] = struct{}{}
	}

	views := make([]ChangelogView, 0, len(entries))
	for _, entry := range entries {
		if _, ok := resolvable[entry.Version]; !ok {
			continue
		}
		var diff Diff
		if err := json.Unmarshal([]byte(entry.Diff), &diff); err != nil {
			return nil, errdef.NewInternal("decode changelog diff: %v", err)
		}
		views = append(views, ChangelogView{
			EventID:   entry.EventID,
			Version:   entry.Version,
			Diff:      diff,
			ChangedBy: entry.ChangedBy,
			ChangedAt: entry.ChangedAt,
		})
	}
	return views, nil
}

// roleFor resolves the viewer's standing on the event: owner via the owner
// field, otherwise the stored permission row, otherwise none.
func (s *Service) roleFor(tx *gorm.DB, event Event, userID uint) (Role, error) {
	if event.OwnerID == userID {
		return RoleOwner, nil
	}
	var permission EventPermission
	err := tx.Where("event_id = ? AND user_id = ?", event.ID, userID).
		Take(&permission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, err
	}
	return permission.Role, nil
}

// requireAnyRole loads the event and demands any standing on it, surfacing
// forbidden for both a missing event and a missing role, matching the
// version/changelog read paths.
func (s *Service) requireAnyRole(db *gorm.DB, eventID, viewer uint, op string) error {
	var event Event
	err := db.First(&event, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errdef.NewForbidden("user %d may not read history of event %d", viewer, eventID)
	}
	if err != nil {
		return s.classify(op, err)
	}
	role, err := s.roleFor(db, event, viewer)
	if err != nil {
		return s.classify(op, err)
	}
	if role == RoleNone {
		return errdef.NewForbidden("user %d may not read history of event %d", viewer, eventID)
	}
	return nil
}

func (s *Service) buildView(event Event) (EventView, error) {
	occurrences, err := ExpandOccurrences(event, ExpandOptions{Count: defaultOccurrencePreview})
	if err != nil {
		return EventView{}, err
	}
	return EventView{
		ID:             event.ID,
		Title:          event.Title,
		Description:    event.Description,
		StartTime:      event.StartTime,
		EndTime:        event.EndTime,
		Location:       event.Location,
		IsRecurring:    event.IsRecurring,
		RecurrenceRule: event.RecurrenceRule,
		OwnerID:        event.OwnerID,
		Occurrences:    occurrences,
	}, nil
}

func versionView(version EventVersion) (VersionView, error) {
	data, err := decodeSnapshotMap(version.Data)
	if err != nil {
		return VersionView{}, errdef.NewInternal("decode version data: %v", err)
	}
	return VersionView{
		EventID:    version.EventID,
		Version:    version.Version,
		Data:       data,
		ChangedBy:  version.ChangedBy,
		ChangedAt:  version.ChangedAt,
		ChangeNote: version.ChangeNote,
	}, nil
}

func (s *Service) cachePut(key string, value any) {
	encoded, err := json.Marshal(value)
	if err != nil {
		s.logError(opGetEvent, "cache_encode_failed", err, zap.String("key", key))
		return
	}
	s.cache.Put(key, string(encoded), s.cacheTTL)
}

// classify passes through errors that already carry a kind and wraps raw
// persistence failures as internal so they never leak detail to callers.
func (s *Service) classify(op string, err error) error {
	if errdef.IsValidation(err) || errdef.IsConflict(err) || errdef.IsNotFound(err) ||
		errdef.IsForbidden(err) || errdef.IsUnauthorized(err) || errdef.IsInternal(err) {
		return err
	}
	s.logError(op, "persistence_failed", err)
	return errdef.NewInternal("%s failed", op)
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errdef.NewValidation("start and end times are required")
	}
	if !start.Before(end) {
		return errdef.NewValidation("end time must be after start time")
	}
	return nil
}

func validateInput(input EventInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return errdef.NewValidation("title is required")
	}
	if err := validateInterval(input.StartTime, input.EndTime); err != nil {
		return err
	}
	if input.IsRecurring {
		return validateRecurrenceRule(input.RecurrenceRule)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("scheduling service error", attrs...)
}
