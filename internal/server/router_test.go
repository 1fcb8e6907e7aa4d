package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/almanac-hq/almanac/internal/auth"
	"github.com/almanac-hq/almanac/internal/scheduling"
)

type testHarness struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:almanac_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&scheduling.Event{},
		&scheduling.EventVersion{},
		&scheduling.EventChangelog{},
		&scheduling.EventPermission{},
	); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}

	engine, err := scheduling.NewService(scheduling.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "almanac-auth",
		Audience:      "almanac-api",
	})

	handler, err := NewHTTPHandler(Dependencies{Tokens: issuer, Engine: engine})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return testHarness{handler: handler, issuer: issuer}
}

func (h testHarness) request(t *testing.T, method, path string, body any, userID uint) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, _, err := h.issuer.IssueToken(context.Background(), userID)
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, req)
	return recorder
}

func eventBody(title string, start, end time.Time) map[string]any {
	return map[string]any{
		"title":      title,
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
	}
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	harness := newTestHarness(t)

	recorder := harness.request(t, http.MethodGet, "/api/events", nil, 0)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	recorder = httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", recorder.Code)
	}
}

func TestResponsesCarryRequestID(t *testing.T) {
	harness := newTestHarness(t)
	recorder := harness.request(t, http.MethodGet, "/api/events", nil, 0)
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header on every response")
	}
}

func TestCreateAndGetEvent(t *testing.T) {
	harness := newTestHarness(t)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	recorder := harness.request(t, http.MethodPost, "/api/events", eventBody("Standup", start, end), 7)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var created scheduling.EventView
	decodeJSON(t, recorder, &created)
	if created.ID == 0 || created.Title != "Standup" {
		t.Fatalf("created = %+v", created)
	}

	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var fetched scheduling.EventView
	decodeJSON(t, recorder, &fetched)
	if fetched.ID != created.ID || len(fetched.Occurrences) != 1 {
		t.Fatalf("fetched = %+v", fetched)
	}

	// Another user sees not-found, not forbidden.
	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d", created.ID), nil, 9)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("stranger get status = %d, want 404", recorder.Code)
	}
}

func TestCreateEventErrorMapping(t *testing.T) {
	harness := newTestHarness(t)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	recorder := harness.request(t, http.MethodPost, "/api/events", map[string]any{"title": "No interval"}, 7)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing interval status = %d, want 400", recorder.Code)
	}

	recorder = harness.request(t, http.MethodPost, "/api/events", eventBody("", start, end), 7)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty title status = %d, want 400", recorder.Code)
	}

	if recorder := harness.request(t, http.MethodPost, "/api/events", eventBody("First", start, end), 7); recorder.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", recorder.Code)
	}
	recorder = harness.request(t, http.MethodPost, "/api/events",
		eventBody("Second", start.Add(30*time.Minute), end.Add(30*time.Minute)), 7)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("conflict status = %d, want 409", recorder.Code)
	}
}

func TestBatchCreate(t *testing.T) {
	harness := newTestHarness(t)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	payload := map[string]any{"events": []map[string]any{
		eventBody("One", start, start.Add(time.Hour)),
		eventBody("Two", start.Add(2*time.Hour), start.Add(3*time.Hour)),
	}}
	recorder := harness.request(t, http.MethodPost, "/api/events/batch", payload, 7)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("batch status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var views []scheduling.EventView
	decodeJSON(t, recorder, &views)
	if len(views) != 2 {
		t.Fatalf("expected 2 created events, got %d", len(views))
	}

	recorder = harness.request(t, http.MethodPost, "/api/events/batch", map[string]any{"events": []map[string]any{}}, 7)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", recorder.Code)
	}
}

func TestUpdateRollbackAndHistoryRoutes(t *testing.T) {
	harness := newTestHarness(t)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	recorder := harness.request(t, http.MethodPost, "/api/events", eventBody("Standup", start, start.Add(time.Hour)), 7)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create status = %d", recorder.Code)
	}
	var created scheduling.EventView
	decodeJSON(t, recorder, &created)

	recorder = harness.request(t, http.MethodPut, fmt.Sprintf("/api/events/%d", created.ID),
		map[string]any{"title": "Planning"}, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	// A stranger's update is forbidden, unlike the read path.
	recorder = harness.request(t, http.MethodPut, fmt.Sprintf("/api/events/%d", created.ID),
		map[string]any{"title": "Hijacked"}, 9)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("stranger update status = %d, want 403", recorder.Code)
	}

	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d/history/1", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("history status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var version scheduling.VersionView
	decodeJSON(t, recorder, &version)
	if version.Version != 1 || version.Data["title"] != "Standup" {
		t.Fatalf("version = %+v", version)
	}

	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d/diff/1/2", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("diff status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = harness.request(t, http.MethodPost, fmt.Sprintf("/api/events/%d/rollback/1", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var rolled scheduling.VersionView
	decodeJSON(t, recorder, &rolled)
	if rolled.Version != 3 {
		t.Fatalf("rollback produced version %d, want 3", rolled.Version)
	}

	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d/changelog", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("changelog status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var entries []scheduling.ChangelogView
	decodeJSON(t, recorder, &entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 changelog entries, got %d", len(entries))
	}

	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d/changelog", created.ID), nil, 9)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("stranger changelog status = %d, want 403", recorder.Code)
	}

	recorder = harness.request(t, http.MethodDelete, fmt.Sprintf("/api/events/%d", created.ID), nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	recorder = harness.request(t, http.MethodGet, fmt.Sprintf("/api/events/%d/changelog", created.ID), nil, 7)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("changelog after delete status = %d, want 403", recorder.Code)
	}
}

func TestListRouteParsesQueryParameters(t *testing.T) {
	harness := newTestHarness(t)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	if recorder := harness.request(t, http.MethodPost, "/api/events", eventBody("Standup", start, start.Add(time.Hour)), 7); recorder.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", recorder.Code)
	}

	recorder := harness.request(t, http.MethodGet, "/api/events?limit=5&is_recurring=false", nil, 7)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var views []scheduling.EventView
	decodeJSON(t, recorder, &views)
	if len(views) != 1 {
		t.Fatalf("expected 1 event, got %d", len(views))
	}

	recorder = harness.request(t, http.MethodGet, "/api/events?limit=0", nil, 7)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", recorder.Code)
	}
	recorder = harness.request(t, http.MethodGet, "/api/events?start_date=yesterday", nil, 7)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad start_date status = %d, want 400", recorder.Code)
	}

	recorder = harness.request(t, http.MethodGet, "/api/events?search=nothing-matches", nil, 7)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("empty listing status = %d, want 404", recorder.Code)
	}
}
