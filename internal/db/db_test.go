package db

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/people.counter/internal/occupancy"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPragmasApplied(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)

	if err := db.StartSession("s1", "fixtures/lobby.csv", t0); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	s, err := db.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.EndedAt != nil {
		t.Errorf("Expected open session, got EndedAt=%v", s.EndedAt)
	}
	if !s.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt, t0)
	}

	end := t0.Add(90 * time.Second)
	if err := db.EndSession("s1", end, 42, 3); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	s, err = db.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	want := Session{ID: "s1", Source: "fixtures/lobby.csv", StartedAt: t0, EndedAt: &end, Frames: 42, Total: 3}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestEndSession_Unknown(t *testing.T) {
	db := setupTestDB(t)

	err := db.EndSession("missing", t0, 0, 0)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := db.GetSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound from GetSession, got %v", err)
	}
	if _, err := db.LatestSessionID(); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound from LatestSessionID, got %v", err)
	}
}

func TestSessions_NewestFirst(t *testing.T) {
	db := setupTestDB(t)

	for i, id := range []string{"a", "b", "c"} {
		if err := db.StartSession(id, "-", t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("StartSession(%s) failed: %v", id, err)
		}
	}

	sessions, err := db.Sessions(2)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("session order mismatch (-want +got):\n%s", diff)
	}

	latest, err := db.LatestSessionID()
	if err != nil {
		t.Fatalf("LatestSessionID failed: %v", err)
	}
	if latest != "c" {
		t.Errorf("LatestSessionID = %q, want c", latest)
	}
}

func TestRecordEvent_DurationsAndSeries(t *testing.T) {
	db := setupTestDB(t)
	if err := db.StartSession("s1", "-", t0); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := db.StartSession("other", "-", t0); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	record := func(session string, e occupancy.Event, ts float64) {
		t.Helper()
		if err := db.RecordEvent(session, e, ts, t0); err != nil {
			t.Fatalf("RecordEvent(%v) failed: %v", e, err)
		}
	}
	record("s1", occupancy.CurrentCountEvent{Count: 0}, 1)
	record("s1", occupancy.TotalCountEvent{Total: 1}, 2)
	record("s1", occupancy.CurrentCountEvent{Count: 1}, 2)
	record("s1", occupancy.DurationEvent{Duration: 17, Seconds: 17.25}, 21)
	record("s1", occupancy.CurrentCountEvent{Count: 0}, 21)
	record("s1", occupancy.DurationEvent{Duration: -2, Seconds: -2.5}, 40)
	record("other", occupancy.DurationEvent{Duration: 99, Seconds: 99}, 5)

	durations, err := db.Durations("s1")
	if err != nil {
		t.Fatalf("Durations failed: %v", err)
	}
	if diff := cmp.Diff([]float64{17.25, -2.5}, durations); diff != "" {
		t.Errorf("durations mismatch (-want +got):\n%s", diff)
	}

	series, err := db.CountSeries("s1", 2)
	if err != nil {
		t.Fatalf("CountSeries failed: %v", err)
	}
	want := []CountPoint{{Timestamp: 2, Count: 1}, {Timestamp: 21, Count: 0}}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordEvent_UnknownSession(t *testing.T) {
	db := setupTestDB(t)

	err := db.RecordEvent("nope", occupancy.CurrentCountEvent{Count: 1}, 1, t0)
	if err == nil {
		t.Error("Expected foreign key failure for unknown session")
	}
}

func TestSummarise(t *testing.T) {
	if got := Summarise(nil); got != (DurationSummary{}) {
		t.Errorf("Summarise(nil) = %+v, want zero", got)
	}

	one := Summarise([]float64{12})
	if one.Count != 1 || one.Mean != 12 || one.StdDev != 0 || one.P98 != 12 {
		t.Errorf("Summarise single = %+v", one)
	}

	s := Summarise([]float64{4, 1, 3, 2})
	if s.Count != 4 || s.Min != 1 || s.Max != 4 {
		t.Errorf("Summarise = %+v", s)
	}
	if math.Abs(s.Mean-2.5) > 1e-9 {
		t.Errorf("Mean = %v, want 2.5", s.Mean)
	}
	if s.P50 != 2 {
		t.Errorf("P50 = %v, want 2", s.P50)
	}
	if s.P98 != 4 {
		t.Errorf("P98 = %v, want 4", s.P98)
	}
}

func TestDurationSummary(t *testing.T) {
	db := setupTestDB(t)
	if err := db.StartSession("s1", "-", t0); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for i, secs := range []float64{10, 20, 30} {
		e := occupancy.DurationEvent{Duration: int(secs), Seconds: secs}
		if err := db.RecordEvent("s1", e, float64(i), t0); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	summary, err := db.DurationSummary("s1")
	if err != nil {
		t.Fatalf("DurationSummary failed: %v", err)
	}
	if summary.Count != 3 || summary.Mean != 20 {
		t.Errorf("DurationSummary = %+v", summary)
	}
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d dirty=%v, want 0 false", version, dirty)
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	// A second run is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("version = %d, want %d", version, latest)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, _ = db.MigrateVersion()
	if version != latest-1 {
		t.Errorf("version after down = %d, want %d", version, latest-1)
	}
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	if err := db.StartSession("s1", "-", t0); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	// gzip magic
	if b := rec.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Errorf("backup body is not gzip")
	}
}
