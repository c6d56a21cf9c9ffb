package msgstore

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/squad/internal/teammsg"
)

func newTestStore(t *testing.T, limits Limits) (*Store, time.Time) {
	t.Helper()
	dir := t.TempDir()
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s := New(dir, limits, nil)
	s.now = func() time.Time { return fixed }
	return s, fixed
}

func msg(id string, at time.Time, content string) teammsg.Message {
	return teammsg.Message{ID: id, TeamID: "t1", Content: content, Timestamp: at, Type: teammsg.TypeChat}
}

func TestSaveThenGetRoundTrips(t *testing.T) {
	s, now := newTestStore(t, DefaultLimits())

	if err := s.Save("t1", msg("m1", now, "hello")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save("t1", msg("m2", now.Add(time.Second), "world")); err != nil {
		t.Fatalf("save: %v", err)
	}

	page, err := s.Get("t1", 0, time.Time{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].ID != "m2" {
		t.Errorf("expected newest-first, got first id %q", page.Messages[0].ID)
	}
	if page.HasMore {
		t.Error("expected has-more false when limit covers everything")
	}
}

func TestGetPagingReportsHasMore(t *testing.T) {
	s, now := newTestStore(t, DefaultLimits())
	for i := 0; i < 5; i++ {
		if err := s.Save("t1", msg(string(rune('a'+i)), now.Add(time.Duration(i)*time.Second), "x")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	page, err := s.Get("t1", 2, time.Time{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("expected a 2-item page with has-more, got %d items has-more=%v", len(page.Messages), page.HasMore)
	}
}

func TestHydrateIsIdempotentAndOrdersByTimestamp(t *testing.T) {
	s, now := newTestStore(t, DefaultLimits())

	remote := []teammsg.Message{
		msg("m2", now.Add(2*time.Second), "second"),
		msg("m1", now, "first"),
	}
	if err := s.Hydrate("t1", remote); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if err := s.Hydrate("t1", remote); err != nil {
		t.Fatalf("second hydrate: %v", err)
	}

	recent := s.RecentContext("t1", 20)
	if len(recent) != 2 {
		t.Fatalf("expected hydrate to be idempotent by id, got %d messages", len(recent))
	}
	if recent[0].ID != "m1" || recent[1].ID != "m2" {
		t.Fatalf("expected oldest-first order [m1 m2], got [%s %s]", recent[0].ID, recent[1].ID)
	}
}

func TestRecentContextDefaultsToTwenty(t *testing.T) {
	s, now := newTestStore(t, DefaultLimits())
	for i := 0; i < 25; i++ {
		if err := s.Save("t1", msg(string(rune('a'+i)), now.Add(time.Duration(i)*time.Second), "x")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	recent := s.RecentContext("t1", 0)
	if len(recent) != 20 {
		t.Fatalf("expected default n=20, got %d", len(recent))
	}
	if recent[len(recent)-1].ID != string(rune('a'+24)) {
		t.Errorf("expected newest message last (oldest-first slice), got %q", recent[len(recent)-1].ID)
	}
}

func TestEnforceLimitsEvictsOverflowToArchive(t *testing.T) {
	limits := Limits{HotCap: 3, MaxAge: 365 * 24 * time.Hour, BudgetBytes: 1 << 30, MaxArchiveFiles: 10}
	s, now := newTestStore(t, limits)

	remote := make([]teammsg.Message, 5)
	for i := range remote {
		remote[i] = msg(string(rune('a'+i)), now.Add(time.Duration(i)*time.Second), "x")
	}
	// A single hydrate call enforces limits once, so the 2-message
	// overflow (hotCap=3 against 5 messages) lands in one archive file.
	if err := s.Hydrate("t1", remote); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	recent := s.RecentContext("t1", 20)
	if len(recent) != 3 {
		t.Fatalf("expected hot cap to retain only 3, got %d", len(recent))
	}
	if recent[0].ID != "c" {
		t.Errorf("expected oldest overflow (a, b) archived, retained starting at c, got %q", recent[0].ID)
	}

	entries, err := os.ReadDir(s.archiveDir("t1"))
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one archive file, got %d", len(entries))
	}

	f, err := os.Open(filepath.Join(s.archiveDir("t1"), entries[0].Name()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	var archivedMsg teammsg.Message
	dec := json.NewDecoder(gz)
	if err := dec.Decode(&archivedMsg); err != nil {
		t.Fatalf("decode archived message: %v", err)
	}
	if archivedMsg.ID != "a" {
		t.Errorf("expected first archived record to be the oldest (a), got %q", archivedMsg.ID)
	}
}

func TestEnforceLimitsArchivesMessagesOlderThanMaxAge(t *testing.T) {
	limits := Limits{HotCap: 500, MaxAge: time.Hour, BudgetBytes: 1 << 30, MaxArchiveFiles: 10}
	s, now := newTestStore(t, limits)

	if err := s.Save("t1", msg("old", now.Add(-2*time.Hour), "stale")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save("t1", msg("new", now, "fresh")); err != nil {
		t.Fatalf("save: %v", err)
	}

	recent := s.RecentContext("t1", 20)
	if len(recent) != 1 || recent[0].ID != "new" {
		t.Fatalf("expected only the fresh message retained, got %+v", recent)
	}

	entries, err := os.ReadDir(s.archiveDir("t1"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one archive from the stale message, got %v err=%v", entries, err)
	}
}

func TestArchiveBudgetTrimsExcessFileCount(t *testing.T) {
	limits := Limits{HotCap: 1, MaxAge: 365 * 24 * time.Hour, BudgetBytes: 1 << 30, MaxArchiveFiles: 2}
	s, now := newTestStore(t, limits)

	for round := 0; round < 4; round++ {
		clockAt := now.Add(time.Duration(round) * time.Hour)
		s.now = func() time.Time { return clockAt }
		t0 := clockAt
		if err := s.Save("t1", msg("r"+string(rune('0'+round))+"-a", t0, "x")); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := s.Save("t1", msg("r"+string(rune('0'+round))+"-b", t0.Add(time.Second), "y")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := os.ReadDir(s.archiveDir("t1"))
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(entries) > limits.MaxArchiveFiles {
		t.Fatalf("expected at most %d archive files, got %d", limits.MaxArchiveFiles, len(entries))
	}
}

func TestGetOnEmptyTeamReturnsEmptyPage(t *testing.T) {
	s, _ := newTestStore(t, DefaultLimits())
	page, err := s.Get("no-such-team", 10, time.Time{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(page.Messages) != 0 || page.HasMore {
		t.Fatalf("expected empty page for unknown team, got %+v", page)
	}
}

func TestSaveIsAtomicAcrossRewrites(t *testing.T) {
	s, now := newTestStore(t, DefaultLimits())
	if err := s.Save("t1", msg("m1", now, "first")); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(s.teamDir("t1"))
	if err != nil {
		t.Fatalf("read team dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("expected no leftover temp file after successful save, found %q", e.Name())
		}
	}
}
