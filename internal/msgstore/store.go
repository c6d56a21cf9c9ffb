// Package msgstore implements Bounded Message Storage (spec.md §4.5):
// a per-team JSONL hot log plus a directory of gzip archives, kept
// under a message-count cap, an age cap, and a per-team byte budget.
//
// Grounded on the teacher's internal/sessions/manager.go Save() method
// for the atomic write discipline (os.CreateTemp in the target
// directory, write, Sync, then os.Rename over the destination) and on
// its sanitizeFilename for turning a team id into a safe path
// component. Archival uses github.com/klauspost/compress/gzip, a
// drop-in faster gzip already present in the pack's dependency set.
package msgstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nextlevelbuilder/squad/internal/teammsg"
)

// Limits are the spec.md §4.5 defaults; all MUST be configurable.
type Limits struct {
	HotCap         int
	MaxAge         time.Duration
	BudgetBytes    int64
	MaxArchiveFiles int
}

// DefaultLimits returns the spec.md §4.5 defaults.
func DefaultLimits() Limits {
	return Limits{
		HotCap:          500,
		MaxAge:          7 * 24 * time.Hour,
		BudgetBytes:     5 * 1024 * 1024,
		MaxArchiveFiles: 10,
	}
}

// Store is the Bounded Message Storage for every team under root, one
// hot JSONL file plus an archives/ directory per team.
type Store struct {
	root   string
	limits Limits
	log    *slog.Logger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New returns a Store rooted at root (e.g. "<data-dir>/teams"). The
// directory is created lazily per team on first use.
func New(root string, limits Limits, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: root, limits: limits, log: log, now: time.Now}
}

func sanitizeTeamID(team string) string {
	return strings.ReplaceAll(team, ":", "_")
}

func (s *Store) teamDir(team string) string {
	return filepath.Join(s.root, sanitizeTeamID(team))
}

func (s *Store) hotPath(team string) string {
	return filepath.Join(s.teamDir(team), "messages.jsonl")
}

func (s *Store) archiveDir(team string) string {
	return filepath.Join(s.teamDir(team), "archives")
}

// Save appends one message and then enforces limits (spec.md §4.5 save).
func (s *Store) Save(team string, msg teammsg.Message) error {
	dir := s.teamDir(team)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("msgstore: create team dir: %w", err)
	}

	existing, err := s.readHot(team)
	if err != nil {
		return err
	}
	existing = append(existing, msg)
	if err := s.rewriteHot(team, existing); err != nil {
		return err
	}
	s.enforceLimits(team)
	return nil
}

// Hydrate merges remote into the hot set by id (idempotent), orders
// the result by timestamp ascending, rewrites the hot file, and
// enforces limits (spec.md §4.5 hydrate).
func (s *Store) Hydrate(team string, remote []teammsg.Message) error {
	dir := s.teamDir(team)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("msgstore: create team dir: %w", err)
	}

	existing, err := s.readHot(team)
	if err != nil {
		return err
	}

	byID := make(map[string]teammsg.Message, len(existing)+len(remote))
	order := make([]string, 0, len(existing)+len(remote))
	for _, m := range existing {
		if _, ok := byID[m.ID]; !ok {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}
	for _, m := range remote {
		if _, ok := byID[m.ID]; !ok {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}

	merged := make([]teammsg.Message, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	if err := s.rewriteHot(team, merged); err != nil {
		return err
	}
	s.enforceLimits(team)
	return nil
}

// Page is the result of Get: a newest-first page plus a has-more flag.
type Page struct {
	Messages []teammsg.Message
	HasMore  bool
}

// Get returns a newest-first page of up to limit messages older than
// before (zero value means "no bound"), reporting has-more (spec.md
// §4.5 get).
func (s *Store) Get(team string, limit int, before time.Time) (Page, error) {
	all, err := s.readHot(team)
	if err != nil {
		return Page{}, err
	}

	newestFirst := make([]teammsg.Message, len(all))
	for i, m := range all {
		newestFirst[len(all)-1-i] = m
	}

	filtered := newestFirst
	if !before.IsZero() {
		filtered = filtered[:0]
		for _, m := range newestFirst {
			if m.Timestamp.Before(before) {
				filtered = append(filtered, m)
			}
		}
	}

	if limit <= 0 || limit >= len(filtered) {
		return Page{Messages: filtered, HasMore: false}, nil
	}
	return Page{Messages: filtered[:limit], HasMore: true}, nil
}

// RecentContext returns an oldest-first slice of the latest n messages
// (spec.md §4.5 recent-context, n defaults to 20).
func (s *Store) RecentContext(team string, n int) []teammsg.Message {
	if n <= 0 {
		n = 20
	}
	all, err := s.readHot(team)
	if err != nil {
		s.log.Warn("msgstore: recent-context read failed", "team", team, "error", err)
		return nil
	}
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// readHot loads the hot JSONL file, tolerating a missing file (empty
// team) and skipping any line that fails to parse rather than failing
// the whole read.
func (s *Store) readHot(team string) ([]teammsg.Message, error) {
	f, err := os.Open(s.hotPath(team))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgstore: open hot file: %w", err)
	}
	defer f.Close()

	var out []teammsg.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m teammsg.Message
		if err := json.Unmarshal(line, &m); err != nil {
			s.log.Warn("msgstore: skipping malformed hot record", "team", team, "error", err)
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("msgstore: scan hot file: %w", err)
	}
	return out, nil
}

// rewriteHot atomically replaces the hot file's contents with msgs,
// one JSON record per line, via temp-file-then-rename (grounded on
// sessions.Manager.Save's CreateTemp/Write/Sync/Rename sequence).
func (s *Store) rewriteHot(team string, msgs []teammsg.Message) error {
	dir := s.teamDir(team)
	tmpFile, err := os.CreateTemp(dir, "messages-*.tmp")
	if err != nil {
		return fmt.Errorf("msgstore: create temp hot file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmpFile)
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			tmpFile.Close()
			return fmt.Errorf("msgstore: encode message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("msgstore: flush temp hot file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("msgstore: sync temp hot file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("msgstore: close temp hot file: %w", err)
	}

	if err := os.Rename(tmpPath, s.hotPath(team)); err != nil {
		return fmt.Errorf("msgstore: rename temp hot file: %w", err)
	}
	cleanup = false
	return nil
}

// enforceLimits runs the spec.md §4.5 enforce-limits algorithm.
// Failures are logged warnings and never propagated: storage pressure
// must never block save/hydrate from returning success to the caller.
func (s *Store) enforceLimits(team string) {
	if err := s.enforceLimitsErr(team); err != nil {
		s.log.Warn("msgstore: enforce-limits failed", "team", team, "error", err)
	}
}

func (s *Store) enforceLimitsErr(team string) error {
	all, err := s.readHot(team)
	if err != nil {
		return err
	}

	now := s.now()
	var retained, archived []teammsg.Message
	for _, m := range all {
		if now.Sub(m.Timestamp) > s.limits.MaxAge {
			archived = append(archived, m)
		} else {
			retained = append(retained, m)
		}
	}

	// Step 2: oldest-overflow-to-archive. Save appends in arrival order,
	// so retained is sorted ascending by timestamp before the overflow
	// is cut from its head.
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Timestamp.Before(retained[j].Timestamp)
	})
	if s.limits.HotCap > 0 && len(retained) > s.limits.HotCap {
		overflow := len(retained) - s.limits.HotCap
		archived = append(archived, retained[:overflow]...)
		retained = retained[overflow:]
		sort.SliceStable(archived, func(i, j int) bool {
			return archived[i].Timestamp.Before(archived[j].Timestamp)
		})
	}

	if err := s.rewriteHot(team, retained); err != nil {
		return err
	}

	if len(archived) > 0 {
		if err := s.writeArchive(team, archived); err != nil {
			return err
		}
	}

	return s.enforceArchiveBudget(team)
}

// writeArchive gzips archived as one file named <ms>-<first-id>.jsonl.gz
// (spec.md §4.5 step 4).
func (s *Store) writeArchive(team string, archived []teammsg.Message) error {
	dir := s.archiveDir(team)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("msgstore: create archive dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s.jsonl.gz", s.now().UnixMilli(), archived[0].ID)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("msgstore: create archive file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	enc := json.NewEncoder(gw)
	for _, m := range archived {
		if err := enc.Encode(m); err != nil {
			gw.Close()
			return fmt.Errorf("msgstore: encode archived message: %w", err)
		}
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("msgstore: close gzip writer: %w", err)
	}
	return f.Sync()
}

type archiveFile struct {
	path    string
	size    int64
	modTime time.Time
}

// enforceArchiveBudget implements spec.md §4.5 step 5: trim by file
// count first, then by total size (hot file + archives) against the
// per-team byte budget, oldest archives first. The hot file itself is
// never deleted here.
func (s *Store) enforceArchiveBudget(team string) error {
	entries, err := os.ReadDir(s.archiveDir(team))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("msgstore: read archive dir: %w", err)
	}

	archives := make([]archiveFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archiveFile{
			path:    filepath.Join(s.archiveDir(team), e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].modTime.Before(archives[j].modTime) })

	for s.limits.MaxArchiveFiles > 0 && len(archives) > s.limits.MaxArchiveFiles {
		if err := os.Remove(archives[0].path); err != nil {
			return fmt.Errorf("msgstore: remove excess archive: %w", err)
		}
		archives = archives[1:]
	}

	if s.limits.BudgetBytes <= 0 {
		return nil
	}

	hotInfo, err := os.Stat(s.hotPath(team))
	var total int64
	if err == nil {
		total = hotInfo.Size()
	}
	for _, a := range archives {
		total += a.size
	}

	for total > s.limits.BudgetBytes && len(archives) > 0 {
		if err := os.Remove(archives[0].path); err != nil {
			return fmt.Errorf("msgstore: remove over-budget archive: %w", err)
		}
		total -= archives[0].size
		archives = archives[1:]
	}
	return nil
}
