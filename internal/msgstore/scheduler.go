package msgstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Scheduler runs the enforce-limits sweep on a cron expression in
// addition to the synchronous run Save/Hydrate already perform, so
// archival keeps up during a burst of team-silent periods where no
// save/hydrate happens to trigger it (SPEC_FULL.md §4.5 addition).
//
// Grounded on the teacher's own use of github.com/adhocore/gronx for
// scheduled cron jobs, generalized here from "run a user's cron job"
// to "run the storage enforce-limits sweep".
type Scheduler struct {
	store *Store
	expr  string
	log   *slog.Logger

	mu    sync.Mutex
	teams map[string]struct{}
}

// DefaultSweepExpr is the default hourly cron expression.
const DefaultSweepExpr = "0 * * * *"

// NewScheduler returns a Scheduler that sweeps every team registered
// via Track, on the given cron expression (DefaultSweepExpr if empty).
func NewScheduler(store *Store, expr string, log *slog.Logger) *Scheduler {
	if expr == "" {
		expr = DefaultSweepExpr
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: store, expr: expr, log: log, teams: make(map[string]struct{})}
}

// Track registers team for periodic sweeps; a no-op if already tracked.
func (s *Scheduler) Track(team string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[team] = struct{}{}
}

// Run blocks, checking the cron schedule once a minute until ctx is
// cancelled, firing a sweep of every tracked team whenever expr is due.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	gron := gronx.New()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(s.expr)
			if err != nil {
				s.log.Warn("msgstore: invalid sweep expression", "expr", s.expr, "error", err)
				continue
			}
			if due {
				s.sweepAll()
			}
		}
	}
}

func (s *Scheduler) sweepAll() {
	s.mu.Lock()
	teams := make([]string, 0, len(s.teams))
	for t := range s.teams {
		teams = append(teams, t)
	}
	s.mu.Unlock()

	for _, team := range teams {
		s.store.enforceLimits(team)
	}
}
