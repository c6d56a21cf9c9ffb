package teammsg

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nextlevelbuilder/squad/internal/policy"
	"github.com/nextlevelbuilder/squad/internal/roles"
	"github.com/nextlevelbuilder/squad/internal/tasks"
)

// Store is the local message-store contract the ritual and Filter/Format
// callers use (implemented by internal/msgstore.Store).
type Store interface {
	Hydrate(team string, remote []Message) error
	RecentContext(team string, n int) []Message
	Save(team string, msg Message) error
}

// Sender delivers an outbound Team Message to the coordination server.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RemoteHistoryFetcher fetches up to limit of the team's most recent
// remote messages, used to hydrate the local store on join.
type RemoteHistoryFetcher interface {
	FetchRecentMessages(ctx context.Context, teamID string, limit int) ([]Message, error)
}

// BoardProvider is the subset of tasks.Manager the ritual needs to build
// the initial context bundle's filtered board view.
type BoardProvider interface {
	GetBoard(ctx context.Context, teamID string) (*tasks.Board, error)
}

// ContextBundle is the initial-context payload built at team-join time
// (spec.md §4.3 step 5).
type ContextBundle struct {
	RoleSummary    string
	FilteredBoard  []*tasks.Task
	RecentMessages []Message // oldest-first, for prompt ingestion
}

// FilterBoardForRole implements spec.md §4.3 step 5's visibility rule:
// workers see only tasks assigned to them, unassigned todo tasks, and
// team-level fields; coordinators see everything.
func FilterBoardForRole(board *tasks.Board, roleID, sessionID string) []*tasks.Task {
	var out []*tasks.Task
	if roles.IsCoordinator(roleID) {
		for _, t := range board.Tasks {
			out = append(out, t)
		}
		sortTasksByID(out)
		return out
	}
	for _, t := range board.Tasks {
		if t.AssigneeID == sessionID {
			out = append(out, t)
			continue
		}
		if t.AssigneeID == "" && t.Status == tasks.StatusTodo {
			out = append(out, t)
		}
	}
	sortTasksByID(out)
	return out
}

func sortTasksByID(ts []*tasks.Task) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}

// JoinRitual runs the team-join ritual (spec.md §4.3) when a session's
// team id transitions from absent/different to non-null. It returns the
// Turn to enqueue as isolate-and-clear.
type JoinRitual struct {
	Store   Store
	Sender  Sender
	History RemoteHistoryFetcher
	Boards  BoardProvider
}

// Run executes steps 1-6. Errors from history hydrate or context
// injection are non-fatal per spec.md §4.1's degraded-state rule: the
// caller logs and the session continues, it does not abort startup.
func (r *JoinRitual) Run(ctx context.Context, teamID, ownSessionID, ownRoleID string, currentPolicy policy.Snapshot) (policy.Turn, error) {
	// Step 2: fetch + merge last 200 remote messages.
	if r.History != nil {
		remote, err := r.History.FetchRecentMessages(ctx, teamID, 200)
		if err == nil {
			_ = r.Store.Hydrate(teamID, remote)
		}
		// Transient errors are swallowed here; caller's session continues
		// in a degraded (no-history) state per spec.md §4.1.
	}

	// Step 3: handshake.
	handshake := Message{
		ID:            "", // assigned by server/store on send
		TeamID:        teamID,
		Content:       fmt.Sprintf("session %s joined as %s", ownSessionID, ownRoleID),
		Type:          TypeSystem,
		Timestamp:     time.Now(),
		FromSessionID: ownSessionID,
		FromRole:      ownRoleID,
		Metadata:      map[string]string{"type": "handshake"},
	}
	if r.Sender != nil {
		_ = r.Sender.Send(ctx, handshake)
	}

	// Step 4+5: fetch/lazily-create board, build context bundle.
	var filtered []*tasks.Task
	if r.Boards != nil {
		board, err := r.Boards.GetBoard(ctx, teamID)
		if err == nil {
			filtered = FilterBoardForRole(board, ownRoleID, ownSessionID)
		}
	}

	recent := r.Store.RecentContext(teamID, 20)

	bundle := ContextBundle{
		RoleSummary:    RolePrompt(ownRoleID, teamID),
		FilteredBoard:  filtered,
		RecentMessages: recent,
	}

	text := renderBundle(bundle)

	// Step 6: enqueue as isolate-and-clear, carrying the policy at
	// ritual-issue time.
	return policy.NewTurn(text, currentPolicy, policy.KindIsolateAndClear), nil
}

func renderBundle(b ContextBundle) string {
	var out string
	out += "[SYSTEM: TEAM CONTEXT]\n" + b.RoleSummary + "\n\n"
	out += fmt.Sprintf("Board: %d visible tasks\n", len(b.FilteredBoard))
	for _, t := range b.FilteredBoard {
		out += fmt.Sprintf("- [%s] %s (%s)\n", t.Status, t.Title, t.ID)
	}
	out += fmt.Sprintf("\nRecent messages (%d):\n", len(b.RecentMessages))
	for _, m := range b.RecentMessages {
		out += fmt.Sprintf("- %s: %s\n", m.FromRole, m.Content)
	}
	return out
}
