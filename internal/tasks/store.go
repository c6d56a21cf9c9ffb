package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// Store is the server-mediated persistence contract for boards (spec.md
// §1 Non-goals: the coordination server itself is out of scope; this is
// the interface the Task State Manager mutates through). SaveBoard
// enforces optimistic concurrency: the caller supplies the version it
// last read, and the store rejects the write with opstatus.ErrVersionConflict
// if the stored version has since moved.
//
// Grounded on the teacher's CAS-style `UPDATE ... WHERE status = $expected`
// writes in internal/store/pg/teams_tasks.go (ClaimTask, CompleteTask),
// generalized from a single-column compare-and-swap to a whole-board
// version token because the Task State Manager's propagation rules touch
// multiple tasks per mutation.
type Store interface {
	// LoadBoard returns the current board for teamID. found is false if no
	// board has been created yet.
	LoadBoard(ctx context.Context, teamID string) (board *Board, found bool, err error)
	// CreateBoard lazily initializes an empty board with default columns.
	CreateBoard(ctx context.Context, teamID string) (*Board, error)
	// SaveBoard persists board if its current stored version still equals
	// expectedVersion, then increments the stored version and returns the
	// new value. On mismatch it returns ErrVersionConflict.
	SaveBoard(ctx context.Context, board *Board, expectedVersion uint64) (*Board, error)
}

// MemoryStore is an in-process, non-durable Store, used as the reference
// implementation for tests. cmd/session.go backs the Manager with
// SQLiteStore, not MemoryStore.
type MemoryStore struct {
	mu     sync.Mutex
	boards map[string]*Board
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]*Board)}
}

func (m *MemoryStore) LoadBoard(_ context.Context, teamID string) (*Board, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[teamID]
	if !ok {
		return nil, false, nil
	}
	return cloneBoard(b), true, nil
}

func (m *MemoryStore) CreateBoard(_ context.Context, teamID string) (*Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.boards[teamID]; ok {
		return cloneBoard(existing), nil
	}
	b := &Board{
		TeamID:  teamID,
		Columns: DefaultColumns(),
		Tasks:   make(map[string]*Task),
		Version: 1,
	}
	m.boards[teamID] = b
	return cloneBoard(b), nil
}

func (m *MemoryStore) SaveBoard(_ context.Context, board *Board, expectedVersion uint64) (*Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.boards[board.TeamID]
	if ok && current.Version != expectedVersion {
		return nil, opstatus.ErrVersionConflict
	}

	next := cloneBoard(board)
	next.Version = expectedVersion + 1
	m.boards[board.TeamID] = next
	return cloneBoard(next), nil
}

func cloneBoard(b *Board) *Board {
	out := &Board{
		TeamID:  b.TeamID,
		Columns: append([]Column(nil), b.Columns...),
		Tasks:   make(map[string]*Task, len(b.Tasks)),
		Version: b.Version,
	}
	for id, t := range b.Tasks {
		out.Tasks[id] = cloneTask(t)
	}
	return out
}

func cloneTask(t *Task) *Task {
	c := *t
	c.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	c.Labels = append([]string(nil), t.Labels...)
	c.ExecutionLinks = append([]ExecutionLink(nil), t.ExecutionLinks...)
	c.Blockers = make([]Blocker, len(t.Blockers))
	copy(c.Blockers, t.Blockers)
	return &c
}

// clockNow is overridable in tests for deterministic timestamps.
var clockNow = time.Now
