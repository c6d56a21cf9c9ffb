package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/squad/internal/roles"
	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// StateChangeEvent is broadcast to local subscribers after every
// successful mutation, and normalizes server-pushed task events into the
// same stream (spec.md §4.2: "the manager normalizes both sources into
// the same subscriber stream"). Grounded on the teacher's
// internal/bus.EventPublisher Subscribe/Unsubscribe/Broadcast shape.
type StateChangeEvent struct {
	TeamID string
	TaskID string
	Kind   string // "created" | "updated" | "deleted"
	Task   *Task  // nil for "deleted"
	// TeamMessage is the stable, human-readable rendering to post as a
	// task-update team message (spec.md §4.2 Broadcast).
	TeamMessage string
}

// Subscriber receives normalized StateChangeEvents.
type Subscriber func(StateChangeEvent)

// Manager is the Task State Manager (spec.md §4.2).
type Manager struct {
	store Store

	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

// NewManager constructs a Task State Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, subscribers: make(map[string]Subscriber)}
}

// Subscribe registers a local subscriber under id, replacing any
// existing subscriber with the same id.
func (m *Manager) Subscribe(id string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[id] = sub
}

// Unsubscribe removes the subscriber registered under id.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

func (m *Manager) broadcast(ev StateChangeEvent) {
	m.mu.RLock()
	subs := make([]Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		subs = append(subs, s)
	}
	m.mu.RUnlock()
	for _, s := range subs {
		s(ev)
	}
}

// NormalizeServerEvent folds a server-pushed task event into the same
// subscriber stream as local mutations (spec.md §4.2).
func (m *Manager) NormalizeServerEvent(ev StateChangeEvent) {
	m.broadcast(ev)
}

// GetBoard lazily initializes the team artifact if absent, then returns
// all tasks (spec.md §4.2 get-board).
func (m *Manager) GetBoard(ctx context.Context, teamID string) opstatus.Result[*Board] {
	board, found, err := m.store.LoadBoard(ctx, teamID)
	if err != nil {
		return opstatus.Fail[*Board](opstatus.KindTransientServerError, err.Error())
	}
	if !found {
		board, err = m.store.CreateBoard(ctx, teamID)
		if err != nil {
			return opstatus.Fail[*Board](opstatus.KindTransientServerError, err.Error())
		}
	}
	return opstatus.Ok(board)
}

// GetTask returns a single task by id.
func (m *Manager) GetTask(ctx context.Context, teamID, taskID string) opstatus.Result[*Task] {
	board, found, err := m.store.LoadBoard(ctx, teamID)
	if err != nil {
		return opstatus.Fail[*Task](opstatus.KindTransientServerError, err.Error())
	}
	if !found {
		return opstatus.Fail[*Task](opstatus.KindNotFound, "board not found")
	}
	t, ok := board.Tasks[taskID]
	if !ok {
		return opstatus.Fail[*Task](opstatus.KindNotFound, "task not found")
	}
	return opstatus.Ok(t)
}

// CreateFields are the caller-supplied fields for CreateTask/CreateSubtask.
type CreateFields struct {
	Title       string
	Description string
	AssigneeID  string
	Priority    Priority
	Labels      []string
}

// CreateTask creates a top-level task. Only coordinators may do so
// (spec.md §4.2).
func (m *Manager) CreateTask(ctx context.Context, teamID, requesterRole string, fields CreateFields) opstatus.Result[*Task] {
	if !roles.IsCoordinator(requesterRole) {
		return opstatus.Fail[*Task](opstatus.KindForbiddenByRole, "only coordinators may create top-level tasks")
	}

	var created *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t := newTask(teamID, fields, "", 0)
		board.Tasks[t.ID] = t
		created = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}

	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: created.ID, Kind: "created", Task: created,
		TeamMessage: fmt.Sprintf("task %s created: %q", created.ID, created.Title)})
	return opstatus.Ok(created)
}

// UpdateDelta is a partial update to apply to an existing task.
type UpdateDelta struct {
	Title       *string
	Description *string
	Status      *Status
	AssigneeID  *string
	Priority    *Priority
	Labels      *[]string
}

// UpdateTask applies delta to task id. Workers may only modify tasks
// assigned to themselves, or claim an unassigned task by self-assignment;
// reviewers (read-only access level) may never write; coordinators may
// modify freely (spec.md §4.2).
func (m *Manager) UpdateTask(ctx context.Context, teamID, taskID, requesterRole, requesterSessionID string, delta UpdateDelta) opstatus.Result[*Task] {
	var updated *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}

		if !canWrite(requesterRole, requesterSessionID, t, delta) {
			return opstatus.New(opstatus.KindForbiddenByRole, "role not permitted to modify this task")
		}

		applyDelta(t, delta)
		updated = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "updated", Task: updated,
		TeamMessage: fmt.Sprintf("task %s updated", taskID)})
	return opstatus.Ok(updated)
}

// canWrite implements the per-role write rule from spec.md §4.2.
func canWrite(requesterRole, requesterSessionID string, t *Task, delta UpdateDelta) bool {
	role, ok := roles.Get(requesterRole)
	if !ok {
		return false
	}
	if roles.IsCoordinator(role.ID) {
		return true
	}
	if role.AccessLevel == roles.AccessReadOnly {
		return false
	}
	// Claim: unassigned task, delta sets AssigneeID to the requester.
	if t.AssigneeID == "" {
		return delta.AssigneeID != nil && *delta.AssigneeID == requesterSessionID
	}
	return t.AssigneeID == requesterSessionID
}

func applyDelta(t *Task, d UpdateDelta) {
	if d.Title != nil {
		t.Title = *d.Title
	}
	if d.Description != nil {
		t.Description = *d.Description
	}
	if d.Status != nil {
		t.Status = *d.Status
	}
	if d.AssigneeID != nil {
		t.AssigneeID = *d.AssigneeID
	}
	if d.Priority != nil {
		t.Priority = *d.Priority
	}
	if d.Labels != nil {
		t.Labels = append([]string(nil), (*d.Labels)...)
	}
	t.UpdatedAt = clockNow()
}

// DeleteTask removes a task. Coordinators only (spec.md §4.2).
func (m *Manager) DeleteTask(ctx context.Context, teamID, taskID, requesterRole string) opstatus.Result[bool] {
	if !roles.IsCoordinator(requesterRole) {
		return opstatus.Fail[bool](opstatus.KindForbiddenByRole, "only coordinators may delete tasks")
	}
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}
		if t.Propagation.CascadeDeleteSubtasks {
			for _, childID := range t.SubtaskIDs {
				delete(board.Tasks, childID)
			}
		}
		if t.ParentTaskID != "" {
			if parent, ok := board.Tasks[t.ParentTaskID]; ok {
				parent.SubtaskIDs = removeID(parent.SubtaskIDs, taskID)
			}
		}
		delete(board.Tasks, taskID)
		return nil
	})
	if err != nil {
		return failFromErr[bool](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "deleted",
		TeamMessage: fmt.Sprintf("task %s deleted", taskID)})
	return opstatus.Ok(true)
}

// CreateSubtask creates a child task under parentID. Fails with
// depth-exceeded when parent.Depth == 3. Inherits assignee and priority
// from parent unless overridden. If the parent was `todo`, it transitions
// to `in-progress` atomically with the subtask's creation (spec.md §4.2).
func (m *Manager) CreateSubtask(ctx context.Context, teamID, parentID string, fields CreateFields) opstatus.Result[*Task] {
	var created *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		parent, ok := board.Tasks[parentID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "parent task not found")
		}
		if parent.Depth >= maxDepth {
			return opstatus.New(opstatus.KindDepthExceeded, "parent is already at max depth")
		}

		if fields.AssigneeID == "" {
			fields.AssigneeID = parent.AssigneeID
		}
		if fields.Priority == "" {
			fields.Priority = parent.Priority
		}

		t := newTask(teamID, fields, parentID, parent.Depth+1)
		board.Tasks[t.ID] = t
		parent.SubtaskIDs = append(parent.SubtaskIDs, t.ID)
		if parent.Status == StatusTodo {
			parent.Status = StatusInProgress
			parent.UpdatedAt = clockNow()
		}
		created = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: created.ID, Kind: "created", Task: created,
		TeamMessage: fmt.Sprintf("subtask %s created under %s: %q", created.ID, parentID, created.Title)})
	return opstatus.Ok(created)
}

// StartTask appends an active execution link for requesterSessionID.
// Fails if another session already holds an active link and the
// requester is not a coordinator. If status was `todo` it becomes
// `in-progress` (spec.md §4.2).
func (m *Manager) StartTask(ctx context.Context, teamID, taskID, requesterSessionID, requesterRole string) opstatus.Result[*Task] {
	var updated *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}
		if active, ok := t.ActiveExecutionLink(); ok && active.SessionID != requesterSessionID && !roles.IsCoordinator(requesterRole) {
			return opstatus.New(opstatus.KindForbiddenByRole, "task already has an active execution link")
		}
		t.ExecutionLinks = append(t.ExecutionLinks, ExecutionLink{
			SessionID: requesterSessionID,
			LinkedAt:  clockNow(),
			Role:      ExecutionPrimary,
			Status:    ExecutionActive,
		})
		if t.Status == StatusTodo {
			t.Status = StatusInProgress
		}
		t.UpdatedAt = clockNow()
		updated = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "updated", Task: updated,
		TeamMessage: fmt.Sprintf("task %s started by %s", taskID, requesterSessionID)})
	return opstatus.Ok(updated)
}

// CompleteTask fails with subtasks-incomplete if any child is not done;
// flips the requester's active link to completed; sets status done;
// propagates completion upward (spec.md §4.2).
func (m *Manager) CompleteTask(ctx context.Context, teamID, taskID, requesterSessionID string) opstatus.Result[*Task] {
	var updated *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}
		for _, childID := range t.SubtaskIDs {
			child := board.Tasks[childID]
			if child != nil && child.Status != StatusDone {
				return opstatus.New(opstatus.KindSubtasksIncomplete, "one or more subtasks are not done")
			}
		}
		for i := range t.ExecutionLinks {
			if t.ExecutionLinks[i].SessionID == requesterSessionID && t.ExecutionLinks[i].Status == ExecutionActive {
				t.ExecutionLinks[i].Status = ExecutionCompleted
			}
		}
		t.Status = StatusDone
		t.UpdatedAt = clockNow()
		propagateCompletion(board, taskID, clockNow())
		updated = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "updated", Task: updated,
		TeamMessage: fmt.Sprintf("task %s completed", taskID)})
	return opstatus.Ok(updated)
}

// ReportBlocker appends a blocker, sets status blocked, and propagates
// has-blocked-child upward (spec.md §4.2).
func (m *Manager) ReportBlocker(ctx context.Context, teamID, taskID string, blockerType BlockerType, description, raisedBy string) opstatus.Result[*Task] {
	var updated *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}
		t.Blockers = append(t.Blockers, Blocker{
			ID:          uuid.NewString(),
			Type:        blockerType,
			Description: description,
			RaisedAt:    clockNow(),
			RaisedBy:    raisedBy,
		})
		t.Status = StatusBlocked
		t.UpdatedAt = clockNow()
		propagateBlockSet(board, taskID, clockNow())
		updated = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "updated", Task: updated,
		TeamMessage: fmt.Sprintf("task %s blocked: %s", taskID, description)})
	return opstatus.Ok(updated)
}

// ResolveBlocker is coordinator-only. It stamps the blocker with
// resolved-at/by/resolution; if the task has no more unresolved blockers,
// status returns to in-progress; re-evaluates each ancestor's
// has-blocked-child from its immediate children (spec.md §4.2).
func (m *Manager) ResolveBlocker(ctx context.Context, teamID, taskID, blockerID, resolution, resolverRole, resolverSessionID string) opstatus.Result[*Task] {
	if !roles.IsCoordinator(resolverRole) {
		return opstatus.Fail[*Task](opstatus.KindForbiddenByRole, "only coordinators may resolve blockers")
	}
	var updated *Task
	err := m.mutate(ctx, teamID, func(board *Board) error {
		t, ok := board.Tasks[taskID]
		if !ok {
			return opstatus.New(opstatus.KindNotFound, "task not found")
		}
		found := false
		now := clockNow()
		for i := range t.Blockers {
			if t.Blockers[i].ID == blockerID {
				t.Blockers[i].ResolvedAt = &now
				t.Blockers[i].ResolvedBy = resolverSessionID
				t.Blockers[i].Resolution = resolution
				found = true
			}
		}
		if !found {
			return opstatus.New(opstatus.KindNotFound, "blocker not found")
		}
		if len(t.UnresolvedBlockers()) == 0 {
			t.Status = StatusInProgress
		}
		t.UpdatedAt = now
		propagateBlockClear(board, taskID, now)
		updated = t
		return nil
	})
	if err != nil {
		return failFromErr[*Task](err)
	}
	m.broadcast(StateChangeEvent{TeamID: teamID, TaskID: taskID, Kind: "updated", Task: updated,
		TeamMessage: fmt.Sprintf("blocker %s on task %s resolved", blockerID, taskID)})
	return opstatus.Ok(updated)
}

// ListSubtasks returns the direct (or, if includeNested, transitive)
// children of parentID.
func (m *Manager) ListSubtasks(ctx context.Context, teamID, parentID string, includeNested bool) opstatus.Result[[]*Task] {
	board, found, err := m.store.LoadBoard(ctx, teamID)
	if err != nil {
		return opstatus.Fail[[]*Task](opstatus.KindTransientServerError, err.Error())
	}
	if !found {
		return opstatus.Fail[[]*Task](opstatus.KindNotFound, "board not found")
	}
	parent, ok := board.Tasks[parentID]
	if !ok {
		return opstatus.Fail[[]*Task](opstatus.KindNotFound, "parent task not found")
	}

	var out []*Task
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			child, ok := board.Tasks[id]
			if !ok {
				continue
			}
			out = append(out, child)
			if includeNested {
				walk(child.SubtaskIDs)
			}
		}
	}
	walk(parent.SubtaskIDs)
	return opstatus.Ok(out)
}

// GetTaskTree returns rootID and its full descendant tree.
func (m *Manager) GetTaskTree(ctx context.Context, teamID, rootID string) opstatus.Result[[]*Task] {
	res := m.ListSubtasks(ctx, teamID, rootID, true)
	if !res.OK {
		return res
	}
	root := m.GetTask(ctx, teamID, rootID)
	if !root.OK {
		return opstatus.Fail[[]*Task](root.Err.Kind, root.Err.Message)
	}
	return opstatus.Ok(append([]*Task{root.Value}, res.Value...))
}

// mutate runs fn against a fresh board load, retrying up to MaxRetries
// times on version-conflict (spec.md §4.2 Concurrency). On exhaustion it
// returns conflict-unresolved and makes no further write attempt.
func (m *Manager) mutate(ctx context.Context, teamID string, fn func(*Board) error) error {
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		board, found, err := m.store.LoadBoard(ctx, teamID)
		if err != nil {
			return opstatus.New(opstatus.KindTransientServerError, err.Error())
		}
		if !found {
			board, err = m.store.CreateBoard(ctx, teamID)
			if err != nil {
				return opstatus.New(opstatus.KindTransientServerError, err.Error())
			}
		}

		if err := fn(board); err != nil {
			return err
		}

		_, err = m.store.SaveBoard(ctx, board, board.Version)
		if err == nil {
			return nil
		}
		if errors.Is(err, opstatus.ErrVersionConflict) {
			slog.Warn("task board version conflict, retrying", "team_id", teamID, "attempt", attempt)
			continue
		}
		return opstatus.New(opstatus.KindTransientServerError, err.Error())
	}
	return opstatus.New(opstatus.KindConflictUnresolved, "exhausted retries reconciling board version")
}

func failFromErr[T any](err error) opstatus.Result[T] {
	var opErr *opstatus.OpError
	if errors.As(err, &opErr) {
		return opstatus.Result[T]{OK: false, Err: opErr}
	}
	return opstatus.Fail[T](opstatus.KindTransientServerError, err.Error())
}

func newTask(teamID string, fields CreateFields, parentID string, depth int) *Task {
	now := clockNow()
	priority := fields.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:           uuid.NewString(),
		TeamID:       teamID,
		Title:        fields.Title,
		Description:  fields.Description,
		Status:       StatusTodo,
		AssigneeID:   fields.AssigneeID,
		Priority:     priority,
		CreatedAt:    now,
		UpdatedAt:    now,
		ParentTaskID: parentID,
		Depth:        depth,
		Labels:       append([]string(nil), fields.Labels...),
		Approval:     ApprovalNotRequired,
		Propagation:  DefaultStatusPropagation(),
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
