// Package tasks implements the Task State Manager (spec.md §4.2): a
// shared, server-mediated Kanban board cached locally, with a task tree
// (depth <= 3), execution links, blockers, and upward status/blocker
// propagation under optimistic concurrency.
//
// Grounded on the teacher's internal/store/pg/teams_tasks.go (CAS-style
// `UPDATE ... WHERE status = $expected` writes, transactional cascading
// unblock) and internal/store/pg/teams.go (team/board lifecycle), but
// reshaped from a flat owner/blocked-by task list into the spec's task
// *tree* with depth, execution links, and bidirectional has-blocked-child
// propagation, which the teacher's flat model never needed.
package tasks

import "time"

// Status is a Task's position on the board.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Priority orders tasks for display and triage.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ApprovalStatus tracks sign-off independent of the Kanban column.
type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalNotRequired ApprovalStatus = "not_required"
)

// BlockerType categorizes why a task is blocked.
type BlockerType string

const (
	BlockerDependency BlockerType = "dependency"
	BlockerQuestion   BlockerType = "question"
	BlockerResource   BlockerType = "resource"
	BlockerTechnical  BlockerType = "technical"
)

// ExecutionRole distinguishes the primary worker on a task from those
// merely assisting.
type ExecutionRole string

const (
	ExecutionPrimary    ExecutionRole = "primary"
	ExecutionSupporting ExecutionRole = "supporting"
)

// ExecutionStatus tracks one session's involvement in a task.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionAbandoned ExecutionStatus = "abandoned"
)

// Blocker is one raised-and-possibly-resolved obstacle on a task.
type Blocker struct {
	ID          string
	Type        BlockerType
	Description string
	RaisedAt    time.Time
	RaisedBy    string
	ResolvedAt  *time.Time
	ResolvedBy  string
	Resolution  string
}

// Unresolved reports whether the blocker still has no resolution stamp.
func (b Blocker) Unresolved() bool { return b.ResolvedAt == nil }

// ExecutionLink records one session's claim on a task.
type ExecutionLink struct {
	SessionID string
	LinkedAt  time.Time
	Role      ExecutionRole
	Status    ExecutionStatus
}

// StatusPropagation are the per-task flags governing how this task's
// transitions affect its parent (spec.md §3).
type StatusPropagation struct {
	AutoCompleteParent    bool
	BlockParentOnBlocked  bool
	CascadeDeleteSubtasks bool
}

// DefaultStatusPropagation matches spec.md §3's stated default
// {true, true, false}.
func DefaultStatusPropagation() StatusPropagation {
	return StatusPropagation{AutoCompleteParent: true, BlockParentOnBlocked: true, CascadeDeleteSubtasks: false}
}

// Task is one node of the Kanban board's task tree.
type Task struct {
	ID             string
	TeamID         string
	Title          string
	Description    string
	Status         Status
	AssigneeID     string // "" = unassigned
	ReporterID     string
	Priority       Priority
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ParentTaskID   string // "" = root
	SubtaskIDs     []string
	Depth          int
	ExecutionLinks []ExecutionLink
	Blockers       []Blocker
	HasBlockedChild bool
	Labels         []string
	Approval       ApprovalStatus
	Propagation    StatusPropagation
}

// UnresolvedBlockers returns the blockers on t that have no resolution.
func (t *Task) UnresolvedBlockers() []Blocker {
	var out []Blocker
	for _, b := range t.Blockers {
		if b.Unresolved() {
			out = append(out, b)
		}
	}
	return out
}

// ActiveExecutionLink returns the task's active execution link, if any.
func (t *Task) ActiveExecutionLink() (ExecutionLink, bool) {
	for _, l := range t.ExecutionLinks {
		if l.Status == ExecutionActive {
			return l, true
		}
	}
	return ExecutionLink{}, false
}

// Column is one ordered Kanban column.
type Column struct {
	ID    string
	Title string
}

// DefaultColumns matches spec.md §3's stated defaults.
func DefaultColumns() []Column {
	return []Column{
		{ID: "todo", Title: "To Do"},
		{ID: "in-progress", Title: "In Progress"},
		{ID: "review", Title: "Review"},
		{ID: "done", Title: "Done"},
	}
}

// Board is the server-owned, locally cached Kanban board for one team.
type Board struct {
	TeamID  string
	Columns []Column
	Tasks   map[string]*Task
	// Version is the optimistic-concurrency token: every accepted write
	// increments it by one.
	Version uint64
}

const maxDepth = 3

// MaxRetries bounds the optimistic-concurrency retry loop (spec.md §4.2:
// "bounded retries, default 2").
const MaxRetries = 2
