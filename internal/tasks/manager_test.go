package tasks

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore())
}

func TestCreateTaskRequiresCoordinator(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	res := m.CreateTask(ctx, "team1", "builder", CreateFields{Title: "x"})
	if res.OK {
		t.Fatal("expected forbidden-by-role for non-coordinator")
	}
	if res.Err.Kind != opstatus.KindForbiddenByRole {
		t.Errorf("kind = %q, want %q", res.Err.Kind, opstatus.KindForbiddenByRole)
	}
}

func TestCreateTaskByCoordinator(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	res := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "build the thing"})
	if !res.OK {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Value.Status != StatusTodo {
		t.Errorf("status = %q, want todo", res.Value.Status)
	}
}

func TestCreateSubtaskDepthExceeded(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	d1 := m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "d1"})
	if !d1.OK {
		t.Fatalf("unexpected error: %v", d1.Err)
	}
	d2 := m.CreateSubtask(ctx, "team1", d1.Value.ID, CreateFields{Title: "d2"})
	if !d2.OK {
		t.Fatalf("unexpected error: %v", d2.Err)
	}
	d3 := m.CreateSubtask(ctx, "team1", d2.Value.ID, CreateFields{Title: "d3"})
	if !d3.OK {
		t.Fatalf("unexpected error: %v", d3.Err)
	}
	// d3 is now at depth 3 (root=0,d1=1,d2=2,d3=3); its subtask should fail.
	d4 := m.CreateSubtask(ctx, "team1", d3.Value.ID, CreateFields{Title: "d4"})
	if d4.OK {
		t.Fatal("expected depth-exceeded")
	}
	if d4.Err.Kind != opstatus.KindDepthExceeded {
		t.Errorf("kind = %q, want %q", d4.Err.Kind, opstatus.KindDepthExceeded)
	}
}

func TestCreateSubtaskParentTransitionsToInProgress(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "child"})

	got := m.GetTask(ctx, "team1", root.Value.ID)
	if !got.OK {
		t.Fatalf("unexpected error: %v", got.Err)
	}
	if got.Value.Status != StatusInProgress {
		t.Errorf("parent status = %q, want in-progress", got.Value.Status)
	}
}

func TestUpdateTaskWorkerClaimUnassigned(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})

	sessionID := "session-abc"
	res := m.UpdateTask(ctx, "team1", root.Value.ID, "builder", sessionID, UpdateDelta{AssigneeID: &sessionID})
	if !res.OK {
		t.Fatalf("expected claim to succeed: %v", res.Err)
	}
	if res.Value.AssigneeID != sessionID {
		t.Errorf("assignee = %q, want %q", res.Value.AssigneeID, sessionID)
	}
}

func TestUpdateTaskWorkerCannotModifyOthersTask(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	other := "session-other"
	m.UpdateTask(ctx, "team1", root.Value.ID, "builder", other, UpdateDelta{AssigneeID: &other})

	newTitle := "hijacked"
	res := m.UpdateTask(ctx, "team1", root.Value.ID, "builder", "session-mine", UpdateDelta{Title: &newTitle})
	if res.OK {
		t.Fatal("expected forbidden-by-role")
	}
}

func TestUpdateTaskReviewerIsReadOnly(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	title := "new title"
	res := m.UpdateTask(ctx, "team1", root.Value.ID, "reviewer", "session-x", UpdateDelta{Title: &title})
	if res.OK {
		t.Fatal("expected reviewer to be denied write access")
	}
}

func TestCompleteTaskSubtasksIncomplete(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "child"})

	res := m.CompleteTask(ctx, "team1", root.Value.ID, "session-x")
	if res.OK {
		t.Fatal("expected subtasks-incomplete")
	}
	if res.Err.Kind != opstatus.KindSubtasksIncomplete {
		t.Errorf("kind = %q, want %q", res.Err.Kind, opstatus.KindSubtasksIncomplete)
	}
}

func TestCompleteTaskPropagatesToReview(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	child := m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "child"})

	res := m.CompleteTask(ctx, "team1", child.Value.ID, "session-x")
	if !res.OK {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	got := m.GetTask(ctx, "team1", root.Value.ID)
	if !got.OK {
		t.Fatalf("unexpected error: %v", got.Err)
	}
	if got.Value.Status != StatusReview {
		t.Errorf("root status = %q, want review", got.Value.Status)
	}
}

func TestReportAndResolveBlockerPropagation(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	child := m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "child"})

	blocked := m.ReportBlocker(ctx, "team1", child.Value.ID, BlockerTechnical, "need access", "session-x")
	if !blocked.OK {
		t.Fatalf("unexpected error: %v", blocked.Err)
	}
	if blocked.Value.Status != StatusBlocked {
		t.Errorf("status = %q, want blocked", blocked.Value.Status)
	}

	gotRoot := m.GetTask(ctx, "team1", root.Value.ID)
	if !gotRoot.Value.HasBlockedChild {
		t.Error("expected root.HasBlockedChild = true after blocker reported")
	}

	blockerID := blocked.Value.Blockers[0].ID
	resolved := m.ResolveBlocker(ctx, "team1", child.Value.ID, blockerID, "granted access", "master", "session-coord")
	if !resolved.OK {
		t.Fatalf("unexpected error: %v", resolved.Err)
	}
	if resolved.Value.Status != StatusInProgress {
		t.Errorf("status after resolve = %q, want in-progress", resolved.Value.Status)
	}

	gotRootAfter := m.GetTask(ctx, "team1", root.Value.ID)
	if gotRootAfter.Value.HasBlockedChild {
		t.Error("expected root.HasBlockedChild to clear after blocker resolved")
	}
}

func TestResolveBlockerRequiresCoordinator(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	blocked := m.ReportBlocker(ctx, "team1", root.Value.ID, BlockerQuestion, "why?", "session-x")

	res := m.ResolveBlocker(ctx, "team1", root.Value.ID, blocked.Value.Blockers[0].ID, "because", "builder", "session-x")
	if res.OK {
		t.Fatal("expected forbidden-by-role for non-coordinator resolving a blocker")
	}
}

func TestDeleteTaskRequiresCoordinator(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	res := m.DeleteTask(ctx, "team1", root.Value.ID, "builder")
	if res.OK {
		t.Fatal("expected forbidden-by-role")
	}
}

func TestGetBoardLazyInitializes(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	res := m.GetBoard(ctx, "brand-new-team")
	if !res.OK {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Value.TeamID != "brand-new-team" {
		t.Errorf("team id = %q", res.Value.TeamID)
	}
	if len(res.Value.Columns) != 4 {
		t.Errorf("expected 4 default columns, got %d", len(res.Value.Columns))
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	received := make(chan StateChangeEvent, 1)
	m.Subscribe("test-sub", func(ev StateChangeEvent) { received <- ev })

	m.CreateTask(ctx, "team1", "master", CreateFields{Title: "x"})

	select {
	case ev := <-received:
		if ev.Kind != "created" {
			t.Errorf("kind = %q, want created", ev.Kind)
		}
	default:
		t.Fatal("expected a broadcast event")
	}
}

func TestListSubtasksIncludeNested(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	root := m.CreateTask(ctx, "team1", "master", CreateFields{Title: "root"})
	child := m.CreateSubtask(ctx, "team1", root.Value.ID, CreateFields{Title: "child"})
	m.CreateSubtask(ctx, "team1", child.Value.ID, CreateFields{Title: "grandchild"})

	shallow := m.ListSubtasks(ctx, "team1", root.Value.ID, false)
	if len(shallow.Value) != 1 {
		t.Errorf("shallow listing: got %d, want 1", len(shallow.Value))
	}

	deep := m.ListSubtasks(ctx, "team1", root.Value.ID, true)
	if len(deep.Value) != 2 {
		t.Errorf("deep listing: got %d, want 2", len(deep.Value))
	}
}
