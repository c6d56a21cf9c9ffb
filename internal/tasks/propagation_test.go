package tasks

import (
	"testing"
	"time"
)

func boardWithTree() *Board {
	root := &Task{ID: "root", SubtaskIDs: []string{"c1", "c2"}, Propagation: DefaultStatusPropagation(), Status: StatusInProgress}
	c1 := &Task{ID: "c1", ParentTaskID: "root", Propagation: DefaultStatusPropagation(), Status: StatusInProgress}
	c2 := &Task{ID: "c2", ParentTaskID: "root", Propagation: DefaultStatusPropagation(), Status: StatusInProgress}
	return &Board{
		TeamID: "t1",
		Tasks:  map[string]*Task{"root": root, "c1": c1, "c2": c2},
	}
}

func TestPropagateCompletionAllSiblingsDone(t *testing.T) {
	b := boardWithTree()
	b.Tasks["c1"].Status = StatusDone
	b.Tasks["c2"].Status = StatusDone

	propagateCompletion(b, "c2", time.Now())

	if b.Tasks["root"].Status != StatusReview {
		t.Errorf("root status = %q, want %q", b.Tasks["root"].Status, StatusReview)
	}
}

func TestPropagateCompletionOneSiblingNotDone(t *testing.T) {
	b := boardWithTree()
	b.Tasks["c1"].Status = StatusDone
	// c2 left in-progress

	propagateCompletion(b, "c1", time.Now())

	if b.Tasks["root"].Status != StatusInProgress {
		t.Errorf("root status should be unchanged, got %q", b.Tasks["root"].Status)
	}
}

func TestPropagateCompletionStopsWhenFlagFalse(t *testing.T) {
	b := boardWithTree()
	b.Tasks["root"].Propagation.AutoCompleteParent = false
	b.Tasks["c1"].Status = StatusDone
	b.Tasks["c2"].Status = StatusDone

	propagateCompletion(b, "c2", time.Now())

	if b.Tasks["root"].Status == StatusReview {
		t.Error("propagation should not occur when auto-complete-parent is false")
	}
}

func TestPropagateCompletionRecursesUpward(t *testing.T) {
	grandparent := &Task{ID: "gp", SubtaskIDs: []string{"root"}, Propagation: DefaultStatusPropagation(), Status: StatusInProgress}
	b := boardWithTree()
	b.Tasks["root"].ParentTaskID = "gp"
	b.Tasks["gp"] = grandparent
	b.Tasks["c1"].Status = StatusDone
	b.Tasks["c2"].Status = StatusDone
	b.Tasks["root"].Status = StatusDone // pretend root itself just completed

	propagateCompletion(b, "root", time.Now())

	if b.Tasks["gp"].Status != StatusReview {
		t.Errorf("grandparent status = %q, want %q (propagation should recurse)", b.Tasks["gp"].Status, StatusReview)
	}
}

func TestPropagateBlockSet(t *testing.T) {
	b := boardWithTree()
	b.Tasks["c1"].Status = StatusBlocked

	propagateBlockSet(b, "c1", time.Now())

	if !b.Tasks["root"].HasBlockedChild {
		t.Error("expected root.HasBlockedChild = true")
	}
}

func TestPropagateBlockSetStopsWhenFlagFalse(t *testing.T) {
	b := boardWithTree()
	b.Tasks["root"].Propagation.BlockParentOnBlocked = false
	b.Tasks["c1"].Status = StatusBlocked

	propagateBlockSet(b, "c1", time.Now())

	if b.Tasks["root"].HasBlockedChild {
		t.Error("expected root.HasBlockedChild to remain false")
	}
}

func TestPropagateBlockClearFixpoint(t *testing.T) {
	b := boardWithTree()
	b.Tasks["c1"].Status = StatusBlocked
	b.Tasks["root"].HasBlockedChild = true

	// c1 no longer blocked; re-derive from children.
	b.Tasks["c1"].Status = StatusInProgress
	propagateBlockClear(b, "c1", time.Now())

	if b.Tasks["root"].HasBlockedChild {
		t.Error("expected root.HasBlockedChild to clear once no child is blocked")
	}
}

func TestPropagateBlockClearKeepsFlagIfSiblingStillBlocked(t *testing.T) {
	b := boardWithTree()
	b.Tasks["c1"].Status = StatusBlocked
	b.Tasks["c2"].Status = StatusBlocked
	b.Tasks["root"].HasBlockedChild = true

	b.Tasks["c1"].Status = StatusInProgress // only c1 clears, c2 still blocked
	propagateBlockClear(b, "c1", time.Now())

	if !b.Tasks["root"].HasBlockedChild {
		t.Error("expected root.HasBlockedChild to remain true while c2 is still blocked")
	}
}
