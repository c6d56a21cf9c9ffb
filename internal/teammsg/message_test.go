package teammsg

import "testing"

func TestFilterTeamMismatchDrops(t *testing.T) {
	m := Message{TeamID: "other-team", Type: TypeChat}
	d := Filter(m, "builder", "s1", "team-a", nil)
	if d.Respond {
		t.Fatal("expected drop on team mismatch")
	}
}

func TestFilterCoordinatorAlwaysResponds(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "builder"}
	d := Filter(m, "master", "s1", "t", nil)
	if !d.Respond {
		t.Fatal("expected coordinator to always respond")
	}
}

// S5 from spec.md §8.
func TestFilterWorkerIgnoresUnrelatedChat(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "framer", Content: "just chatting"}
	d := Filter(m, "builder", "s1", "t", nil)
	if d.Respond {
		t.Fatal("expected worker to ignore unrelated chat from a non-coordinator peer")
	}
}

func TestFilterWorkerRespondsToTaskUpdate(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeTaskUpdate, FromRole: "framer"}
	d := Filter(m, "builder", "s1", "t", nil)
	if !d.Respond {
		t.Fatal("expected worker to respond to task-update regardless of sender")
	}
}

func TestFilterWorkerRespondsToMention(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "framer", Content: "@builder please help"}
	d := Filter(m, "builder", "s1", "t", nil)
	if !d.Respond || !d.Mentioned {
		t.Fatal("expected worker to respond to a mention with Mentioned=true")
	}
}

func TestFilterWorkerRespondsToCoordinator(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "master", Content: "status?"}
	d := Filter(m, "builder", "s1", "t", nil)
	if !d.Respond {
		t.Fatal("expected worker to respond to a coordinator message")
	}
}

func TestFilterWorkerRespondsToUser(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "", Content: "hello"}
	d := Filter(m, "builder", "s1", "t", nil)
	if !d.Respond {
		t.Fatal("expected worker to respond to a user message (empty from-role)")
	}
}

func TestFilterCollaborationMapWidensWorkerSet(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "reviewer", Content: "fyi"}
	collab := CollaboratorMap{"builder": {"reviewer"}}
	d := Filter(m, "builder", "s1", "t", collab)
	if !d.Respond {
		t.Fatal("expected collaboration map to widen the worker's listen set")
	}
	without := Filter(m, "builder", "s1", "t", nil)
	if without.Respond {
		t.Fatal("expected no response without the collaboration map entry")
	}
}

func TestFilterUnclassifiedRoleRespondsToUrgent(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "builder", Metadata: map[string]string{"priority": "urgent"}}
	d := Filter(m, "mystery-role", "s1", "t", nil)
	if !d.Respond {
		t.Fatal("expected unclassified role to respond to urgent priority")
	}
}

func TestFilterUnclassifiedRoleIgnoresOrdinaryChat(t *testing.T) {
	m := Message{TeamID: "t", Type: TypeChat, FromRole: "builder"}
	d := Filter(m, "mystery-role", "s1", "t", nil)
	if d.Respond {
		t.Fatal("expected unclassified role to ignore ordinary chat")
	}
}

func TestFormatAddsMentionAndUrgentBanners(t *testing.T) {
	m := Message{Content: "hi", FromRole: "framer", Metadata: map[string]string{"priority": "urgent"}}
	d := Decision{Mentioned: true}
	out := Format(m, d)
	if out != "[MENTIONED] [URGENT] (framer) hi" {
		t.Errorf("got %q", out)
	}
}
