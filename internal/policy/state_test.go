package policy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func strp(s string) *string { return &s }
func modep(m Mode) *Mode    { return &m }

func TestApplyOnlyPresentFieldsChange(t *testing.T) {
	s := New()
	s.Apply(Overrides{ModelID: strp("model-a"), RoleID: strp("builder")})

	snap := s.Apply(Overrides{RoleID: strp("reviewer")})
	if snap.ModelID != "model-a" {
		t.Errorf("ModelID should be unchanged, got %q", snap.ModelID)
	}
	if snap.RoleID != "reviewer" {
		t.Errorf("RoleID = %q, want reviewer", snap.RoleID)
	}
}

func TestApplyModeOverride(t *testing.T) {
	s := New()
	snap := s.Apply(Overrides{Mode: modep(ModeBypassPermissions)})
	if snap.Mode != ModeBypassPermissions {
		t.Errorf("Mode = %q, want %q", snap.Mode, ModeBypassPermissions)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New()
	tools := []string{"read_file"}
	s.Apply(Overrides{AllowedTools: &tools})
	snap1 := s.Snapshot()

	tools[0] = "mutated"
	snap2 := s.Snapshot()

	if snap1.AllowedTools[0] != "read_file" {
		t.Errorf("earlier snapshot mutated: %v", snap1.AllowedTools)
	}
	if snap2.AllowedTools[0] != "read_file" {
		t.Errorf("state mutated by caller's slice: %v", snap2.AllowedTools)
	}
}

// TestTurnCapturesSnapshotAtEnqueueNotExecution backs SPEC_FULL.md §8's
// "policy-snapshot-at-enqueue" universal property: a Turn's bound
// Snapshot must equal the state at NewTurn time byte-for-byte, and stay
// that way no matter what Overrides are applied to the State afterward.
func TestTurnCapturesSnapshotAtEnqueueNotExecution(t *testing.T) {
	s := New()
	s.Apply(Overrides{RoleID: strp("builder"), ModelID: strp("model-a")})
	want := s.Snapshot()

	turn := NewTurn("do the thing", want, KindAppend)

	s.Apply(Overrides{RoleID: strp("reviewer"), ModelID: strp("model-b")})

	if diff := cmp.Diff(want, turn.Policy); diff != "" {
		t.Errorf("turn.Policy drifted from its enqueue-time snapshot (-want +got):\n%s", diff)
	}
}

func TestFingerprintStableUnderSliceOrder(t *testing.T) {
	a := Snapshot{Mode: ModeDefault, AllowedTools: []string{"a", "b"}}
	b := Snapshot{Mode: ModeDefault, AllowedTools: []string{"b", "a"}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint should not depend on slice element order")
	}
}

func TestFingerprintDiffersOnModeChange(t *testing.T) {
	a := Snapshot{Mode: ModeDefault}
	b := Snapshot{Mode: ModePlan}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("fingerprint should differ when mode differs")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	s := Snapshot{Mode: ModeAcceptEdits, RoleID: "builder", TeamID: "t1"}
	if Fingerprint(s) != Fingerprint(s) {
		t.Error("fingerprint must be deterministic for identical input")
	}
}
