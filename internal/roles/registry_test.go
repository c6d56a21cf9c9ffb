package roles

import "testing"

func TestCanonicalizeAliases(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"qa", "qa"},
		{"qa-engineer", "qa"},
		{"QA_Engineer", "qa"},
		{"MM", "master"},
		{"mm", "master"},
		{"Builder", "builder"},
	}
	for _, c := range cases {
		got, ok := Canonicalize(c.in)
		if !ok {
			t.Fatalf("Canonicalize(%q): expected ok", c.in)
		}
		if got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalizeUnknown(t *testing.T) {
	if _, ok := Canonicalize("not-a-role"); ok {
		t.Fatal("expected unknown role to fail canonicalization")
	}
}

func TestCoordinatorsAndWorkersDisjoint(t *testing.T) {
	for _, c := range Coordinators() {
		if IsWorker(c) {
			t.Errorf("role %q is in both coordinators and workers", c)
		}
	}
}

func TestIsCoordinatorIsWorker(t *testing.T) {
	if !IsCoordinator("master") {
		t.Error("master should be a coordinator")
	}
	if !IsWorker("builder") {
		t.Error("builder should be a worker")
	}
	if IsCoordinator("builder") {
		t.Error("builder should not be a coordinator")
	}
	if IsWorker("unknown-role-xyz") {
		t.Error("unknown role should not be a worker")
	}
}

func TestReadOnlyRolesHaveAccessLevel(t *testing.T) {
	for _, roleID := range []string{"reviewer", "qa", "observer", "researcher", "scout"} {
		r, ok := Get(roleID)
		if !ok {
			t.Fatalf("role %q missing from registry", roleID)
		}
		if r.AccessLevel != AccessReadOnly {
			t.Errorf("role %q: expected read-only access, got %q", roleID, r.AccessLevel)
		}
	}
}

func TestRegisterAliasUnknownCanonicalIsNoop(t *testing.T) {
	RegisterAlias("ghost-alias", "no-such-role")
	if _, ok := Canonicalize("ghost-alias"); ok {
		t.Fatal("alias to an unknown canonical role should not register")
	}
}

func TestAllReturnsEveryRole(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("expected a non-empty role registry")
	}
	seen := make(map[string]bool)
	for _, r := range all {
		seen[r.ID] = true
	}
	for _, want := range []string{"master", "builder", "qa", "reviewer", "documenter"} {
		if !seen[want] {
			t.Errorf("expected role %q in All()", want)
		}
	}
}
