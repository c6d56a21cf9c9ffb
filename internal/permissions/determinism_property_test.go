package permissions

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nextlevelbuilder/squad/internal/roles"
)

// TestCheckIsDeterministic backs SPEC_FULL.md §8's "permission
// determinism" universal property (spec.md §8): Check is a pure function
// of the compiled Role Registry and its own arguments, so the same
// (roleID, tool, extraDenied) triple must always yield the same Decision,
// across any number of repeated calls and regardless of call order
// relative to other (roleID, tool) pairs.
func TestCheckIsDeterministic(t *testing.T) {
	roleIDs := make([]interface{}, 0, len(roles.All()))
	for _, r := range roles.All() {
		roleIDs = append(roleIDs, r.ID)
	}
	roleIDs = append(roleIDs, "not-a-role")

	tools := []interface{}{"read_file", "edit", "run_command", "delegate_task", "not-a-real-tool"}

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated Check calls with the same inputs agree", prop.ForAll(
		func(roleID, tool string) bool {
			first := Check(roleID, tool, nil)
			for i := 0; i < 5; i++ {
				if got := Check(roleID, tool, nil); got != first {
					return false
				}
			}
			return true
		},
		gen.OneConstOf(roleIDs...).Map(func(v interface{}) string { return v.(string) }),
		gen.OneConstOf(tools...).Map(func(v interface{}) string { return v.(string) }),
	))

	properties.Property("an extraDenied entry naming no real tool never changes the verdict", prop.ForAll(
		func(roleID, tool, unrelatedDenied string) bool {
			without := Check(roleID, tool, nil)
			with := Check(roleID, tool, []string{unrelatedDenied + "-never-a-real-tool-suffix"})
			return without == with
		},
		gen.OneConstOf(roleIDs...).Map(func(v interface{}) string { return v.(string) }),
		gen.OneConstOf(tools...).Map(func(v interface{}) string { return v.(string) }),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
