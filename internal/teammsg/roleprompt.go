package teammsg

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/squad/internal/permissions"
	"github.com/nextlevelbuilder/squad/internal/roles"
)

// nextStepGuidance returns the role-category-specific workflow hint from
// spec.md §4.4's role-prompt generation rule.
func nextStepGuidance(category roles.Category) string {
	switch category {
	case roles.CategoryCoordination, roles.CategoryProduct:
		return "list-tasks -> create-task -> announce"
	case roles.CategoryImplementation:
		return "list-tasks -> update-task(in-progress) -> work -> update-task(done)"
	case roles.CategoryReview:
		return "list-tasks -> read-only review loop -> report-blocker if it should not ship"
	case roles.CategoryResearch:
		return "list-tasks -> investigate -> report findings as a task comment"
	case roles.CategoryDesign:
		return "list-tasks -> design -> attach artifacts -> update-task(done)"
	case roles.CategoryDocumentation:
		return "list-tasks -> update docs alongside the change -> update-task(done)"
	default:
		return "list-tasks -> respond as appropriate"
	}
}

// RolePrompt composes the role-prompt text spec.md §4.4 specifies:
// header, team id, role display name, numbered responsibilities,
// bulleted protocol, and next-step guidance.
func RolePrompt(roleID, teamID string) string {
	role, ok := roles.Get(roleID)
	if !ok {
		return fmt.Sprintf("[SYSTEM: TEAM CONTEXT]\nteam: %s\nrole: unknown (%s)", teamID, roleID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[SYSTEM: TEAM CONTEXT]\n")
	fmt.Fprintf(&b, "team: %s\n", teamID)
	fmt.Fprintf(&b, "role: %s\n\n", role.DisplayName)

	b.WriteString("Responsibilities:\n")
	for i, r := range role.Responsibilities {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}

	b.WriteString("\nProtocol:\n")
	for _, p := range role.Protocol {
		fmt.Fprintf(&b, "- %s\n", p)
	}

	fmt.Fprintf(&b, "\nNext steps: %s\n", nextStepGuidance(role.Category))
	return b.String()
}

// EffectivePolicy is the result of get-role-permissions (spec.md §4.4):
// the resolved permission mode and the merged disallowed-tool set.
type EffectivePolicy struct {
	Mode            roles.PermissionMode
	DisallowedTools []string
}

// GetRolePermissions implements spec.md §4.4's get-role-permissions:
// if requestedMode is bypass-permissions, keep it (explicit opt-in);
// otherwise use the role's permission mode where available, else
// default; union the role's denied-tool list into callSiteDisallowed.
func GetRolePermissions(roleID string, requestedMode roles.PermissionMode, callSiteDisallowed []string) EffectivePolicy {
	mode := roles.ModeDefault
	if requestedMode == roles.ModeBypassPermissions {
		mode = roles.ModeBypassPermissions
	} else if role, ok := roles.Get(roleID); ok {
		mode = role.PermissionMode
	}

	merged := append([]string{}, callSiteDisallowed...)
	if perms, ok := permissions.GetRolePermissions(roleID); ok {
		merged = unionStrings(merged, perms.DeniedTools)
	}

	return EffectivePolicy{Mode: mode, DisallowedTools: merged}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
