// Package permissions implements the Permission Engine: a pure function
// that decides whether a role may invoke a tool, grounded on the layered
// allow/deny evaluation in tools.PolicyEngine but collapsed to the single
// per-call decision spec.md §4.4 requires.
package permissions

import (
	"sync"

	"github.com/nextlevelbuilder/squad/internal/roles"
)

// Reason is a stable machine-readable explanation for a Decision. Callers
// may match on these strings; they must never change once shipped.
type Reason string

const (
	ReasonUnknownRole      Reason = "unknown-role"
	ReasonRoleExplicitDeny Reason = "role-explicit-deny"
	ReasonRoleAccessLevel  Reason = "role-access-level"
	ReasonRoleDisallowed   Reason = "role-disallowed-list"
	ReasonDefaultAllow     Reason = "default-allow"
)

// Decision is the immutable result of a permission check.
type Decision struct {
	Allow  bool
	Reason Reason
}

func allow(r Reason) Decision { return Decision{Allow: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allow: false, Reason: r} }

// Check decides whether roleID may invoke tool. It is a pure function of
// the compiled Role Registry and its arguments — no I/O, no clock, no
// hidden state — so the same (roleID, tool) pair always yields the same
// Decision (spec.md §8, determinism property).
//
// Evaluation order (first match wins):
//  1. Unknown role                          -> deny, unknown-role
//  2. Role's explicit per-tool override      -> that override's verdict
//  3. Tool in the role's own DeniedTools     -> deny, role-explicit-deny
//  4. Role is read-only and tool is in the
//     read-only default-deny set             -> deny, role-access-level
//  5. Tool in an extra disallowed-tools set
//     supplied by the caller (session-level
//     denied-tools policy layered on top)    -> deny, role-disallowed-list
//  6. otherwise                              -> allow, default-allow
func Check(roleID, tool string, extraDenied []string) Decision {
	role, ok := roles.Get(roleID)
	if !ok {
		return deny(ReasonUnknownRole)
	}

	if override, ok := role.ToolOverrides[tool]; ok {
		if override {
			return allow(ReasonDefaultAllow)
		}
		return deny(ReasonRoleExplicitDeny)
	}

	for _, t := range role.DeniedTools {
		if t == tool {
			return deny(ReasonRoleExplicitDeny)
		}
	}

	if role.AccessLevel == roles.AccessReadOnly {
		for _, t := range roles.ReadOnlyDefaultDeniedTools() {
			if t == tool {
				return deny(ReasonRoleAccessLevel)
			}
		}
	}

	for _, t := range extraDenied {
		if t == tool {
			return deny(ReasonRoleDisallowed)
		}
	}

	return allow(ReasonDefaultAllow)
}

// RolePermissions is the snapshot returned by GetRolePermissions, used to
// show a team member (or a debugging operator) the effective rules for a
// role without requiring a tool-by-tool probe.
type RolePermissions struct {
	RoleID         string
	AccessLevel    roles.AccessLevel
	PermissionMode roles.PermissionMode
	DeniedTools    []string
	IsCoordinator  bool
	IsWorker       bool
}

// GetRolePermissions returns the effective, human-inspectable permission
// summary for roleID. ok is false when the role is unknown.
func GetRolePermissions(roleID string) (RolePermissions, bool) {
	role, ok := roles.Get(roleID)
	if !ok {
		return RolePermissions{}, false
	}

	denied := append([]string{}, role.DeniedTools...)
	if role.AccessLevel == roles.AccessReadOnly {
		denied = append(denied, roles.ReadOnlyDefaultDeniedTools()...)
	}

	return RolePermissions{
		RoleID:         role.ID,
		AccessLevel:    role.AccessLevel,
		PermissionMode: role.PermissionMode,
		DeniedTools:    dedupe(denied),
		IsCoordinator:  roles.IsCoordinator(role.ID),
		IsWorker:       roles.IsWorker(role.ID),
	}, true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

var bypassAliasMu sync.RWMutex

// bypassAliases is the default-on alias set spec.md §9 calls out by name:
// "safe-yolo/danger/yolo remain in the bypass-permissions alias table by
// default; an operator can remove them via the hot-reloaded brand config
// file without a code change." internal/brand mutates this set at runtime;
// nothing else should.
var bypassAliases = map[string]bool{
	"yolo": true, "safe-yolo": true, "danger": true,
	"bypass": true, "bypass-permissions": true, "bypassPermissions": true,
}

// SetBypassAlias enables or disables one of the bypass-permissions mode
// aliases at runtime (internal/brand, on hot-reload of the operator's brand
// config file).
func SetBypassAlias(alias string, enabled bool) {
	bypassAliasMu.Lock()
	defer bypassAliasMu.Unlock()
	bypassAliases[alias] = enabled
}

// ResolvePermissionMode normalizes a raw permission-mode string (as supplied
// by an engine's mode-change callback or a brand alias table) to one of the
// canonical roles.PermissionMode values. ok is false for unrecognized input.
func ResolvePermissionMode(raw string) (roles.PermissionMode, bool) {
	switch raw {
	case "default":
		return roles.ModeDefault, true
	case "accept-edits", "accept_edits", "acceptEdits":
		return roles.ModeAcceptEdits, true
	case "yolo", "safe-yolo", "danger", "bypass", "bypass-permissions", "bypassPermissions":
		bypassAliasMu.RLock()
		enabled := bypassAliases[raw]
		bypassAliasMu.RUnlock()
		if !enabled {
			return "", false
		}
		return roles.ModeBypassPermissions, true
	case "plan":
		return roles.ModePlan, true
	default:
		return "", false
	}
}
