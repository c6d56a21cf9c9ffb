package session

import (
	"github.com/nextlevelbuilder/squad/internal/permissions"
	"github.com/nextlevelbuilder/squad/internal/policy"
)

// TurnMeta carries push-user-turn's optional policy overrides. Pointer
// fields distinguish "explicitly present" from "absent" per spec.md
// §4.1's policy update rule; a present pointer to nil/zero value means
// "reset to default (unset)". Mode is a raw string normalized through
// the permission-mode alias table before being applied.
type TurnMeta struct {
	Mode                 *string
	ModelID              *string
	FallbackModelID      *string
	CustomSystemPrompt   *string
	AppendedSystemPrompt *string
	AllowedTools         *[]string
	DisallowedTools      *[]string
	RoleID               *string
	TeamID               *string
}

// PushUserTurn applies meta's overrides to Policy State, detects the
// /compact and /clear special commands and routes them through
// isolate-and-clear, and enqueues the resulting turn (spec.md §4.1).
func (r *Runtime) PushUserTurn(text string, meta TurnMeta) {
	if r.archived() {
		return
	}

	overrides := policy.Overrides{
		ModelID:              meta.ModelID,
		FallbackModelID:      meta.FallbackModelID,
		CustomSystemPrompt:   meta.CustomSystemPrompt,
		AppendedSystemPrompt: meta.AppendedSystemPrompt,
		AllowedTools:         meta.AllowedTools,
		DisallowedTools:      meta.DisallowedTools,
		RoleID:               meta.RoleID,
		TeamID:               meta.TeamID,
	}
	if meta.Mode != nil {
		if *meta.Mode == "" {
			pm := policy.ModeDefault
			overrides.Mode = &pm
		} else if mode, ok := permissions.ResolvePermissionMode(*meta.Mode); ok {
			pm := policy.Mode(mode)
			overrides.Mode = &pm
		} else {
			r.log.Warn("session: unrecognized permission mode in turn meta, leaving mode unchanged", "mode", *meta.Mode)
		}
	}

	prevTeam := r.policy.Snapshot().TeamID
	snap := r.policy.Apply(overrides)
	r.maybeJoinTeam(prevTeam, snap)

	turnText, special := isSpecialCommand(text)
	kind := policy.KindAppend
	if special {
		kind = policy.KindIsolateAndClear
	}

	turn := policy.NewTurn(turnText, assembledSnapshot(snap), kind)
	if kind == policy.KindIsolateAndClear {
		r.queue.PushIsolateAndClear(turn)
	} else {
		r.queue.Push(turn)
	}
}
