package session

import (
	"encoding/json"

	"github.com/nextlevelbuilder/squad/internal/policy"
)

// MetadataUpdate carries push-metadata-update's optional role/team-id
// changes. A non-nil pointer is an explicit update; nil leaves the
// current value unchanged (spec.md §4.1).
type MetadataUpdate struct {
	RoleID *string
	TeamID *string
}

// PushMetadataUpdate adopts changes to role and team id; when team id
// becomes non-null or changes, it triggers the team-join ritual
// (spec.md §4.1, §4.3).
func (r *Runtime) PushMetadataUpdate(update MetadataUpdate) {
	if r.archived() {
		return
	}

	prevTeam := r.policy.Snapshot().TeamID
	snap := r.policy.Apply(policy.Overrides{
		RoleID: update.RoleID,
		TeamID: update.TeamID,
	})
	r.maybeJoinTeam(prevTeam, snap)
}

// onTransportMetadataUpdate adapts a raw push-channel metadata-update
// payload into PushMetadataUpdate.
func (r *Runtime) onTransportMetadataUpdate(sessionID string, payload []byte) {
	var update MetadataUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		r.log.Warn("session: malformed metadata-update payload", "session_id", sessionID, "error", err)
		return
	}
	r.PushMetadataUpdate(update)
}
