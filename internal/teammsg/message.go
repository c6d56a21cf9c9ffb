// Package teammsg implements the Team Message Pipeline (spec.md §4.3):
// the filter decision tree that decides which arriving team messages
// deserve an agent turn, the team-join ritual, and role-prompt/
// effective-policy generation shared with the Role & Permission Engine
// (spec.md §4.4).
//
// Grounded on the teacher's internal/store/pg/teams_messaging.go
// (SendMessage/GetUnread/MarkRead shape) for the message entity and its
// store-mediated send/fetch pattern, and internal/tools/policy.go's
// layered-evaluation style for the filter decision tree.
package teammsg

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/squad/internal/roles"
)

// Type is the Team Message type enum (spec.md §3).
type Type string

const (
	TypeChat                 Type = "chat"
	TypeTaskUpdate           Type = "task-update"
	TypeNotification         Type = "notification"
	TypeHelpNeeded           Type = "help-needed"
	TypeCollaborationRequest Type = "collaboration-request"
	TypeHandoff              Type = "handoff"
	TypeSystem               Type = "system"
)

// Message is one immutable Team Message (spec.md §3).
type Message struct {
	ID            string
	TeamID        string
	Content       string
	ShortContent  string
	Type          Type
	Timestamp     time.Time
	FromSessionID string
	FromRole      string
	Mentions      []string
	Metadata      map[string]string
}

// Mentioned reports whether ownSessionID is in m.Mentions or m.Content
// contains "@<ownRole>" case-insensitively (spec.md §4.3 step 2).
func (m Message) Mentioned(ownSessionID, ownRole string) bool {
	for _, id := range m.Mentions {
		if id == ownSessionID {
			return true
		}
	}
	needle := "@" + strings.ToLower(ownRole)
	return strings.Contains(strings.ToLower(m.Content), needle)
}

// fromIsUser reports whether the message's sender is treated as a plain
// user rather than an agent role (spec.md §4.3 step 3: "empty or 'user'
// is treated as user").
func (m Message) fromIsUser() bool {
	return m.FromRole == "" || strings.EqualFold(m.FromRole, "user")
}

// Decision is the filter outcome for one (message, own role) pair.
type Decision struct {
	Respond  bool
	Mentioned bool
	Reason   string
}

// CollaboratorMap captures spec.md §4.3's bidirectional collaboration
// widening: presence of otherRole in Listeners[r] means r additionally
// listens to messages from otherRole, on top of the base worker rule.
type CollaboratorMap map[string][]string

// Listens reports whether role r additionally listens to fromRole via
// the collaboration map.
func (c CollaboratorMap) Listens(r, fromRole string) bool {
	for _, other := range c[r] {
		if strings.EqualFold(other, fromRole) {
			return true
		}
	}
	return false
}

// Filter runs the spec.md §4.3 filter decision tree for message m,
// given the receiving session's own role ownRole, own session id
// ownSessionID, and current team ownTeam.
func Filter(m Message, ownRole, ownSessionID, ownTeam string, collab CollaboratorMap) Decision {
	if m.TeamID != ownTeam {
		return Decision{Respond: false, Reason: "team-mismatch"}
	}

	mentioned := m.Mentioned(ownSessionID, ownRole)

	if roles.IsCoordinator(ownRole) {
		return Decision{Respond: true, Mentioned: mentioned, Reason: "coordinator-always-responds"}
	}

	if roles.IsWorker(ownRole) {
		if mentioned {
			return Decision{Respond: true, Mentioned: true, Reason: "mentioned"}
		}
		if roles.IsCoordinator(m.FromRole) {
			return Decision{Respond: true, Reason: "from-coordinator"}
		}
		if m.fromIsUser() {
			return Decision{Respond: true, Reason: "from-user"}
		}
		if m.Type == TypeTaskUpdate {
			return Decision{Respond: true, Reason: "task-update"}
		}
		if collab.Listens(ownRole, m.FromRole) {
			return Decision{Respond: true, Reason: "collaboration-map"}
		}
		return Decision{Respond: false, Reason: "worker-ignored"}
	}

	// Unclassified role.
	if mentioned {
		return Decision{Respond: true, Mentioned: true, Reason: "mentioned"}
	}
	if m.Metadata["priority"] == "urgent" {
		return Decision{Respond: true, Reason: "urgent"}
	}
	if m.Type == TypeTaskUpdate {
		return Decision{Respond: true, Reason: "task-update"}
	}
	return Decision{Respond: false, Reason: "unclassified-ignored"}
}

// Format renders m for injection into the turn queue, adding the
// mention/urgent banners spec.md §4.3 requires.
func Format(m Message, d Decision) string {
	var b strings.Builder
	if d.Mentioned {
		b.WriteString("[MENTIONED] ")
	}
	if m.Metadata["priority"] == "urgent" {
		b.WriteString("[URGENT] ")
	}
	if m.FromRole != "" {
		b.WriteString("(" + m.FromRole + ") ")
	}
	b.WriteString(m.Content)
	return b.String()
}
