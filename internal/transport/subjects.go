package transport

import "fmt"

// Kind discriminates the three push-event kinds spec.md §6 names.
type Kind string

const (
	KindTeamMessage    Kind = "team-message"
	KindMetadataUpdate Kind = "metadata-update"
	KindTaskEvent      Kind = "task-event"
)

// TeamMessageSubject is the NATS subject a team's Team Message events
// are published/subscribed on (spec.md §6).
func TeamMessageSubject(teamID string) string {
	return fmt.Sprintf("team.%s.messages", teamID)
}

// SessionMetadataSubject is the subject a session's metadata-update
// events are published/subscribed on (spec.md §6).
func SessionMetadataSubject(sessionID string) string {
	return fmt.Sprintf("session.%s.metadata", sessionID)
}

// TeamTaskEventSubject is the subject a team's Task State Manager
// events are published/subscribed on (spec.md §6).
func TeamTaskEventSubject(teamID string) string {
	return fmt.Sprintf("team.%s.tasks", teamID)
}
