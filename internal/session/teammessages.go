package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/squad/internal/policy"
	"github.com/nextlevelbuilder/squad/internal/serverclient"
	"github.com/nextlevelbuilder/squad/internal/tasks"
	"github.com/nextlevelbuilder/squad/internal/teammsg"
)

// joinTeam runs the team-join ritual (spec.md §4.3) and enqueues its
// resulting context-bundle turn. Failures are non-fatal per spec.md
// §4.1: logged, session continues in a degraded state.
func (r *Runtime) joinTeam(ctx context.Context, snap policy.Snapshot) {
	r.mu.Lock()
	prevTeam := r.currentTeam
	r.currentTeam = snap.TeamID
	r.mu.Unlock()

	if prevTeam != "" && prevTeam != snap.TeamID {
		r.listener.UnsubscribeTeam(prevTeam)
	}
	if err := r.listener.SubscribeTeam(snap.TeamID); err != nil {
		r.log.Warn("session: subscribe team failed", "team_id", snap.TeamID, "error", err)
	}

	ritual := teammsg.JoinRitual{
		Store:   r.store,
		Sender:  senderAdapter{server: r.server, teamID: snap.TeamID},
		History: historyAdapter{server: r.server},
		Boards:  boardAdapter{server: r.server},
	}

	r.mu.Lock()
	sessionID := r.sessionID
	r.mu.Unlock()

	turn, err := ritual.Run(ctx, snap.TeamID, sessionID, snap.RoleID, snap)
	if err != nil {
		r.log.Warn("session: join ritual failed, continuing in degraded state", "team_id", snap.TeamID, "error", err)
		return
	}
	r.queue.PushIsolateAndClear(turn)
}

// maybeJoinTeam triggers the join ritual exactly when the team id
// transitions from absent/different to non-null (spec.md §4.1
// push-metadata-update, §4.3).
func (r *Runtime) maybeJoinTeam(prevTeam string, snap policy.Snapshot) {
	if snap.TeamID == "" || snap.TeamID == prevTeam {
		return
	}
	ctx := r.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	r.joinTeam(ctx, snap)
}

// PushRemoteTeamEvent runs the Team Message Pipeline's filter decision
// (spec.md §4.3) against an arriving team message: it is always merged
// into the local store, and enqueued as an append turn only when the
// filter decides to respond.
func (r *Runtime) PushRemoteTeamEvent(msg teammsg.Message) {
	if r.archived() {
		return
	}
	if err := r.store.Save(msg.TeamID, msg); err != nil {
		r.log.Warn("session: save remote team message failed", "error", err)
	}

	snap := r.policy.Snapshot()
	decision := teammsg.Filter(msg, snap.RoleID, r.currentSessionID(), snap.TeamID, r.collab)
	if !decision.Respond {
		return
	}

	text := formatIncomingMessage(msg, decision)
	turn := policy.NewTurn(text, assembledSnapshot(snap), policy.KindAppend)
	r.queue.Push(turn)
}

func (r *Runtime) currentSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// formatIncomingMessage renders an incoming team message for turn text,
// including mention/urgent banners (spec.md §4.3 "On respond").
func formatIncomingMessage(msg teammsg.Message, decision teammsg.Decision) string {
	var b strings.Builder
	if decision.Mentioned {
		b.WriteString("[MENTIONED] ")
	}
	if msg.Metadata["priority"] == "urgent" {
		b.WriteString("[URGENT] ")
	}
	from := msg.FromRole
	if from == "" {
		from = "user"
	}
	fmt.Fprintf(&b, "[TEAM MESSAGE from %s, type=%s] %s", from, msg.Type, msg.Content)
	return b.String()
}

// onTaskStateChange is the Task State Manager's local subscriber
// (spec.md §4.2 Broadcast: "Local subscribers include the Team Message
// Pipeline"). It mirrors every successful mutation into the local
// message store and, as a chat-facing role, treats it as an incoming
// task-update message subject to the same filter decision as any other
// team message.
func (r *Runtime) onTaskStateChange(ev tasks.StateChangeEvent) {
	if r.archived() || ev.TeamMessage == "" {
		return
	}
	msg := teammsg.Message{
		TeamID:    ev.TeamID,
		Content:   ev.TeamMessage,
		Type:      teammsg.TypeTaskUpdate,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"task_id": ev.TaskID, "kind": ev.Kind},
	}
	if ctx := r.runCtx; ctx != nil {
		if err := r.server.SendTeamMessage(ctx, ev.TeamID, msg); err != nil {
			r.log.Warn("session: propagate task-update message failed", "team_id", ev.TeamID, "error", err)
		}
	}
	r.PushRemoteTeamEvent(msg)
}

// onTransportTeamMessage adapts a raw push-channel payload into
// PushRemoteTeamEvent.
func (r *Runtime) onTransportTeamMessage(teamID string, payload []byte) {
	var msg teammsg.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.log.Warn("session: malformed team-message payload", "team_id", teamID, "error", err)
		return
	}
	r.PushRemoteTeamEvent(msg)
}

// onTransportTaskEvent adapts a raw push-channel task-event payload into
// the Task State Manager's server-event normalization path.
func (r *Runtime) onTransportTaskEvent(teamID string, payload []byte) {
	var ev tasks.StateChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.log.Warn("session: malformed task-event payload", "team_id", teamID, "error", err)
		return
	}
	if r.tasks != nil {
		r.tasks.NormalizeServerEvent(ev)
	}
}

// senderAdapter implements teammsg.Sender by delegating to a
// serverclient.TeamMessageClient bound to one team.
type senderAdapter struct {
	server serverclient.TeamMessageClient
	teamID string
}

func (s senderAdapter) Send(ctx context.Context, msg teammsg.Message) error {
	return s.server.SendTeamMessage(ctx, s.teamID, msg)
}

// historyAdapter implements teammsg.RemoteHistoryFetcher by delegating
// to a serverclient.TeamMessageClient, dropping the has-more flag
// get-team-messages also reports.
type historyAdapter struct {
	server serverclient.TeamMessageClient
}

func (h historyAdapter) FetchRecentMessages(ctx context.Context, teamID string, limit int) ([]teammsg.Message, error) {
	msgs, _, err := h.server.GetTeamMessages(ctx, teamID, limit, time.Time{})
	return msgs, err
}

// boardAdapter implements teammsg.BoardProvider by unwrapping a
// serverclient.TaskClient's opstatus.Result.
type boardAdapter struct {
	server serverclient.TaskClient
}

func (b boardAdapter) GetBoard(ctx context.Context, teamID string) (*tasks.Board, error) {
	result := b.server.GetBoard(ctx, teamID)
	if !result.OK {
		return nil, result.Err
	}
	return result.Value, nil
}
