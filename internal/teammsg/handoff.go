package teammsg

import (
	"sync"
	"time"
)

// HandoffRoute records which session a team's work has been routed to
// for a given handoff reason, so a follow-up `handoff`-typed Team
// Message can be resolved to a destination session without re-stating
// it. This is a supplemented feature not named in spec.md's distillation
// but present in the teacher's handoff-route tables
// (internal/store/pg/teams.go SetHandoffRoute/GetHandoffRoute/
// ClearHandoffRoute) — adapted here from a (channel, chat id) key to a
// (team id, topic) key, since squad has no chat-channel concept.
type HandoffRoute struct {
	TeamID      string
	Topic       string
	FromSession string
	ToSession   string
	Reason      string
	CreatedBy   string
	CreatedAt   time.Time
}

// HandoffRouter is an in-memory, per-process routing table. A server-
// mediated implementation would persist this the same way the Task
// State Manager persists boards; squad keeps it local since routes are
// session-lifetime hints, not durable team state.
type HandoffRouter struct {
	mu     sync.Mutex
	routes map[string]HandoffRoute // key: teamID + "\x00" + topic
}

// NewHandoffRouter returns an empty router.
func NewHandoffRouter() *HandoffRouter {
	return &HandoffRouter{routes: make(map[string]HandoffRoute)}
}

func routeKey(teamID, topic string) string { return teamID + "\x00" + topic }

// Set records or replaces the route for (teamID, topic).
func (r *HandoffRouter) Set(route HandoffRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route.CreatedAt = time.Now()
	r.routes[routeKey(route.TeamID, route.Topic)] = route
}

// Get returns the route for (teamID, topic), if any.
func (r *HandoffRouter) Get(teamID, topic string) (HandoffRoute, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[routeKey(teamID, topic)]
	return route, ok
}

// Clear removes the route for (teamID, topic).
func (r *HandoffRouter) Clear(teamID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, routeKey(teamID, topic))
}
