// Package engine implements the Engine Driver (spec.md §4.6): a
// blocking worker that pulls Turns from the Turn Queue, drives them
// against the external assistant engine, and streams tool-call events
// back to the Permission Engine. The wire protocol to the engine
// itself is opaque to spec.md; this package only fixes the Go-level
// contract (Engine) a concrete transport must satisfy.
//
// Grounded on goadesign-goa-ai's features/mcp/runtime/stdiocaller.go
// (spawn a subprocess over os/exec, speak a Content-Length-framed JSON
// protocol on its stdin/stdout) for SubprocessEngine's shape, which
// routes events by a single active-turn id, generalized from MCP's
// tools/call JSON-RPC method to squad's begin/apply-policy/feed-text
// opaque contract.
package engine

import (
	"context"

	"github.com/nextlevelbuilder/squad/internal/policy"
)

// Mode is the engine's local/remote control state (spec.md §4.6).
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// EventKind discriminates what an Engine reports mid-turn.
type EventKind string

const (
	EventToolCall     EventKind = "tool-call"
	EventModeChange   EventKind = "mode-change"
	EventTurnComplete EventKind = "turn-complete"
)

// ToolCallEvent is one tool invocation the engine wants to perform.
type ToolCallEvent struct {
	CallID string
	Tool   string
	Args   []byte // raw JSON, opaque to this package
}

// Event is one item in the per-turn event stream a Feed call returns.
type Event struct {
	Kind       EventKind
	ToolCall   ToolCallEvent
	ModeChange Mode
}

// BeginOptions configures Begin (spec.md §4.6: "begin(options,
// mode-change-callback, ready-callback, external-tool-servers)").
type BeginOptions struct {
	ModelID             string
	FallbackModelID     string
	ExternalToolServers []string
	OnReady             func()
}

// Engine is the opaque external-assistant-engine contract. A concrete
// implementation (subprocess, in-process SDK, test double) owns
// whatever wire protocol it needs; the Driver only ever calls these
// methods.
type Engine interface {
	// Begin starts the engine, performing whatever handshake its
	// transport requires. Called once per Driver lifetime.
	Begin(ctx context.Context, opts BeginOptions) error

	// ApplyPolicy pushes the turn's policy snapshot into the engine
	// before its text is fed, so every tool call the engine makes
	// during the turn is evaluated under that snapshot.
	ApplyPolicy(ctx context.Context, snap policy.Snapshot) error

	// FeedText submits turn text and returns the event stream for
	// that turn; the channel closes once the engine reports
	// EventTurnComplete (or the context is cancelled).
	FeedText(ctx context.Context, text string) (<-chan Event, error)

	// RespondToolCall answers a pending tool-call event with the
	// Permission Engine's verdict.
	RespondToolCall(ctx context.Context, callID string, allowed bool, reason string) error

	// Close terminates the engine and releases its resources.
	Close() error
}
