package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/squad/internal/permissions"
	"github.com/nextlevelbuilder/squad/internal/policy"
)

// Driver is the Engine Driver (spec.md §4.6): a blocking worker pulling
// Turns off a Turn Queue, driving each against an Engine, and resolving
// every tool-call event through the Permission Engine before the engine
// is allowed to act on it.
type Driver struct {
	engine       Engine
	queue        *policy.Queue
	onModeChange func(Mode)
	log          *slog.Logger
}

// NewDriver wires an Engine to a Turn Queue. onModeChange is invoked
// whenever the engine reports a local/remote mode change; it may be nil.
func NewDriver(eng Engine, queue *policy.Queue, onModeChange func(Mode), log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{engine: eng, queue: queue, onModeChange: onModeChange, log: log}
}

// Run blocks, consuming turns until the queue is closed or ctx is
// cancelled. It returns nil on queue closure (normal shutdown, not an
// error — spec.md §4.6's "terminate on queue close"), ctx.Err() on
// cancellation, and the engine's error if it fails to accept a turn's
// policy or text.
func (d *Driver) Run(ctx context.Context) error {
	for {
		turn, ok := d.queue.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := d.runTurn(ctx, turn); err != nil {
			return err
		}
	}
}

func (d *Driver) runTurn(ctx context.Context, turn policy.Turn) error {
	if err := d.engine.ApplyPolicy(ctx, turn.Policy); err != nil {
		return fmt.Errorf("engine: apply policy: %w", err)
	}

	events, err := d.engine.FeedText(ctx, turn.Text)
	if err != nil {
		return fmt.Errorf("engine: feed text: %w", err)
	}

	for ev := range events {
		switch ev.Kind {
		case EventToolCall:
			d.handleToolCall(ctx, turn.Policy, ev.ToolCall)
		case EventModeChange:
			if d.onModeChange != nil {
				d.onModeChange(ev.ModeChange)
			}
		case EventTurnComplete:
			// Nothing to do; the channel closing is the authoritative signal.
		}
	}
	return nil
}

func (d *Driver) handleToolCall(ctx context.Context, snap policy.Snapshot, call ToolCallEvent) {
	decision := permissions.Check(snap.RoleID, call.Tool, snap.DisallowedTools)
	reason := string(decision.Reason)
	if err := d.engine.RespondToolCall(ctx, call.CallID, decision.Allow, reason); err != nil {
		d.log.Warn("engine: respond to tool call failed",
			"team_id", snap.TeamID, "tool", call.Tool, "call_id", call.CallID, "error", err)
	}
}
