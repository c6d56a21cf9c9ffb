// Package session implements the Session Runtime (spec.md §4.1): the
// central event router. It owns Policy State, the Turn Queue, the
// server client, the Engine Driver, and local message storage, and is
// the sole mutator of policy state — every other package only ever
// sees an immutable policy.Snapshot.
//
// Grounded on the teacher's internal/agent.Loop (internal/agent/loop.go):
// a single long-lived struct wiring together every session-scoped
// subsystem behind injected interfaces, driven by an explicit lifecycle
// and a background goroutine per running subsystem — reshaped around
// squad's Turn Queue/Engine Driver split instead of the teacher's
// single in-process provider call.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/squad/internal/engine"
	"github.com/nextlevelbuilder/squad/internal/permissions"
	"github.com/nextlevelbuilder/squad/internal/policy"
	"github.com/nextlevelbuilder/squad/internal/serverclient"
	"github.com/nextlevelbuilder/squad/internal/tasks"
	"github.com/nextlevelbuilder/squad/internal/teammsg"
	"github.com/nextlevelbuilder/squad/internal/transport"
)

// Lifecycle is the Session Runtime's state machine (spec.md §4.1):
// initializing -> running -> archived. archived is terminal; every
// public operation becomes a no-op once reached.
type Lifecycle string

const (
	StateInitializing Lifecycle = "initializing"
	StateRunning      Lifecycle = "running"
	StateArchived     Lifecycle = "archived"
)

// Options configures Start.
type Options struct {
	SessionTag          string
	Metadata            map[string]string
	RoleID              string
	TeamID              string
	ModelID             string
	FallbackModelID     string
	ExternalToolServers []string
	// PermissionMode is the initial permission-mode alias (spec.md §6
	// HAPPY_PERMISSION_MODE). An unrecognized value leaves the mode at
	// its default, with a warning logged (spec.md:325); an empty value
	// leaves it at its default without a warning.
	PermissionMode string
}

// Runtime is the Session Runtime.
type Runtime struct {
	log *slog.Logger

	policy *policy.State
	queue  *policy.Queue
	collab teammsg.CollaboratorMap

	server serverclient.ServerClient
	tasks  *tasks.Manager
	store  teammsg.Store

	eng    engine.Engine
	driver *engine.Driver

	listener  *transport.Listener
	publisher *transport.Publisher

	mu          sync.Mutex
	lifecycle   Lifecycle
	sessionID   string
	currentTeam string

	runCtx       context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Deps bundles the subsystems a Runtime wires together. All fields are
// required except Collab.
type Deps struct {
	Server    serverclient.ServerClient
	Tasks     *tasks.Manager
	Store     teammsg.Store
	Engine    engine.Engine
	Transport *transport.Client
	Collab    teammsg.CollaboratorMap
	Log       *slog.Logger
}

// New constructs a Runtime in the initializing state. It does not talk
// to the server or the engine yet; call Start for that.
func New(d Deps) *Runtime {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	r := &Runtime{
		log:       d.Log,
		policy:    policy.New(),
		queue:     policy.NewQueue(),
		collab:    d.Collab,
		server:    d.Server,
		tasks:     d.Tasks,
		store:     d.Store,
		eng:       d.Engine,
		publisher: transport.NewPublisher(d.Transport),
		lifecycle: StateInitializing,
	}
	r.listener = transport.NewListener(d.Transport, transport.Callbacks{
		OnTeamMessage:    r.onTransportTeamMessage,
		OnMetadataUpdate: r.onTransportMetadataUpdate,
		OnTaskEvent:      r.onTransportTaskEvent,
	}, d.Log)
	r.driver = engine.NewDriver(d.Engine, r.queue, r.onEngineModeChange, d.Log)
	if r.tasks != nil {
		r.tasks.Subscribe("session-runtime", r.onTaskStateChange)
	}
	return r
}

// State reports the current lifecycle state.
func (r *Runtime) State() Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle
}

// Start creates/joins a session on the server, loads initial policy from
// opts, starts the Engine Driver, and begins listening for push-channel
// events (spec.md §4.1 start).
func (r *Runtime) Start(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.lifecycle != StateInitializing {
		r.mu.Unlock()
		return fmt.Errorf("session: start called in state %q, want %q", r.lifecycle, StateInitializing)
	}
	r.mu.Unlock()

	desc, err := r.server.GetOrCreateSession(ctx, opts.SessionTag, opts.Metadata, nil)
	if err != nil {
		return fmt.Errorf("session: get-or-create session: %w", err)
	}

	r.mu.Lock()
	r.sessionID = desc.ID
	r.mu.Unlock()

	if err := r.listener.SubscribeSessionMetadata(desc.ID); err != nil {
		r.log.Warn("session: subscribe session metadata failed", "error", err)
	}

	mode := policy.ModeDefault
	if opts.PermissionMode != "" {
		if resolved, ok := permissions.ResolvePermissionMode(opts.PermissionMode); ok {
			mode = policy.Mode(resolved)
		} else {
			r.log.Warn("session: unrecognized initial permission mode, leaving default", "mode", opts.PermissionMode)
		}
	}
	snap := r.policy.Apply(policy.Overrides{
		Mode:            &mode,
		ModelID:         &opts.ModelID,
		FallbackModelID: &opts.FallbackModelID,
		RoleID:          &opts.RoleID,
		TeamID:          &opts.TeamID,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	r.runCtx = runCtx
	r.cancel = cancel

	if err := r.eng.Begin(runCtx, engine.BeginOptions{
		ModelID:             opts.ModelID,
		FallbackModelID:     opts.FallbackModelID,
		ExternalToolServers: opts.ExternalToolServers,
	}); err != nil {
		cancel()
		return fmt.Errorf("session: engine begin: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.driver.Run(runCtx); err != nil && runCtx.Err() == nil {
			r.log.Warn("session: engine driver exited with error", "error", err)
			r.terminateFor("engine-failure")
		}
	}()

	r.mu.Lock()
	r.lifecycle = StateRunning
	r.mu.Unlock()

	if snap.TeamID != "" {
		r.joinTeam(runCtx, snap)
	}

	return nil
}

// Shutdown marks the runtime archived, flushes the Engine Driver, closes
// the server client's listeners, and stops auxiliary services. Atomic
// and idempotent (spec.md §4.1 shutdown): safe to call from SIGTERM,
// SIGINT, a remote kill event, or a recovered panic handler, and safe to
// call more than once.
func (r *Runtime) Shutdown(reason string) error {
	r.shutdownOnce.Do(func() {
		r.log.Info("session: shutting down", "reason", reason)

		r.mu.Lock()
		r.lifecycle = StateArchived
		r.mu.Unlock()

		if r.cancel != nil {
			r.cancel()
		}
		r.queue.Close()
		r.wg.Wait()

		if err := r.eng.Close(); err != nil {
			r.log.Warn("session: engine close failed", "error", err)
		}
		r.listener.Close()
	})
	return nil
}

// terminateFor implements spec.md §4.1's "engine-driver crash terminates
// the session through shutdown(\"engine-failure\")".
func (r *Runtime) terminateFor(reason string) {
	go func() { _ = r.Shutdown(reason) }()
}

func (r *Runtime) archived() bool {
	return r.State() == StateArchived
}

func (r *Runtime) onEngineModeChange(m engine.Mode) {
	mode, ok := permissions.ResolvePermissionMode(string(m))
	if !ok {
		r.log.Warn("session: unrecognized engine mode change, ignoring", "mode", m)
		return
	}
	pm := policy.Mode(mode)
	r.policy.Apply(policy.Overrides{Mode: &pm})
}

// rolePrompt renders spec.md §4.1's turn-assembly rule: appended system
// prompt is current_appended concatenated with role_prompt(role, team).
// If no role is set, role_prompt is empty.
func rolePrompt(roleID, teamID string) string {
	if roleID == "" {
		return ""
	}
	return teammsg.RolePrompt(roleID, teamID)
}

func assembledSnapshot(snap policy.Snapshot) policy.Snapshot {
	snap.AppendedSystemPrompt = snap.AppendedSystemPrompt + rolePrompt(snap.RoleID, snap.TeamID)
	return snap
}

// isSpecialCommand recognizes spec.md §4.1's /compact and /clear special
// commands, returning the isolate-and-clear turn text and true if text
// is one of them.
func isSpecialCommand(text string) (turnText string, isSpecial bool) {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "/compact" || strings.HasPrefix(trimmed, "/compact "):
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "/compact"))
		if rest == "" {
			rest = "Compact the conversation history, preserving task state and outstanding decisions."
		}
		return rest, true
	case trimmed == "/clear" || strings.HasPrefix(trimmed, "/clear "):
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "/clear"))
		if rest == "" {
			rest = "Conversation history cleared."
		}
		return rest, true
	default:
		return text, false
	}
}
