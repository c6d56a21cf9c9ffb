package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-shellwords"

	"github.com/nextlevelbuilder/squad/internal/brand"
	"github.com/nextlevelbuilder/squad/internal/engine"
	"github.com/nextlevelbuilder/squad/internal/msgstore"
	"github.com/nextlevelbuilder/squad/internal/serverclient"
	"github.com/nextlevelbuilder/squad/internal/session"
	"github.com/nextlevelbuilder/squad/internal/tasks"
	"github.com/nextlevelbuilder/squad/internal/transport"
)

// runSession wires every subsystem Deps needs, loads spec.md §6's
// recognized environment variables, starts the Session Runtime, and blocks
// until SIGTERM/SIGINT invokes the idempotent shutdown path — the "thin
// cmd/squad entrypoint ... which hands off immediately to
// internal/session.Runtime" this module's external-interfaces design
// calls for. Grounded on the teacher's cmd/gateway.go's runGateway shape
// (structured logging setup, graceful-shutdown signal channel, deferred
// watcher Stop), reshaped around one Session Runtime instead of a
// multi-channel gateway.
func runSession(ctx context.Context) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("bad-config: create state dir %q: %w", stateDir, err)
	}

	machineID := firstNonEmpty(os.Getenv("SQUAD_MACHINE_ID"), hostname())
	if machineID == "" {
		log.Error("missing machine id: set SQUAD_MACHINE_ID, or ensure the host's hostname resolves")
		os.Exit(1)
	}

	if brandFile != "" {
		watcher, _, err := brand.NewWatcher(brandFile, log)
		if err != nil {
			log.Warn("brand config unavailable, continuing with compiled defaults", "path", brandFile, "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			log.Warn("brand config watch failed to start", "path", brandFile, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	store := msgstore.New(filepath.Join(stateDir, "teams"), msgstore.DefaultLimits(), log)

	taskStore, err := tasks.OpenSQLiteStore(filepath.Join(stateDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("bad-config: open task cache: %w", err)
	}
	manager := tasks.NewManager(taskStore)

	sc, err := serverclient.OpenLocalClient(filepath.Join(stateDir, "cache.db"), manager, store, log)
	if err != nil {
		return fmt.Errorf("bad-config: open local client: %w", err)
	}
	defer sc.Close()

	if _, err := sc.GetOrCreateMachine(ctx, serverclient.Machine{ID: machineID}); err != nil {
		log.Error("get-or-create machine failed", "machine_id", machineID, "error", err)
		os.Exit(1)
	}

	client, closeTransport, err := openTransport(log)
	if err != nil {
		return fmt.Errorf("bad-config: transport: %w", err)
	}
	defer closeTransport()

	eng, err := openEngine(ctx, log)
	if err != nil {
		return fmt.Errorf("bad-config: engine: %w", err)
	}

	rt := session.New(session.Deps{
		Server:    sc,
		Tasks:     manager,
		Store:     store,
		Engine:    eng,
		Transport: client,
		Log:       log,
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(sigCtx, sessionOptions()); err != nil {
		return fmt.Errorf("engine-failure: start session: %w", err)
	}

	<-sigCtx.Done()
	log.Info("squad: shutdown signal received")
	if err := rt.Shutdown("signal"); err != nil {
		log.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	return nil
}

// sessionOptions reads spec.md §6's recognized environment variables into
// session.Options.
func sessionOptions() session.Options {
	teamID := firstNonEmpty(os.Getenv("HAPPY_ROOM_ID"), os.Getenv("AHA_ROOM_ID"))
	metadata := map[string]string{}
	if v := os.Getenv("HAPPY_ROOM_NAME"); v != "" {
		metadata["room_name"] = v
	}
	if v := os.Getenv("HAPPY_SESSION_PATH"); v != "" {
		metadata["session_path"] = v
	}

	var tools []string
	if v := os.Getenv("HAPPY_DESKTOP_MCP_URL"); v != "" {
		tools = append(tools, v)
	}

	return session.Options{
		SessionTag:          firstNonEmpty(os.Getenv("HAPPY_SESSION_NAME"), hostname()),
		Metadata:            metadata,
		RoleID:              os.Getenv("HAPPY_AGENT_ROLE"),
		TeamID:              teamID,
		PermissionMode:      os.Getenv("HAPPY_PERMISSION_MODE"),
		ExternalToolServers: tools,
	}
}

// openTransport connects to an external NATS server when --nats-url (or
// $SQUAD_NATS_URL) is set, otherwise spins up an embeddable nats-server so
// the push channel works without requiring one (spec.md §6; SPEC_FULL.md
// §6's "embeddable ... instance backs local/dev/test runs").
func openTransport(log *slog.Logger) (*transport.Client, func(), error) {
	if natsURL != "" {
		client, err := transport.NewClient(natsURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to %s: %w", natsURL, err)
		}
		return client, client.Close, nil
	}

	srv, err := transport.NewEmbeddedServer(transport.EmbeddedServerConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	client, err := transport.NewClient(srv.ClientURL(), log)
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}
	return client, func() {
		client.Close()
		srv.Shutdown()
	}, nil
}

// openEngine spawns the external assistant engine named by
// $SQUAD_ENGINE_COMMAND, a shell-quoted command line parsed the same way
// a user's shell would (github.com/mattn/go-shellwords, the teacher's
// shell-argument-splitting dependency).
func openEngine(ctx context.Context, log *slog.Logger) (engine.Engine, error) {
	cmdline := os.Getenv("SQUAD_ENGINE_COMMAND")
	if cmdline == "" {
		return nil, fmt.Errorf("SQUAD_ENGINE_COMMAND is required (shell-quoted path to the assistant engine binary)")
	}
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse SQUAD_ENGINE_COMMAND: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("SQUAD_ENGINE_COMMAND parsed to an empty command")
	}

	return engine.NewSubprocessEngine(ctx, engine.SubprocessOptions{
		Command: args[0],
		Args:    args[1:],
		Dir:     os.Getenv("SQUAD_ENGINE_DIR"),
	}, log)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
