package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures an in-process NATS server for
// local/dev/test runs that should not require an external broker
// (spec.md §6).
type EmbeddedServerConfig struct {
	// Port to listen on; 0 lets the OS assign an ephemeral port
	// (the common case for tests), matching server.Options' -1
	// "any free port" convention.
	Port int
}

// EmbeddedServer wraps an in-process nats-server instance.
type EmbeddedServer struct {
	srv *server.Server

	mu      sync.RWMutex
	running bool
}

// NewEmbeddedServer constructs (but does not start) an embedded server.
func NewEmbeddedServer(cfg EmbeddedServerConfig) (*EmbeddedServer, error) {
	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("transport: create embedded NATS server: %w", err)
	}
	return &EmbeddedServer{srv: ns}, nil
}

// Start runs the server in the background and blocks until it is
// ready for connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("transport: embedded server already running")
	}

	go e.srv.Start()
	if !e.srv.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("transport: embedded server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown stops the server and waits for it to fully drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
}

// ClientURL returns the URL a Client should Connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.srv.ClientURL()
}
