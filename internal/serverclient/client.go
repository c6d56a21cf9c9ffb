// Package serverclient defines the coordination server contract
// (spec.md §6) as direction-agnostic Go interfaces, plus one in-repo
// reference implementation backed by the local cache DB — used in
// tests and as the ServerClient cmd/session.go wires. Nothing switches
// to it when a remote server is unreachable (see DESIGN.md's "server
// authority vs. local fallback" Open Question entry).
//
// No wire format is assumed here: a production deployment wires these
// interfaces to whatever RPC/REST client talks to the real
// coordination server; LocalClient exists so squad runs standalone
// without one.
package serverclient

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/squad/internal/tasks"
	"github.com/nextlevelbuilder/squad/internal/teammsg"
	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// SessionDescriptor is the result of get-or-create-session.
type SessionDescriptor struct {
	ID       string
	Tag      string
	Metadata map[string]string
	State    map[string]string
}

// Machine is the result of get-or-create-machine.
type Machine struct {
	ID       string
	Metadata map[string]string
}

// SessionClient implements get-or-create-session and
// get-or-create-machine (spec.md §6).
type SessionClient interface {
	GetOrCreateSession(ctx context.Context, tag string, metadata, state map[string]string) (SessionDescriptor, error)
	GetOrCreateMachine(ctx context.Context, m Machine) (Machine, error)
}

// Artifact is a CAS-protected (header, body) document pair, one per
// team (spec.md §6). It is the general persistence primitive a
// deployment's coordination server exposes beyond the task-specific
// REST ops.
type Artifact struct {
	TeamID        string
	Header        []byte
	Body          []byte
	HeaderVersion int64
	BodyVersion   int64
}

// ArtifactClient implements get/create/update-artifact (spec.md §6).
type ArtifactClient interface {
	GetArtifact(ctx context.Context, teamID string) (Artifact, error)
	CreateArtifact(ctx context.Context, teamID string, header, body []byte) (Artifact, error)
	UpdateArtifact(ctx context.Context, teamID string, header, body []byte, expectedHeaderVersion, expectedBodyVersion int64) (Artifact, error)
}

// TaskClient implements the REST task ops (spec.md §6). Its method set
// is deliberately identical to *tasks.Manager's, so the Task State
// Manager satisfies this interface directly with no adapter — the
// "local cache" backing this client IS the Task State Manager.
type TaskClient interface {
	GetBoard(ctx context.Context, teamID string) opstatus.Result[*tasks.Board]
	GetTask(ctx context.Context, teamID, taskID string) opstatus.Result[*tasks.Task]
	CreateTask(ctx context.Context, teamID, requesterRole string, fields tasks.CreateFields) opstatus.Result[*tasks.Task]
	UpdateTask(ctx context.Context, teamID, taskID, requesterRole, requesterSessionID string, delta tasks.UpdateDelta) opstatus.Result[*tasks.Task]
	DeleteTask(ctx context.Context, teamID, taskID, requesterRole string) opstatus.Result[bool]
	StartTask(ctx context.Context, teamID, taskID, requesterSessionID, requesterRole string) opstatus.Result[*tasks.Task]
	CompleteTask(ctx context.Context, teamID, taskID, requesterSessionID string) opstatus.Result[*tasks.Task]
	ReportBlocker(ctx context.Context, teamID, taskID string, blockerType tasks.BlockerType, description, raisedBy string) opstatus.Result[*tasks.Task]
}

// TeamMessageClient implements send-team-message and
// get-team-messages (spec.md §6).
type TeamMessageClient interface {
	SendTeamMessage(ctx context.Context, teamID string, msg teammsg.Message) error
	GetTeamMessages(ctx context.Context, teamID string, limit int, before time.Time) ([]teammsg.Message, bool, error)
}

// KVEntry is one key/value/version tuple. Version -1 on write means
// "create"; any other value is the expected current version for CAS.
type KVEntry struct {
	Key     string
	Value   string
	Version int64
}

// KVClient implements kv-get and kv-mutate (spec.md §6).
type KVClient interface {
	KVGet(ctx context.Context, key string) (KVEntry, bool, error)
	KVMutate(ctx context.Context, entries []KVEntry) error
}

// Push is a fire-and-forget notification payload.
type Push struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushClient implements push (spec.md §6).
type PushClient interface {
	Push(ctx context.Context, p Push) error
}

// ServerClient is the full coordination server contract.
type ServerClient interface {
	SessionClient
	ArtifactClient
	TaskClient
	TeamMessageClient
	KVClient
	PushClient
}
