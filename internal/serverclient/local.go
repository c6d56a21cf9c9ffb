package serverclient

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/squad/internal/msgstore"
	"github.com/nextlevelbuilder/squad/internal/tasks"
	"github.com/nextlevelbuilder/squad/internal/teammsg"
	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// LocalClient is the in-repo reference ServerClient: sessions and
// machines live in memory (they are call-scoped, never durable state
// a restart needs to recover), artifacts and KV entries are cached in
// a local SQLite database, tasks are delegated to an embedded
// *tasks.Manager, and team messages to an embedded *msgstore.Store.
// It is the direct-artifact fallback path used when the remote
// coordination server is unreachable.
type LocalClient struct {
	*tasks.Manager

	messages *msgstore.Store
	db       *sql.DB
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]SessionDescriptor
	machines map[string]Machine
}

const localSchemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
	team_id TEXT PRIMARY KEY,
	header TEXT NOT NULL,
	body TEXT NOT NULL,
	header_version INTEGER NOT NULL,
	body_version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	version INTEGER NOT NULL
);
`

// OpenLocalClient opens (creating if needed) a SQLite-backed local
// cache at dbPath, wiring the given task manager and message store.
func OpenLocalClient(dbPath string, manager *tasks.Manager, messages *msgstore.Store, log *slog.Logger) (*LocalClient, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("serverclient: open local cache: %w", err)
	}
	if _, err := db.Exec(localSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("serverclient: apply local cache schema: %w", err)
	}
	return &LocalClient{
		Manager:  manager,
		messages: messages,
		db:       db,
		log:      log,
		sessions: make(map[string]SessionDescriptor),
		machines: make(map[string]Machine),
	}, nil
}

// Close releases the local cache database handle.
func (c *LocalClient) Close() error { return c.db.Close() }

// GetOrCreateSession returns the existing session for tag, or creates
// one with a fresh id.
func (c *LocalClient) GetOrCreateSession(ctx context.Context, tag string, metadata, state map[string]string) (SessionDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[tag]; ok {
		return s, nil
	}
	s := SessionDescriptor{ID: uuid.NewString(), Tag: tag, Metadata: metadata, State: state}
	c.sessions[tag] = s
	return s, nil
}

// GetOrCreateMachine returns the existing machine for m.ID, or
// registers m if m.ID is new.
func (c *LocalClient) GetOrCreateMachine(ctx context.Context, m Machine) (Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.machines[m.ID]; ok {
		return existing, nil
	}
	c.machines[m.ID] = m
	return m, nil
}

// GetArtifact loads teamID's artifact.
func (c *LocalClient) GetArtifact(ctx context.Context, teamID string) (Artifact, error) {
	var a Artifact
	a.TeamID = teamID
	var header, body string
	err := c.db.QueryRowContext(ctx,
		`SELECT header, body, header_version, body_version FROM artifacts WHERE team_id = ?`, teamID,
	).Scan(&header, &body, &a.HeaderVersion, &a.BodyVersion)
	if err == sql.ErrNoRows {
		return Artifact{}, opstatus.ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("serverclient: get artifact: %w", err)
	}
	a.Header, a.Body = []byte(header), []byte(body)
	return a, nil
}

// CreateArtifact lazily initializes teamID's artifact at version 1/1,
// returning the existing artifact unchanged if one already exists.
func (c *LocalClient) CreateArtifact(ctx context.Context, teamID string, header, body []byte) (Artifact, error) {
	if existing, err := c.GetArtifact(ctx, teamID); err == nil {
		return existing, nil
	}
	a := Artifact{TeamID: teamID, Header: header, Body: body, HeaderVersion: 1, BodyVersion: 1}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifacts (team_id, header, body, header_version, body_version) VALUES (?, ?, ?, ?, ?)`,
		teamID, string(header), string(body), a.HeaderVersion, a.BodyVersion,
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("serverclient: create artifact: %w", err)
	}
	return a, nil
}

// UpdateArtifact performs the CAS write on both header and body
// versions together, returning version-conflict if either has moved.
func (c *LocalClient) UpdateArtifact(ctx context.Context, teamID string, header, body []byte, expectedHeaderVersion, expectedBodyVersion int64) (Artifact, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE artifacts SET header = ?, body = ?, header_version = ?, body_version = ?
		 WHERE team_id = ? AND header_version = ? AND body_version = ?`,
		string(header), string(body), expectedHeaderVersion+1, expectedBodyVersion+1,
		teamID, expectedHeaderVersion, expectedBodyVersion,
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("serverclient: update artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Artifact{}, fmt.Errorf("serverclient: update artifact rows affected: %w", err)
	}
	if n == 0 {
		return Artifact{}, opstatus.ErrVersionConflict
	}
	return Artifact{
		TeamID: teamID, Header: header, Body: body,
		HeaderVersion: expectedHeaderVersion + 1, BodyVersion: expectedBodyVersion + 1,
	}, nil
}

// SendTeamMessage appends msg to the local message store.
func (c *LocalClient) SendTeamMessage(ctx context.Context, teamID string, msg teammsg.Message) error {
	return c.messages.Save(teamID, msg)
}

// GetTeamMessages returns a newest-first page, reporting has-more.
func (c *LocalClient) GetTeamMessages(ctx context.Context, teamID string, limit int, before time.Time) ([]teammsg.Message, bool, error) {
	page, err := c.messages.Get(teamID, limit, before)
	if err != nil {
		return nil, false, err
	}
	return page.Messages, page.HasMore, nil
}

// KVGet returns key's current entry, if any.
func (c *LocalClient) KVGet(ctx context.Context, key string) (KVEntry, bool, error) {
	var e KVEntry
	e.Key = key
	err := c.db.QueryRowContext(ctx, `SELECT value, version FROM kv_entries WHERE key = ?`, key).Scan(&e.Value, &e.Version)
	if err == sql.ErrNoRows {
		return KVEntry{}, false, nil
	}
	if err != nil {
		return KVEntry{}, false, fmt.Errorf("serverclient: kv-get: %w", err)
	}
	return e, true, nil
}

// KVMutate applies each entry's CAS write in order: version -1 means
// create-only (fails if the key already exists); any other version is
// the expected current version. The whole batch runs in a single
// transaction so a partial mutate never leaves the KV store half
// applied.
func (c *LocalClient) KVMutate(ctx context.Context, entries []KVEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("serverclient: kv-mutate begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.Version == -1 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO kv_entries (key, value, version) VALUES (?, ?, 1)`, e.Key, e.Value)
			if err != nil {
				return fmt.Errorf("serverclient: kv-mutate create %q: %w", e.Key, err)
			}
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE kv_entries SET value = ?, version = ? WHERE key = ? AND version = ?`,
			e.Value, e.Version+1, e.Key, e.Version)
		if err != nil {
			return fmt.Errorf("serverclient: kv-mutate update %q: %w", e.Key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("serverclient: kv-mutate rows affected %q: %w", e.Key, err)
		}
		if n == 0 {
			return opstatus.ErrVersionConflict
		}
	}
	return tx.Commit()
}

// Push logs the notification; the local reference client has no
// external push target to deliver to.
func (c *LocalClient) Push(ctx context.Context, p Push) error {
	c.log.Info("serverclient: push", "title", p.Title, "body", p.Body)
	return nil
}
