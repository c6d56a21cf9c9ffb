package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// SQLiteStore is the durable local cache used in standalone mode (no
// remote coordination server configured): the whole board is stored as
// one JSON blob per team alongside a version counter, which keeps the
// optimistic-concurrency contract identical to the in-memory store while
// surviving process restarts.
//
// Grounded on the teacher's sessions.Manager.Save atomic-write discipline
// (internal/sessions/manager.go) for *why* a single blob column is safe to
// overwrite in place here: SQLite's own transaction guarantees replace
// the teacher's create-temp-then-rename dance, since a single-row
// UPDATE ... WHERE version = ? is already atomic at the engine level.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a SQLite-backed Store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS boards (
	team_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	columns_json TEXT NOT NULL,
	tasks_json TEXT NOT NULL
);
`

type boardRow struct {
	Columns []Column         `json:"columns"`
	Tasks   map[string]*Task `json:"tasks"`
}

func (s *SQLiteStore) LoadBoard(ctx context.Context, teamID string) (*Board, bool, error) {
	var version uint64
	var columnsJSON, tasksJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, columns_json, tasks_json FROM boards WHERE team_id = ?`, teamID,
	).Scan(&version, &columnsJSON, &tasksJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load board: %w", err)
	}

	var row boardRow
	if err := json.Unmarshal([]byte(columnsJSON), &row.Columns); err != nil {
		return nil, false, fmt.Errorf("decode columns: %w", err)
	}
	if err := json.Unmarshal([]byte(tasksJSON), &row.Tasks); err != nil {
		return nil, false, fmt.Errorf("decode tasks: %w", err)
	}

	return &Board{TeamID: teamID, Columns: row.Columns, Tasks: row.Tasks, Version: version}, true, nil
}

func (s *SQLiteStore) CreateBoard(ctx context.Context, teamID string) (*Board, error) {
	if existing, found, err := s.LoadBoard(ctx, teamID); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	b := &Board{TeamID: teamID, Columns: DefaultColumns(), Tasks: make(map[string]*Task), Version: 1}
	columnsJSON, _ := json.Marshal(b.Columns)
	tasksJSON, _ := json.Marshal(b.Tasks)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO boards (team_id, version, columns_json, tasks_json) VALUES (?, ?, ?, ?)`,
		teamID, b.Version, string(columnsJSON), string(tasksJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) SaveBoard(ctx context.Context, board *Board, expectedVersion uint64) (*Board, error) {
	columnsJSON, err := json.Marshal(board.Columns)
	if err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	tasksJSON, err := json.Marshal(board.Tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE boards SET version = ?, columns_json = ?, tasks_json = ? WHERE team_id = ? AND version = ?`,
		expectedVersion+1, string(columnsJSON), string(tasksJSON), board.TeamID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("save board: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("save board rows affected: %w", err)
	}
	if n == 0 {
		return nil, opstatus.ErrVersionConflict
	}

	next := *board
	next.Version = expectedVersion + 1
	return &next, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
