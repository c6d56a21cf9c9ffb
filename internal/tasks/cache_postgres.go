package tasks

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nextlevelbuilder/squad/pkg/opstatus"
)

// PostgresStore is a Postgres-backed alternative to SQLiteStore for a
// shared deployment (grounded on the teacher's managed-mode database
// config). Nothing in this repository selects it: cmd/session.go opens
// SQLiteStore. It keeps the same single-blob-per-team shape as
// SQLiteStore so Manager never needs to know which Store backs it.
type PostgresStore struct {
	db *sql.DB
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenPostgresStore opens dsn and applies embedded migrations with
// golang-migrate (the teacher's own migrate.go drives the same library
// against its own schema directory).
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres cache: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadBoard(ctx context.Context, teamID string) (*Board, bool, error) {
	var version uint64
	var columnsJSON, tasksJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT version, columns_json, tasks_json FROM task_boards WHERE team_id = $1`, teamID,
	).Scan(&version, &columnsJSON, &tasksJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load board: %w", err)
	}

	var columns []Column
	var tasksMap map[string]*Task
	if err := json.Unmarshal(columnsJSON, &columns); err != nil {
		return nil, false, fmt.Errorf("decode columns: %w", err)
	}
	if err := json.Unmarshal(tasksJSON, &tasksMap); err != nil {
		return nil, false, fmt.Errorf("decode tasks: %w", err)
	}
	return &Board{TeamID: teamID, Columns: columns, Tasks: tasksMap, Version: version}, true, nil
}

func (s *PostgresStore) CreateBoard(ctx context.Context, teamID string) (*Board, error) {
	if existing, found, err := s.LoadBoard(ctx, teamID); err != nil {
		return nil, err
	} else if found {
		return existing, nil
	}

	b := &Board{TeamID: teamID, Columns: DefaultColumns(), Tasks: make(map[string]*Task), Version: 1}
	columnsJSON, _ := json.Marshal(b.Columns)
	tasksJSON, _ := json.Marshal(b.Tasks)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_boards (team_id, version, columns_json, tasks_json) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (team_id) DO NOTHING`,
		teamID, b.Version, columnsJSON, tasksJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) SaveBoard(ctx context.Context, board *Board, expectedVersion uint64) (*Board, error) {
	columnsJSON, err := json.Marshal(board.Columns)
	if err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	tasksJSON, err := json.Marshal(board.Tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE task_boards SET version = $1, columns_json = $2, tasks_json = $3 WHERE team_id = $4 AND version = $5`,
		expectedVersion+1, columnsJSON, tasksJSON, board.TeamID, expectedVersion,
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
func (s *PostgresStore) Close() error { return s.db.Close() }
