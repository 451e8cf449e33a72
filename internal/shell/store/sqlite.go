package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, journalErr("open", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, journalErr("open", "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, journalErr("migrate", "", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, project, opts)
}

func (s *SQLiteStore) AddEvent(ctx context.Context, event *domain.RunEvent) error {
	return addEvent(ctx, s.db, event)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	return listEvents(ctx, s.db, runID)
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, project string, keep int) (int, error) {
	return pruneRuns(ctx, s.db, project, keep)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return journalErr("begin", "", fmt.Errorf("%w: %v", ErrTxFailed, err))
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return journalErr("rollback", "", fmt.Errorf("%w: %v (after %v)", ErrTxFailed, rbErr, err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return journalErr("commit", "", fmt.Errorf("%w: %v", ErrTxFailed, err))
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, project string, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, project, opts)
}

func (s *txSQLiteStore) AddEvent(ctx context.Context, event *domain.RunEvent) error {
	return addEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) ListEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	return listEvents(ctx, s.tx, runID)
}

func (s *txSQLiteStore) PruneRuns(ctx context.Context, project string, keep int) (int, error) {
	return pruneRuns(ctx, s.tx, project, keep)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID         string  `db:"id"`
	Operation  string  `db:"operation"`
	Project    string  `db:"project"`
	Profile    string  `db:"profile"`
	Status     string  `db:"status"`
	Message    string  `db:"message"`
	StartedAt  string  `db:"started_at"`
	UpdatedAt  string  `db:"updated_at"`
	FinishedAt *string `db:"finished_at"`
}

// eventRow represents a run event row in the database.
type eventRow struct {
	ID        int64  `db:"id"`
	RunID     string `db:"run_id"`
	Type      string `db:"type"`
	Service   string `db:"service"`
	Phase     int    `db:"phase"`
	Detail    string `db:"detail"`
	CreatedAt string `db:"created_at"`
}

func runToRow(run *domain.Run) map[string]any {
	var finishedAt *string
	if run.FinishedAt != nil {
		s := run.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &s
	}
	return map[string]any{
		"id":          run.ID,
		"operation":   string(run.Operation),
		"project":     run.Project,
		"profile":     run.Profile,
		"status":      string(run.Status),
		"message":     run.Message,
		"started_at":  run.StartedAt.UTC().Format(timeLayout),
		"updated_at":  run.UpdatedAt.UTC().Format(timeLayout),
		"finished_at": finishedAt,
	}
}

func rowToRun(row *runRow) domain.Run {
	startedAt, _ := time.Parse(timeLayout, row.StartedAt)
	updatedAt, _ := time.Parse(timeLayout, row.UpdatedAt)

	run := domain.Run{
		ID:        row.ID,
		Operation: domain.Operation(row.Operation),
		Project:   row.Project,
		Profile:   row.Profile,
		Status:    domain.RunStatus(row.Status),
		Message:   row.Message,
		StartedAt: startedAt,
		UpdatedAt: updatedAt,
	}
	if row.FinishedAt != nil {
		t, _ := time.Parse(timeLayout, *row.FinishedAt)
		run.FinishedAt = &t
	}
	return run
}

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, operation, project, profile, status, message,
			started_at, updated_at, finished_at
		) VALUES (
			:id, :operation, :project, :profile, :status, :message,
			:started_at, :updated_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return journalErr("CreateRun", run.ID, ErrDuplicateID)
		}
		return journalErr("CreateRun", run.ID, err)
	}
	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, journalErr("GetRun", id, ErrNotFound)
		}
		return nil, journalErr("GetRun", id, err)
	}
	run := rowToRun(&row)
	return &run, nil
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			status = :status,
			message = :message,
			updated_at = :updated_at,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		return journalErr("UpdateRun", run.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return journalErr("UpdateRun", run.ID, err)
	}
	if rows == 0 {
		return journalErr("UpdateRun", run.ID, ErrNotFound)
	}
	return nil
}

// listRuns returns a project's runs, newest first. An empty project lists
// every project.
func listRuns(ctx context.Context, exec executor, project string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()

	var rows []runRow
	var err error
	if project == "" {
		err = exec.SelectContext(ctx, &rows,
			`SELECT * FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
			opts.Limit, opts.Offset)
	} else {
		err = exec.SelectContext(ctx, &rows,
			`SELECT * FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`,
			project, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, journalErr("ListRuns", "", err)
	}

	runs := make([]domain.Run, 0, len(rows))
	for i := range rows {
		runs = append(runs, rowToRun(&rows[i]))
	}
	return runs, nil
}

func addEvent(ctx context.Context, exec executor, event *domain.RunEvent) error {
	query := `
		INSERT INTO run_events (run_id, type, service, phase, detail, created_at)
		VALUES (:run_id, :type, :service, :phase, :detail, :created_at)`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	row := map[string]any{
		"run_id":     event.RunID,
		"type":       string(event.Type),
		"service":    event.Service,
		"phase":      event.Phase,
		"detail":     event.Detail,
		"created_at": event.CreatedAt.UTC().Format(timeLayout),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return journalErr("AddEvent", event.RunID, ErrForeignKey)
		}
		return journalErr("AddEvent", event.RunID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func listEvents(ctx context.Context, exec executor, runID string) ([]domain.RunEvent, error) {
	var rows []eventRow
	err := exec.SelectContext(ctx, &rows, `SELECT * FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, journalErr("ListEvents", runID, err)
	}

	events := make([]domain.RunEvent, 0, len(rows))
	for _, row := range rows {
		createdAt, _ := time.Parse(timeLayout, row.CreatedAt)
		events = append(events, domain.RunEvent{
			ID:        row.ID,
			RunID:     row.RunID,
			Type:      domain.EventType(row.Type),
			Service:   row.Service,
			Phase:     row.Phase,
			Detail:    row.Detail,
			CreatedAt: createdAt,
		})
	}
	return events, nil
}

func pruneRuns(ctx context.Context, exec executor, project string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM runs
		WHERE project = ? AND id NOT IN (
			SELECT id FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT ?
		)`

	result, err := exec.ExecContext(ctx, query, project, project, keep)
	if err != nil {
		return 0, journalErr("PruneRuns", "", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, journalErr("PruneRuns", "", err)
	}
	return int(rows), nil
}
