package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"broadcast-ops/backend/pkg/models"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var errReadOnly = errors.New("read-only transaction")

// SQLiteStore is a SQLite implementation of the Repository interface. The
// pool holds a single connection, so transactions run one at a time and an
// in-memory database lives as long as the store.
type SQLiteStore struct {
	db     *sql.DB
	writes atomic.Int64
}

// OpenSQLite opens the database at dsn and applies the schema. Use MemoryDSN
// for a throwaway store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenMemory opens an empty in-memory store.
func OpenMemory() (*SQLiteStore, error) {
	return OpenSQLite(context.Background(), MemoryDSN)
}

// Close closes the database. An in-memory database is discarded.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Writes returns the number of committed row writes.
func (s *SQLiteStore) Writes() int64 {
	return s.writes.Load()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateEpisode stores a new episode and runs fn in the same transaction.
func (s *SQLiteStore) CreateEpisode(ctx context.Context, ep *models.Episode, fn func(tx Tx) error) error {
	return s.run(ctx, func(tx *sql.Tx) (*sqliteTx, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (`+episodeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ep.ID, ep.ProgramID, ep.EpisodeNumber, ep.Title, string(ep.Status), ep.CurrentStep, ep.CreatedBy,
			formatTime(ep.CreatedAt), formatTime(ep.UpdatedAt))
		if isSQLiteConstraint(err) {
			return nil, fmt.Errorf("%w: episode %s (program %s, number %d)", models.ErrAlreadyExists, ep.ID, ep.ProgramID, ep.EpisodeNumber)
		}
		if err != nil {
			return nil, err
		}
		saved := *ep
		return &sqliteTx{tx: tx, episode: &saved, writes: 1}, nil
	}, fn)
}

// GetEpisode retrieves an episode by its ID.
func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanSQLiteEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: episode %s", models.ErrNotFound, id)
	}
	return ep, err
}

// ListEpisodes returns every episode ordered by creation time.
func (s *SQLiteStore) ListEpisodes(ctx context.Context) ([]*models.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeColumns+` FROM episodes ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []*models.Episode
	for rows.Next() {
		ep, err := scanSQLiteEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// FindSubWork looks a sub-work up by ID.
func (s *SQLiteStore) FindSubWork(ctx context.Context, id string) (*models.SubWork, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE id = ?`, id)
	w, err := scanSQLiteSubWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sub-work %s", models.ErrNotFound, id)
	}
	return w, err
}

// View runs fn in a transaction that rejects writes.
func (s *SQLiteStore) View(ctx context.Context, episodeID string, fn func(tx Tx) error) error {
	return s.run(ctx, s.loadEpisode(ctx, episodeID, true), fn)
}

// Update runs fn in a transaction. The single connection serialises it
// against every other transaction on the store.
func (s *SQLiteStore) Update(ctx context.Context, episodeID string, fn func(tx Tx) error) error {
	return s.run(ctx, s.loadEpisode(ctx, episodeID, false), fn)
}

func (s *SQLiteStore) loadEpisode(ctx context.Context, episodeID string, readOnly bool) func(tx *sql.Tx) (*sqliteTx, error) {
	return func(tx *sql.Tx) (*sqliteTx, error) {
		row := tx.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, episodeID)
		ep, err := scanSQLiteEpisode(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: episode %s", models.ErrNotFound, episodeID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load episode: %w", err)
		}
		return &sqliteTx{tx: tx, episode: ep, readOnly: readOnly}, nil
	}
}

func (s *SQLiteStore) run(ctx context.Context, open func(tx *sql.Tx) (*sqliteTx, error), fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stx, err := open(tx)
	if err != nil {
		return err
	}
	if fn != nil {
		if err := fn(stx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.writes.Add(stx.writes)
	return nil
}

type sqliteTx struct {
	tx       *sql.Tx
	episode  *models.Episode
	readOnly bool
	writes   int64
}

func (t *sqliteTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	t.writes++
	return res, nil
}

func (t *sqliteTx) Episode() *models.Episode {
	ep := *t.episode
	return &ep
}

func (t *sqliteTx) SaveEpisode(ctx context.Context, ep *models.Episode) error {
	_, err := t.exec(ctx, `
		UPDATE episodes SET title = ?, status = ?, current_step = ?, updated_at = ?
		WHERE id = ?
	`, ep.Title, string(ep.Status), ep.CurrentStep, formatTime(ep.UpdatedAt), t.episode.ID)
	if err != nil {
		return err
	}
	saved := *ep
	saved.ID = t.episode.ID
	t.episode = &saved
	return nil
}

func (t *sqliteTx) InsertSteps(ctx context.Context, steps []*models.WorkflowStepProgress) error {
	for _, p := range steps {
		_, err := t.exec(ctx, `
			INSERT INTO workflow_step_progress (episode_id, step, step_key, name, status, completed_at, notes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.episode.ID, p.Step, p.Key, p.Name, string(p.Status), formatNullTime(p.CompletedAt), p.Notes, formatTime(p.UpdatedAt))
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: workflow steps of episode %s", models.ErrAlreadyExists, t.episode.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) ListSteps(ctx context.Context) ([]*models.WorkflowStepProgress, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT episode_id, step, step_key, name, status, completed_at, notes, updated_at
		FROM workflow_step_progress WHERE episode_id = ? ORDER BY step
	`, t.episode.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStepProgress
	for rows.Next() {
		p, err := scanSQLiteStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, p)
	}
	return steps, rows.Err()
}

func (t *sqliteTx) GetStep(ctx context.Context, step int) (*models.WorkflowStepProgress, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT episode_id, step, step_key, name, status, completed_at, notes, updated_at
		FROM workflow_step_progress WHERE episode_id = ? AND step = ?
	`, t.episode.ID, step)
	p, err := scanSQLiteStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: step %d of episode %s", models.ErrNotFound, step, t.episode.ID)
	}
	return p, err
}

func (t *sqliteTx) SaveStep(ctx context.Context, p *models.WorkflowStepProgress) error {
	res, err := t.exec(ctx, `
		UPDATE workflow_step_progress
		SET status = ?, completed_at = ?, notes = ?, updated_at = ?
		WHERE episode_id = ? AND step = ?
	`, string(p.Status), formatNullTime(p.CompletedAt), p.Notes, formatTime(p.UpdatedAt), t.episode.ID, p.Step)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("step %d of episode %s", p.Step, t.episode.ID))
}

func (t *sqliteTx) ListSubWorks(ctx context.Context) ([]*models.SubWork, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE episode_id = ? ORDER BY created_at, rowid`, t.episode.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var works []*models.SubWork
	for rows.Next() {
		w, err := scanSQLiteSubWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

func (t *sqliteTx) GetSubWork(ctx context.Context, discipline models.Discipline) (*models.SubWork, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE episode_id = ? AND discipline = ?`,
		t.episode.ID, string(discipline))
	w, err := scanSQLiteSubWork(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s sub-work of episode %s", models.ErrNotFound, discipline, t.episode.ID)
	}
	return w, err
}

func (t *sqliteTx) CreateSubWork(ctx context.Context, w *models.SubWork) error {
	fields, predecessors, checklist, err := marshalSubWork(w)
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `
		INSERT INTO sub_works (`+subWorkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, t.episode.ID, string(w.Discipline), string(w.Status), w.AssignedTo, w.Notes, w.CreatedBy,
		string(fields), string(predecessors), nullableJSON(checklist), formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if isSQLiteConstraint(err) {
		return fmt.Errorf("%w: %s sub-work of episode %s", models.ErrAlreadyExists, w.Discipline, t.episode.ID)
	}
	return err
}

func (t *sqliteTx) SaveSubWork(ctx context.Context, w *models.SubWork) error {
	fields, predecessors, checklist, err := marshalSubWork(w)
	if err != nil {
		return err
	}
	res, err := t.exec(ctx, `
		UPDATE sub_works
		SET status = ?, assigned_to = ?, notes = ?, fields = ?, predecessors = ?, checklist = ?, updated_at = ?
		WHERE id = ? AND episode_id = ?
	`, string(w.Status), w.AssignedTo, w.Notes, string(fields), string(predecessors), nullableJSON(checklist),
		formatTime(w.UpdatedAt), w.ID, t.episode.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "sub-work "+w.ID)
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	return nil
}

func isSQLiteConstraint(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullableJSON(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteEpisode(row sqlRow) (*models.Episode, error) {
	var ep models.Episode
	var status, createdAt, updatedAt string
	err := row.Scan(&ep.ID, &ep.ProgramID, &ep.EpisodeNumber, &ep.Title, &status, &ep.CurrentStep,
		&ep.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ep.Status = models.EpisodeStatus(status)
	if ep.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ep.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ep, nil
}

func scanSQLiteStep(row sqlRow) (*models.WorkflowStepProgress, error) {
	var p models.WorkflowStepProgress
	var status, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&p.EpisodeID, &p.Step, &p.Key, &p.Name, &status, &completedAt, &p.Notes, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.StepStatus(status)
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		p.CompletedAt = &t
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteSubWork(row sqlRow) (*models.SubWork, error) {
	var w models.SubWork
	var discipline, status, fields, predecessors, createdAt, updatedAt string
	var checklist sql.NullString
	err := row.Scan(&w.ID, &w.EpisodeID, &discipline, &status, &w.AssignedTo, &w.Notes, &w.CreatedBy,
		&fields, &predecessors, &checklist, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	w.Discipline = models.Discipline(discipline)
	w.Status = models.SubWorkStatus(status)
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	var checklistJSON []byte
	if checklist.Valid {
		checklistJSON = []byte(checklist.String)
	}
	if err := decodeSubWork(&w, []byte(fields), []byte(predecessors), checklistJSON); err != nil {
		return nil, err
	}
	return &w, nil
}
