package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"broadcast-ops/backend/pkg/models"
)

const uniqueViolation = "23505"

const episodeColumns = `id, program_id, episode_number, title, status, current_step, created_by, created_at, updated_at`

const subWorkColumns = `id, episode_id, discipline, status, assigned_to, notes, created_by, fields, predecessors, checklist, created_at, updated_at`

// PostgresStore is a PostgreSQL implementation of the Repository interface.
// Update serialises work per episode with a row lock on the episode.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateEpisode stores a new episode and runs fn in the same transaction.
func (s *PostgresStore) CreateEpisode(ctx context.Context, ep *models.Episode, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ep.ID, ep.ProgramID, ep.EpisodeNumber, ep.Title, string(ep.Status), ep.CurrentStep, ep.CreatedBy, ep.CreatedAt, ep.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: episode %s (program %s, number %d)", models.ErrAlreadyExists, ep.ID, ep.ProgramID, ep.EpisodeNumber)
	}
	if err != nil {
		return err
	}
	if fn != nil {
		saved := *ep
		if err := fn(&postgresTx{tx: tx, episode: &saved}); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetEpisode retrieves an episode by its ID.
func (s *PostgresStore) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	row := s.db.QueryRow(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: episode %s", models.ErrNotFound, id)
	}
	return ep, err
}

// ListEpisodes returns every episode ordered by creation time.
func (s *PostgresStore) ListEpisodes(ctx context.Context) ([]*models.Episode, error) {
	rows, err := s.db.Query(ctx, `SELECT `+episodeColumns+` FROM episodes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []*models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// FindSubWork looks a sub-work up by ID.
func (s *PostgresStore) FindSubWork(ctx context.Context, id string) (*models.SubWork, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE id = $1`, id)
	w, err := scanSubWork(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: sub-work %s", models.ErrNotFound, id)
	}
	return w, err
}

// View runs fn in a read-only transaction.
func (s *PostgresStore) View(ctx context.Context, episodeID string, fn func(tx Tx) error) error {
	return s.run(ctx, episodeID, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

// Update runs fn in a transaction holding SELECT ... FOR UPDATE on the episode row.
func (s *PostgresStore) Update(ctx context.Context, episodeID string, fn func(tx Tx) error) error {
	return s.run(ctx, episodeID, pgx.TxOptions{}, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, episodeID string, opts pgx.TxOptions, lock bool, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	ep, err := scanEpisode(tx.QueryRow(ctx, query, episodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: episode %s", models.ErrNotFound, episodeID)
	}
	if err != nil {
		return fmt.Errorf("failed to load episode: %w", err)
	}

	if err := fn(&postgresTx{tx: tx, episode: ep}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx      pgx.Tx
	episode *models.Episode
}

func (t *postgresTx) Episode() *models.Episode {
	ep := *t.episode
	return &ep
}

func (t *postgresTx) SaveEpisode(ctx context.Context, ep *models.Episode) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE episodes SET title = $1, status = $2, current_step = $3, updated_at = $4
		WHERE id = $5
	`, ep.Title, string(ep.Status), ep.CurrentStep, ep.UpdatedAt, t.episode.ID)
	if err != nil {
		return err
	}
	saved := *ep
	t.episode = &saved
	return nil
}

func (t *postgresTx) InsertSteps(ctx context.Context, steps []*models.WorkflowStepProgress) error {
	batch := &pgx.Batch{}
	for _, p := range steps {
		batch.Queue(`
			INSERT INTO workflow_step_progress (episode_id, step, step_key, name, status, completed_at, notes, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, t.episode.ID, p.Step, p.Key, p.Name, string(p.Status), p.CompletedAt, p.Notes, p.UpdatedAt)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range steps {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: workflow steps of episode %s", models.ErrAlreadyExists, t.episode.ID)
			}
			return err
		}
	}
	return results.Close()
}

func (t *postgresTx) ListSteps(ctx context.Context) ([]*models.WorkflowStepProgress, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT episode_id, step, step_key, name, status, completed_at, notes, updated_at
		FROM workflow_step_progress WHERE episode_id = $1 ORDER BY step
	`, t.episode.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStepProgress
	for rows.Next() {
		p, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, p)
	}
	return steps, rows.Err()
}

func (t *postgresTx) GetStep(ctx context.Context, step int) (*models.WorkflowStepProgress, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT episode_id, step, step_key, name, status, completed_at, notes, updated_at
		FROM workflow_step_progress WHERE episode_id = $1 AND step = $2
	`, t.episode.ID, step)
	p, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: step %d of episode %s", models.ErrNotFound, step, t.episode.ID)
	}
	return p, err
}

func (t *postgresTx) SaveStep(ctx context.Context, p *models.WorkflowStepProgress) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE workflow_step_progress
		SET status = $1, completed_at = $2, notes = $3, updated_at = $4
		WHERE episode_id = $5 AND step = $6
	`, string(p.Status), p.CompletedAt, p.Notes, p.UpdatedAt, t.episode.ID, p.Step)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: step %d of episode %s", models.ErrNotFound, p.Step, t.episode.ID)
	}
	return nil
}

func (t *postgresTx) ListSubWorks(ctx context.Context) ([]*models.SubWork, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE episode_id = $1 ORDER BY created_at, id`, t.episode.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var works []*models.SubWork
	for rows.Next() {
		w, err := scanSubWork(rows)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

func (t *postgresTx) GetSubWork(ctx context.Context, discipline models.Discipline) (*models.SubWork, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+subWorkColumns+` FROM sub_works WHERE episode_id = $1 AND discipline = $2`,
		t.episode.ID, string(discipline))
	w, err := scanSubWork(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s sub-work of episode %s", models.ErrNotFound, discipline, t.episode.ID)
	}
	return w, err
}

func (t *postgresTx) CreateSubWork(ctx context.Context, w *models.SubWork) error {
	fields, predecessors, checklist, err := marshalSubWork(w)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO sub_works (`+subWorkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, w.ID, t.episode.ID, string(w.Discipline), string(w.Status), w.AssignedTo, w.Notes, w.CreatedBy,
		fields, predecessors, checklist, w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s sub-work of episode %s", models.ErrAlreadyExists, w.Discipline, t.episode.ID)
	}
	return err
}

func (t *postgresTx) SaveSubWork(ctx context.Context, w *models.SubWork) error {
	fields, predecessors, checklist, err := marshalSubWork(w)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE sub_works
		SET status = $1, assigned_to = $2, notes = $3, fields = $4, predecessors = $5, checklist = $6, updated_at = $7
		WHERE id = $8 AND episode_id = $9
	`, string(w.Status), w.AssignedTo, w.Notes, fields, predecessors, checklist, w.UpdatedAt, w.ID, t.episode.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sub-work %s", models.ErrNotFound, w.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanEpisode(row pgx.Row) (*models.Episode, error) {
	var ep models.Episode
	var status string
	err := row.Scan(&ep.ID, &ep.ProgramID, &ep.EpisodeNumber, &ep.Title, &status, &ep.CurrentStep,
		&ep.CreatedBy, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ep.Status = models.EpisodeStatus(status)
	return &ep, nil
}

func scanStep(row pgx.Row) (*models.WorkflowStepProgress, error) {
	var p models.WorkflowStepProgress
	var status string
	err := row.Scan(&p.EpisodeID, &p.Step, &p.Key, &p.Name, &status, &p.CompletedAt, &p.Notes, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.StepStatus(status)
	return &p, nil
}

func scanSubWork(row pgx.Row) (*models.SubWork, error) {
	var w models.SubWork
	var discipline, status string
	var fields, predecessors, checklist []byte
	err := row.Scan(&w.ID, &w.EpisodeID, &discipline, &status, &w.AssignedTo, &w.Notes, &w.CreatedBy,
		&fields, &predecessors, &checklist, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.Discipline = models.Discipline(discipline)
	w.Status = models.SubWorkStatus(status)
	if err := decodeSubWork(&w, fields, predecessors, checklist); err != nil {
		return nil, err
	}
	return &w, nil
}

// decodeSubWork fills the JSON columns of w. Empty maps are never nil.
func decodeSubWork(w *models.SubWork, fields, predecessors, checklist []byte) error {
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &w.Fields); err != nil {
			return fmt.Errorf("decode fields of sub-work %s: %w", w.ID, err)
		}
	}
	if w.Fields == nil {
		w.Fields = make(map[string]string)
	}
	if len(predecessors) > 0 {
		if err := json.Unmarshal(predecessors, &w.Predecessors); err != nil {
			return fmt.Errorf("decode predecessors of sub-work %s: %w", w.ID, err)
		}
	}
	if w.Predecessors == nil {
		w.Predecessors = make(map[models.Discipline]string)
	}
	if len(checklist) > 0 && string(checklist) != "null" {
		if err := json.Unmarshal(checklist, &w.Checklist); err != nil {
			return fmt.Errorf("decode checklist of sub-work %s: %w", w.ID, err)
		}
	}
	return nil
}

func marshalSubWork(w *models.SubWork) (fields, predecessors, checklist []byte, err error) {
	if fields, err = marshalObject(w.Fields); err != nil {
		return nil, nil, nil, err
	}
	if predecessors, err = marshalObject(w.Predecessors); err != nil {
		return nil, nil, nil, err
	}
	if w.Checklist != nil {
		if checklist, err = json.Marshal(w.Checklist); err != nil {
			return nil, nil, nil, err
		}
	}
	return fields, predecessors, checklist, nil
}

// marshalObject encodes a map, writing {} for nil so NOT NULL columns hold an object.
func marshalObject(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte("{}"), nil
	}
	return data, nil
}
