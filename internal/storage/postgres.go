package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
)

// PostgreSQL error codes
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for the migration runner
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateStudy inserts a study record
func (r *PostgresRepository) CreateStudy(ctx context.Context, s *models.Study) error {
	query := `
		INSERT INTO studies (id, name, require_confidence, allow_retries, max_time_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		s.RequireConfidence,
		s.AllowRetries,
		s.MaxTimeLimit,
		s.CreatedAt,
	)
	if err != nil {
		return translate("create study", err)
	}

	return nil
}

// GetStudy retrieves a study by ID
func (r *PostgresRepository) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	query := `
		SELECT id, name, require_confidence, allow_retries, max_time_limit, created_at
		FROM studies
		WHERE id = $1
	`

	var s models.Study
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.Name,
		&s.RequireConfidence,
		&s.AllowRetries,
		&s.MaxTimeLimit,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("study")
		}
		return nil, apperr.Persistence("load study", err)
	}

	return &s, nil
}

// SaveCompiledTree replaces the compiled tree of a study
func (r *PostgresRepository) SaveCompiledTree(ctx context.Context, studyID string, nodes []models.TreeNode, rawNotation string) error {
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal tree: %w", err)
	}

	query := `
		INSERT INTO compiled_trees (study_id, nodes, raw_notation, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (study_id) DO UPDATE
		SET nodes = EXCLUDED.nodes, raw_notation = EXCLUDED.raw_notation, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, studyID, nodesJSON, rawNotation); err != nil {
		return translate("save compiled tree", err)
	}

	return nil
}

// LoadCompiledTree retrieves the compiled tree of a study
func (r *PostgresRepository) LoadCompiledTree(ctx context.Context, studyID string) (*models.CompiledTree, error) {
	query := `
		SELECT study_id, nodes, raw_notation, updated_at
		FROM compiled_trees
		WHERE study_id = $1
	`

	var t models.CompiledTree
	var nodesJSON []byte

	err := r.pool.QueryRow(ctx, query, studyID).Scan(&t.StudyID, &nodesJSON, &t.RawNotation, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("compiled tree")
		}
		return nil, apperr.Persistence("load compiled tree", err)
	}

	if err := json.Unmarshal(nodesJSON, &t.Nodes); err != nil {
		return nil, apperr.Persistence("decode compiled tree", err)
	}

	return &t, nil
}

// CreateTask inserts a task record
func (r *PostgresRepository) CreateTask(ctx context.Context, t *models.Task) error {
	query := `
		INSERT INTO tasks (id, study_id, position, description, expected_answer, max_time_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.StudyID,
		t.Position,
		t.Description,
		t.ExpectedAnswer,
		t.MaxTimeSeconds,
		t.CreatedAt,
	)
	if err != nil {
		return translate("create task", err)
	}

	return nil
}

const taskColumns = `id, study_id, position, description, expected_answer, max_time_seconds, created_at`

// GetTask retrieves a task by ID
func (r *PostgresRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("task")
		}
		return nil, apperr.Persistence("load task", err)
	}

	return t, nil
}

// LoadTasks returns the tasks of a study in position order
func (r *PostgresRepository) LoadTasks(ctx context.Context, studyID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE study_id = $1 ORDER BY position, created_at`

	rows, err := r.pool.Query(ctx, query, studyID)
	if err != nil {
		return nil, apperr.Persistence("load tasks", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Persistence("scan task", err)
		}
		tasks = append(tasks, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("load tasks", err)
	}

	return tasks, nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID,
		&t.StudyID,
		&t.Position,
		&t.Description,
		&t.ExpectedAnswer,
		&t.MaxTimeSeconds,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveOutcome inserts an outcome record. A second record with the same
// participant, task and sequence is rejected.
func (r *PostgresRepository) SaveOutcome(ctx context.Context, participantID, taskID string, a *models.TaskAttempt) error {
	clicks := a.Clicks
	if clicks == nil {
		clicks = []string{}
	}
	clicksJSON, err := json.Marshal(clicks)
	if err != nil {
		return fmt.Errorf("failed to marshal clicks: %w", err)
	}

	query := `
		INSERT INTO task_attempts (id, study_id, task_id, participant_id, sequence, successful, direct_path_taken, skipped,
			path_taken, selected_path, clicks, completion_time_seconds, confidence_rating, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.pool.Exec(ctx, query,
		a.ID,
		a.StudyID,
		taskID,
		participantID,
		a.Sequence,
		a.Successful,
		a.DirectPathTaken,
		a.Skipped,
		a.PathTaken,
		a.SelectedPath,
		clicksJSON,
		a.CompletionTimeSeconds,
		nullInt(a.ConfidenceRating),
		a.CreatedAt,
	)
	if err != nil {
		return translate("save outcome", err)
	}

	return nil
}

const attemptColumns = `id, study_id, task_id, participant_id, sequence, successful, direct_path_taken, skipped,
	path_taken, selected_path, clicks, completion_time_seconds, confidence_rating, created_at`

// LoadAttempts returns the outcome records of a task
func (r *PostgresRepository) LoadAttempts(ctx context.Context, taskID string) ([]models.TaskAttempt, error) {
	return r.queryAttempts(ctx, "task_id", taskID)
}

// LoadStudyAttempts returns the outcome records of every task of a study
func (r *PostgresRepository) LoadStudyAttempts(ctx context.Context, studyID string) ([]models.TaskAttempt, error) {
	return r.queryAttempts(ctx, "study_id", studyID)
}

// LoadParticipantAttempts returns the outcome records of one participant
func (r *PostgresRepository) LoadParticipantAttempts(ctx context.Context, participantID string) ([]models.TaskAttempt, error) {
	return r.queryAttempts(ctx, "participant_id", participantID)
}

func (r *PostgresRepository) queryAttempts(ctx context.Context, field, value string) ([]models.TaskAttempt, error) {
	// field is always one of the indexed columns above, never user input
	query := fmt.Sprintf(`SELECT %s FROM task_attempts WHERE %s = $1 ORDER BY created_at, id`, attemptColumns, field)

	rows, err := r.pool.Query(ctx, query, value)
	if err != nil {
		return nil, apperr.Persistence("load attempts", err)
	}
	defer rows.Close()

	var attempts []models.TaskAttempt
	for rows.Next() {
		var a models.TaskAttempt
		var clicksJSON []byte
		var confidence sql.NullInt32

		err := rows.Scan(
			&a.ID,
			&a.StudyID,
			&a.TaskID,
			&a.ParticipantID,
			&a.Sequence,
			&a.Successful,
			&a.DirectPathTaken,
			&a.Skipped,
			&a.PathTaken,
			&a.SelectedPath,
			&clicksJSON,
			&a.CompletionTimeSeconds,
			&confidence,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Persistence("scan attempt", err)
		}

		if err := json.Unmarshal(clicksJSON, &a.Clicks); err != nil {
			return nil, apperr.Persistence("decode attempt clicks", err)
		}
		if len(a.Clicks) == 0 {
			a.Clicks = nil
		}
		if confidence.Valid {
			v := int(confidence.Int32)
			a.ConfidenceRating = &v
		}

		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("load attempts", err)
	}

	return attempts, nil
}

// DeleteAttempt removes one outcome record
func (r *PostgresRepository) DeleteAttempt(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM task_attempts WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete attempt", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("attempt")
	}

	return nil
}

// CreateParticipant inserts a participant record
func (r *PostgresRepository) CreateParticipant(ctx context.Context, p *models.Participant) error {
	query := `
		INSERT INTO participants (id, study_id, started_at, completed_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, p.ID, p.StudyID, p.StartedAt, nullTime(p.CompletedAt)); err != nil {
		return translate("create participant", err)
	}

	return nil
}

// GetParticipant retrieves a participant by ID, without attempts
func (r *PostgresRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	query := `SELECT id, study_id, started_at, completed_at FROM participants WHERE id = $1`

	p, err := scanParticipant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("participant")
		}
		return nil, apperr.Persistence("load participant", err)
	}

	return p, nil
}

// CompleteParticipant records when a participant finished the study
func (r *PostgresRepository) CompleteParticipant(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE participants SET completed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return apperr.Persistence("complete participant", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFound("participant")
	}

	return nil
}

// ListParticipants returns the participants of a study, oldest first
func (r *PostgresRepository) ListParticipants(ctx context.Context, studyID string) ([]models.Participant, error) {
	query := `
		SELECT id, study_id, started_at, completed_at
		FROM participants
		WHERE study_id = $1
		ORDER BY started_at
	`

	rows, err := r.pool.Query(ctx, query, studyID)
	if err != nil {
		return nil, apperr.Persistence("list participants", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, apperr.Persistence("scan participant", err)
		}
		participants = append(participants, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list participants", err)
	}

	return participants, nil
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	var completedAt sql.NullTime

	if err := row.Scan(&p.ID, &p.StudyID, &p.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

// translate maps constraint violations on writes to domain errors
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return apperr.NotFound(referencedResource(pgErr.ConstraintName))
		case pgUniqueViolation:
			return apperr.Validation("%s: record already exists", op)
		}
	}
	return apperr.Persistence(op, err)
}

func referencedResource(constraint string) string {
	switch constraint {
	case "tasks_study_id_fkey", "compiled_trees_study_id_fkey", "participants_study_id_fkey", "task_attempts_study_id_fkey":
		return "study"
	case "task_attempts_task_id_fkey":
		return "task"
	case "task_attempts_participant_id_fkey":
		return "participant"
	}
	return "referenced record"
}

// Helper functions for nullable fields

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
