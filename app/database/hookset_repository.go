package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ HookSetRepository = (*hookSetRepository)(nil)

type hookSetRepository struct {
	db *DB
}

func NewHookSetRepository(db *DB) HookSetRepository {
	return &hookSetRepository{db: db}
}

const hookSetColumns = `id, quiz_id, status, questions, pedagogy, error_message,
	retry_count, model_version, created_at, updated_at`

func scanHookSet(row interface{ Scan(...any) error }) (*HookSet, error) {
	var h HookSet
	var questions, pedagogy sql.NullString

	err := row.Scan(&h.ID, &h.QuizID, &h.Status, &questions, &pedagogy, &h.ErrorMessage,
		&h.RetryCount, &h.ModelVersion, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if questions.Valid && questions.String != "" {
		h.Questions = []byte(questions.String)
	}
	if pedagogy.Valid && pedagogy.String != "" {
		h.Pedagogy = []byte(pedagogy.String)
	}

	return &h, nil
}

func (r *hookSetRepository) UpsertByQuiz(quizID string) (*HookSet, error) {
	now := time.Now().UTC()
	row := r.db.QueryRow(`
		INSERT INTO hook_sets (id, quiz_id, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)
		ON CONFLICT(quiz_id) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING `+hookSetColumns+`
	`, uuid.NewString(), quizID, now, now)

	hookSet, err := scanHookSet(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert hook set: %w", err)
	}

	return hookSet, nil
}

func (r *hookSetRepository) GetByQuiz(quizID string) (*HookSet, error) {
	row := r.db.QueryRow(`SELECT `+hookSetColumns+` FROM hook_sets WHERE quiz_id = ?`, quizID)

	hookSet, err := scanHookSet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook set by quiz: %w", err)
	}

	return hookSet, nil
}

func (r *hookSetRepository) MarkReady(id string, questions, pedagogy []byte, modelVersion string) error {
	_, err := r.db.Exec(`
		UPDATE hook_sets
		SET status = 'ready', questions = ?, pedagogy = ?, model_version = ?,
		    error_message = '', updated_at = ?
		WHERE id = ?
	`, string(questions), string(pedagogy), modelVersion, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark hook set ready: %w", err)
	}

	return nil
}

func (r *hookSetRepository) MarkFailed(id, errorMessage string) (int, error) {
	var retryCount int
	err := r.db.QueryRow(`
		UPDATE hook_sets
		SET status = 'failed', error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING retry_count
	`, errorMessage, time.Now().UTC(), id).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("failed to mark hook set failed: %w", err)
	}

	return retryCount, nil
}

func (r *hookSetRepository) MarkSkipped(id, errorMessage string) error {
	_, err := r.db.Exec(`
		UPDATE hook_sets
		SET status = 'skip_by_failure', error_message = ?, updated_at = ?
		WHERE id = ?
	`, errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark hook set skipped: %w", err)
	}

	return nil
}

func (r *hookSetRepository) SetPedagogy(id string, pedagogy []byte) error {
	_, err := r.db.Exec(`
		UPDATE hook_sets
		SET pedagogy = ?, updated_at = ?
		WHERE id = ?
	`, string(pedagogy), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set hook set pedagogy: %w", err)
	}

	return nil
}
