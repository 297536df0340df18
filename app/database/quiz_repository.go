package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ QuizRepository = (*quizRepository)(nil)

type quizRepository struct {
	db *DB
}

func NewQuizRepository(db *DB) QuizRepository {
	return &quizRepository{db: db}
}

const quizColumns = `id, article_id, status, model_used, created_at, updated_at`

func scanQuiz(row interface{ Scan(...any) error }) (*Quiz, error) {
	var q Quiz
	err := row.Scan(&q.ID, &q.ArticleID, &q.Status, &q.ModelUsed, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quizRepository) UpsertByArticle(articleID string) (*Quiz, error) {
	now := time.Now().UTC()
	row := r.db.QueryRow(`
		INSERT INTO quizzes (id, article_id, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)
		ON CONFLICT(article_id) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING `+quizColumns+`
	`, uuid.NewString(), articleID, now, now)

	quiz, err := scanQuiz(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert quiz: %w", err)
	}

	return quiz, nil
}

func (r *quizRepository) GetByID(id string) (*Quiz, error) {
	row := r.db.QueryRow(`SELECT `+quizColumns+` FROM quizzes WHERE id = ?`, id)

	quiz, err := scanQuiz(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz by ID: %w", err)
	}

	return quiz, nil
}

func (r *quizRepository) ClaimNextPending() (*Quiz, error) {
	// Single conditional UPDATE with RETURNING: at most one caller gets
	// the row even under concurrent claimants.
	row := r.db.QueryRow(`
		UPDATE quizzes
		SET status = 'processing', updated_at = ?
		WHERE id = (
			SELECT id FROM quizzes WHERE status = 'pending' ORDER BY created_at, id LIMIT 1
		) AND status = 'pending'
		RETURNING `+quizColumns,
		time.Now().UTC())

	quiz, err := scanQuiz(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim next pending quiz: %w", err)
	}

	return quiz, nil
}

func (r *quizRepository) Claim(id string) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE quizzes
		SET status = 'processing', updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')
	`, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim quiz: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected > 0, nil
}

func (r *quizRepository) UpdateStatus(id string, status QuizStatus) error {
	_, err := r.db.Exec(`
		UPDATE quizzes
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update quiz status: %w", err)
	}

	return nil
}

func (r *quizRepository) UpdateStatusIf(id string, from, to QuizStatus) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE quizzes
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update quiz status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}

	return affected > 0, nil
}

func (r *quizRepository) SetModelUsed(id, model string) error {
	_, err := r.db.Exec(`
		UPDATE quizzes
		SET model_used = ?, updated_at = ?
		WHERE id = ?
	`, model, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set quiz model: %w", err)
	}

	return nil
}
