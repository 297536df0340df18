package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ ArticleRepository = (*articleRepository)(nil)

type articleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) ArticleRepository {
	return &articleRepository{db: db}
}

const articleColumns = `id, normalized_url, original_url, status, storage_path, text_path,
	content_hash, content_medium, title, byline, excerpt, site_name, language,
	analysis, last_scraped_at, created_at, updated_at`

func scanArticle(row interface{ Scan(...any) error }) (*Article, error) {
	var a Article
	var analysis sql.NullString
	var lastScraped sql.NullTime

	err := row.Scan(
		&a.ID, &a.NormalizedURL, &a.OriginalURL, &a.Status, &a.StoragePath, &a.TextPath,
		&a.ContentHash, &a.ContentMedium, &a.Title, &a.Byline, &a.Excerpt, &a.SiteName, &a.Language,
		&analysis, &lastScraped, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if analysis.Valid && analysis.String != "" {
		a.Analysis = []byte(analysis.String)
	}
	if lastScraped.Valid {
		t := lastScraped.Time
		a.LastScrapedAt = &t
	}

	return &a, nil
}

func (r *articleRepository) UpsertByURL(normalizedURL, originalURL string) (*Article, error) {
	now := time.Now().UTC()
	row := r.db.QueryRow(`
		INSERT INTO articles (id, normalized_url, original_url, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(normalized_url) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING `+articleColumns+`
	`, uuid.NewString(), normalizedURL, originalURL, now, now)

	article, err := scanArticle(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert article: %w", err)
	}

	return article, nil
}

func (r *articleRepository) GetByID(id string) (*Article, error) {
	row := r.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article by ID: %w", err)
	}

	return article, nil
}

func (r *articleRepository) GetByURL(normalizedURL string) (*Article, error) {
	row := r.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE normalized_url = ?`, normalizedURL)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article by URL: %w", err)
	}

	return article, nil
}

func (r *articleRepository) ClaimForScrape(id string, stalledBefore time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE articles
		SET status = 'scraping', updated_at = ?
		WHERE id = ?
		  AND (status IN ('pending', 'ready') OR (status = 'scraping' AND updated_at < ?))
	`, time.Now().UTC(), id, stalledBefore)
	if err != nil {
		return false, fmt.Errorf("failed to claim article for scrape: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected > 0, nil
}

func (r *articleRepository) UpdateScraped(id, storagePath, textPath, contentHash string,
	medium ContentMedium, meta ArticleMeta, scrapedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE articles
		SET status = 'ready', storage_path = ?, text_path = ?, content_hash = ?,
		    content_medium = ?, title = ?, byline = ?, excerpt = ?, site_name = ?,
		    language = ?, last_scraped_at = ?, updated_at = ?
		WHERE id = ?
	`, storagePath, textPath, contentHash, string(medium),
		meta.Title, meta.Byline, meta.Excerpt, meta.SiteName, meta.Language,
		scrapedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update scraped article: %w", err)
	}

	return nil
}

func (r *articleRepository) UpdateAnalysis(id string, analysis []byte) error {
	_, err := r.db.Exec(`
		UPDATE articles
		SET analysis = ?, updated_at = ?
		WHERE id = ?
	`, string(analysis), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update article analysis: %w", err)
	}

	return nil
}

func (r *articleRepository) UpdateStatus(id string, status ArticleStatus) error {
	_, err := r.db.Exec(`
		UPDATE articles
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update article status: %w", err)
	}

	return nil
}
