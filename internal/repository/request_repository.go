package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/runrevr/imagerefresh/internal/models"
)

type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *models.TransformationRequest) (*models.TransformationRequest, error) {
	const query = `
INSERT INTO transformation_requests (identity_id, source_image_id, prompt, requested_size, status)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		req.IdentityID, req.SourceImageID, req.Prompt, req.RequestedSize, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("insert transformation request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	req.ID = id
	req.Status = models.StatusPending
	return req, nil
}

// MarkSucceeded moves a pending request to its terminal succeeded state.
func (r *RequestRepository) MarkSucceeded(ctx context.Context, id int64, attempts []models.TransformStrategy) error {
	const query = `
UPDATE transformation_requests SET status = ?, strategy_attempts = ?
WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, models.StatusSucceeded, joinStrategies(attempts), id, models.StatusPending); err != nil {
		return fmt.Errorf("mark request succeeded: %w", err)
	}
	return nil
}

// MarkFailed moves a pending request to its terminal failed state, recording
// the classified failure kind for audit.
func (r *RequestRepository) MarkFailed(ctx context.Context, id int64, attempts []models.TransformStrategy, failureKind string) error {
	const query = `
UPDATE transformation_requests SET status = ?, strategy_attempts = ?, failure_kind = ?
WHERE id = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, query, models.StatusFailed, joinStrategies(attempts), failureKind, id, models.StatusPending); err != nil {
		return fmt.Errorf("mark request failed: %w", err)
	}
	return nil
}

func (r *RequestRepository) InsertResult(ctx context.Context, result *models.TransformationResult) (*models.TransformationResult, error) {
	const query = `
INSERT INTO transformation_results (request_id, image_id, expires_at)
VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, result.RequestID, result.ImageID, result.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert transformation result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	result.ID = id
	return result, nil
}

// DeleteResultsByImage removes result rows pointing at an image about to be
// purged so the foreign key does not block the sweep.
func (r *RequestRepository) DeleteResultsByImage(ctx context.Context, imageID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transformation_results WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete results by image: %w", err)
	}
	return nil
}

func (r *RequestRepository) ListRecent(ctx context.Context, limit int) ([]models.TransformationRequest, error) {
	const query = `
SELECT id, identity_id, source_image_id, prompt, requested_size, status, strategy_attempts, failure_kind, created_at, updated_at
FROM transformation_requests
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []models.TransformationRequest
	for rows.Next() {
		var req models.TransformationRequest
		var attempts string
		if err := rows.Scan(&req.ID, &req.IdentityID, &req.SourceImageID, &req.Prompt, &req.RequestedSize, &req.Status, &attempts, &req.FailureKind, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		req.StrategyAttempts = splitStrategies(attempts)
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func joinStrategies(attempts []models.TransformStrategy) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

func splitStrategies(raw string) []models.TransformStrategy {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	attempts := make([]models.TransformStrategy, 0, len(parts))
	for _, p := range parts {
		attempts = append(attempts, models.TransformStrategy(p))
	}
	return attempts
}
