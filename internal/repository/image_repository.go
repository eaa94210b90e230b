package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runrevr/imagerefresh/internal/models"
)

type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Insert(ctx context.Context, img *models.StoredImage) (*models.StoredImage, error) {
	const query = `
INSERT INTO stored_images (identity_id, object_key, url, kind, content_type, parent_image_id, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		img.IdentityID, img.Key, img.URL, img.Kind, img.ContentType, img.ParentImageID, img.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert stored image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	img.ID = id
	return img, nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*models.StoredImage, error) {
	const query = selectImage + ` WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *ImageRepository) FindByKey(ctx context.Context, key string) (*models.StoredImage, error) {
	const query = selectImage + ` WHERE object_key = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, key))
}

func (r *ImageRepository) ListByIdentity(ctx context.Context, identityID int64) ([]models.StoredImage, error) {
	const query = selectImage + ` WHERE identity_id = ? ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListExpired returns images whose retention window has passed, oldest first.
func (r *ImageRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StoredImage, error) {
	const query = selectImage + ` WHERE expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *ImageRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stored_images WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete stored image: %w", err)
	}
	return nil
}

const selectImage = `
SELECT id, identity_id, object_key, url, kind, content_type, parent_image_id, expires_at, created_at
FROM stored_images`

func (r *ImageRepository) scanOne(row *sql.Row) (*models.StoredImage, error) {
	img, err := scanImage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan stored image: %w", err)
	}
	return img, nil
}

func (r *ImageRepository) scanAll(rows *sql.Rows) ([]models.StoredImage, error) {
	var images []models.StoredImage
	for rows.Next() {
		img, err := scanImage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan stored image row: %w", err)
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

func scanImage(scan func(...any) error) (*models.StoredImage, error) {
	var img models.StoredImage
	var identityID, parentID sql.NullInt64
	var expiresAt sql.NullTime
	if err := scan(&img.ID, &identityID, &img.Key, &img.URL, &img.Kind, &img.ContentType, &parentID, &expiresAt, &img.CreatedAt); err != nil {
		return nil, err
	}
	if identityID.Valid {
		img.IdentityID = &identityID.Int64
	}
	if parentID.Valid {
		img.ParentImageID = &parentID.Int64
	}
	if expiresAt.Valid {
		img.ExpiresAt = &expiresAt.Time
	}
	return &img, nil
}
