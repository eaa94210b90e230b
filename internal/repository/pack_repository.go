package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/runrevr/imagerefresh/internal/models"
)

type PackRepository struct {
	db *sql.DB
}

func NewPackRepository(db *sql.DB) *PackRepository {
	return &PackRepository{db: db}
}

func (r *PackRepository) List(ctx context.Context, activeOnly bool) ([]models.CreditPack, error) {
	query := `
SELECT id, title, COALESCE(description, ''), currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packs`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY price_minor_units ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credit packs: %w", err)
	}
	defer rows.Close()

	var packs []models.CreditPack
	for rows.Next() {
		var pack models.CreditPack
		if err := rows.Scan(&pack.ID, &pack.Title, &pack.Description, &pack.Currency, &pack.PriceMinorUnits, &pack.Credits, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credit pack: %w", err)
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func (r *PackRepository) GetByID(ctx context.Context, id int64) (*models.CreditPack, error) {
	const query = `
SELECT id, title, COALESCE(description, ''), currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var pack models.CreditPack
	if err := row.Scan(&pack.ID, &pack.Title, &pack.Description, &pack.Currency, &pack.PriceMinorUnits, &pack.Credits, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit pack: %w", err)
	}
	return &pack, nil
}

func (r *PackRepository) Create(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	const query = `
INSERT INTO credit_packs (title, description, currency, price_minor_units, credits, is_active)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pack.Title, pack.Description, pack.Currency, pack.PriceMinorUnits, pack.Credits, pack.IsActive)
	if err != nil {
		return nil, fmt.Errorf("insert credit pack: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	pack.ID = id
	return pack, nil
}

func (r *PackRepository) Update(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	const query = `
UPDATE credit_packs
SET title = ?, description = NULLIF(?, ''), currency = ?, price_minor_units = ?, credits = ?, is_active = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pack.Title, pack.Description, pack.Currency, pack.PriceMinorUnits, pack.Credits, pack.IsActive, pack.ID); err != nil {
		return nil, fmt.Errorf("update credit pack: %w", err)
	}
	return pack, nil
}

func (r *PackRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_packs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete credit pack: %w", err)
	}
	return nil
}
