package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/runrevr/imagerefresh/internal/models"
)

type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) DB() *sql.DB {
	return r.db
}

func (r *IdentityRepository) FindByUserID(ctx context.Context, userID int64) (*models.Identity, error) {
	const query = `
SELECT id, user_id, COALESCE(device_fingerprint, ''), created_at
FROM identities WHERE user_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID))
}

func (r *IdentityRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Identity, error) {
	const query = `
SELECT id, user_id, COALESCE(device_fingerprint, ''), created_at
FROM identities WHERE device_fingerprint = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, fingerprint))
}

func (r *IdentityRepository) scanOne(row *sql.Row) (*models.Identity, error) {
	var ident models.Identity
	var userID sql.NullInt64
	if err := row.Scan(&ident.ID, &userID, &ident.Fingerprint, &ident.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	if userID.Valid {
		ident.UserID = &userID.Int64
	}
	return &ident, nil
}

// EnsureUser resolves the identity for a registered user, creating it together
// with an empty credit balance on first sight.
func (r *IdentityRepository) EnsureUser(ctx context.Context, userID int64) (*models.Identity, bool, error) {
	ident, err := r.FindByUserID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if ident != nil {
		return ident, false, nil
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO identities (user_id) VALUES (?)`, userID)
	if err != nil {
		// A concurrent first request may have won the insert.
		if isDuplicateKey(err) {
			ident, err := r.FindByUserID(ctx, userID)
			if err != nil {
				return nil, false, err
			}
			if ident != nil {
				return ident, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	if err := r.ensureBalance(ctx, id); err != nil {
		return nil, false, err
	}
	return &models.Identity{ID: id, UserID: &userID}, true, nil
}

// EnsureFingerprint resolves the identity for an anonymous device fingerprint.
func (r *IdentityRepository) EnsureFingerprint(ctx context.Context, fingerprint string) (*models.Identity, bool, error) {
	ident, err := r.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, false, err
	}
	if ident != nil {
		return ident, false, nil
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO identities (device_fingerprint) VALUES (?)`, fingerprint)
	if err != nil {
		if isDuplicateKey(err) {
			ident, err := r.FindByFingerprint(ctx, fingerprint)
			if err != nil {
				return nil, false, err
			}
			if ident != nil {
				return ident, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	if err := r.ensureBalance(ctx, id); err != nil {
		return nil, false, err
	}
	return &models.Identity{ID: id, Fingerprint: fingerprint}, true, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func (r *IdentityRepository) ensureBalance(ctx context.Context, identityID int64) error {
	const query = `INSERT IGNORE INTO credit_balances (identity_id) VALUES (?)`
	if _, err := r.db.ExecContext(ctx, query, identityID); err != nil {
		return fmt.Errorf("ensure credit balance: %w", err)
	}
	return nil
}
