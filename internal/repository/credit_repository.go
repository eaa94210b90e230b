package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runrevr/imagerefresh/internal/models"
)

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) DB() *sql.DB {
	return r.db
}

func (r *CreditRepository) Get(ctx context.Context, identityID int64) (*models.CreditBalance, error) {
	const query = `
SELECT identity_id, free_credit_used, last_free_credit_at, paid_credits, updated_at
FROM credit_balances WHERE identity_id = ?`
	row := r.db.QueryRowContext(ctx, query, identityID)
	var b models.CreditBalance
	var used int
	var lastFree sql.NullTime
	if err := row.Scan(&b.IdentityID, &used, &lastFree, &b.PaidCredits, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credit balance: %w", err)
	}
	b.FreeCreditUsed = used != 0
	if lastFree.Valid {
		b.LastFreeCreditAt = &lastFree.Time
	}
	return &b, nil
}

// ResetFreeCredit clears the free-credit flag. Callers decide whether the
// calendar month has rolled over; the WHERE guard keeps a concurrent debit
// from being undone.
func (r *CreditRepository) ResetFreeCredit(ctx context.Context, identityID int64, lastFreeCreditAt time.Time) error {
	const query = `
UPDATE credit_balances SET free_credit_used = 0
WHERE identity_id = ? AND free_credit_used = 1 AND last_free_credit_at = ?`
	if _, err := r.db.ExecContext(ctx, query, identityID, lastFreeCreditAt); err != nil {
		return fmt.Errorf("reset free credit: %w", err)
	}
	return nil
}

// Debit consumes one credit for the identity, preferring the monthly free
// credit over paid. The read-check-write sequence runs inside a transaction
// with a row lock so no interleaved request observes stale balance state.
// Returns ok=false when neither a free nor a paid credit is available.
func (r *CreditRepository) Debit(ctx context.Context, identityID int64, now time.Time) (models.CreditType, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var used int
	var lastFree sql.NullTime
	var paid int
	row := tx.QueryRowContext(ctx, `
SELECT free_credit_used, last_free_credit_at, paid_credits
FROM credit_balances WHERE identity_id = ? FOR UPDATE`, identityID)
	if err := row.Scan(&used, &lastFree, &paid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lock credit balance: %w", err)
	}

	freeUsed := used != 0
	if freeUsed && lastFree.Valid && !SameCalendarMonth(lastFree.Time, now) {
		freeUsed = false
	}

	var creditType models.CreditType
	switch {
	case !freeUsed:
		creditType = models.CreditFree
		if _, err := tx.ExecContext(ctx, `
UPDATE credit_balances SET free_credit_used = 1, last_free_credit_at = ?
WHERE identity_id = ?`, now, identityID); err != nil {
			return "", false, fmt.Errorf("consume free credit: %w", err)
		}
	case paid > 0:
		creditType = models.CreditPaid
		if _, err := tx.ExecContext(ctx, `
UPDATE credit_balances SET paid_credits = paid_credits - 1
WHERE identity_id = ? AND paid_credits > 0`, identityID); err != nil {
			return "", false, fmt.Errorf("consume paid credit: %w", err)
		}
	default:
		return "", false, nil
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit debit: %w", err)
	}
	return creditType, true, nil
}

// AddPaidCredits adjusts the paid balance by delta, clamped at zero.
func (r *CreditRepository) AddPaidCredits(ctx context.Context, identityID int64, delta int) error {
	const query = `
UPDATE credit_balances SET paid_credits = GREATEST(paid_credits + ?, 0)
WHERE identity_id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, identityID); err != nil {
		return fmt.Errorf("add paid credits: %w", err)
	}
	return nil
}

// SameCalendarMonth reports whether two instants fall in the same UTC
// calendar month. The free credit resets on month rollover, not every 30 days.
func SameCalendarMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}
