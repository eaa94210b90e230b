package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/repository"
)

var ErrPromoInvalid = errors.New("promo code invalid")
var ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
var ErrPromoExhausted = errors.New("promo code exhausted")

type PromoService struct {
	promos *repository.PromoRepository
}

func NewPromoService(promos *repository.PromoRepository) *PromoService {
	return &PromoService{promos: promos}
}

// Redeem grants the code's paid credits to an identity, at most once per
// identity and bounded by the code's use limit, all in one transaction.
func (s *PromoService) Redeem(ctx context.Context, identityID int64, code string) (int, error) {
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	tx, err := s.promos.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses FROM promo_codes WHERE id = ? FOR UPDATE`, promo.ID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPromoInvalid
		}
		return 0, fmt.Errorf("lock promo: %w", err)
	}
	if uses >= maxUses {
		return 0, ErrPromoExhausted
	}

	row = tx.QueryRowContext(ctx, `SELECT 1 FROM promo_redemptions WHERE identity_id = ? AND promo_code_id = ?`, identityID, promo.ID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("check redemption: %w", err)
		}
	} else {
		return 0, ErrPromoAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO promo_redemptions (identity_id, promo_code_id) VALUES (?, ?)`, identityID, promo.ID); err != nil {
		return 0, fmt.Errorf("insert redemption: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ?`, promo.ID); err != nil {
		return 0, fmt.Errorf("increment promo uses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE credit_balances SET paid_credits = paid_credits + ? WHERE identity_id = ?`, promo.Credits, identityID); err != nil {
		return 0, fmt.Errorf("add promo credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit promo tx: %w", err)
	}

	return promo.Credits, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, code string, credits, maxUses int) (*models.PromoCode, error) {
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	if credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}
	if maxUses <= 0 {
		return nil, fmt.Errorf("max uses must be positive")
	}
	return s.promos.Create(ctx, &models.PromoCode{Code: code, Credits: credits, MaxUses: maxUses})
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
