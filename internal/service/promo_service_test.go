package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrevr/imagerefresh/internal/repository"
)

func newPromoService(t *testing.T) (*PromoService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPromoService(repository.NewPromoRepository(db)), mock
}

func promoRow(id int64, code string, credits, maxUses, uses int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "code", "credits", "max_uses", "uses", "created_at"}).
		AddRow(id, code, credits, maxUses, uses, time.Now().UTC())
}

func TestRedeemGrantsCredits(t *testing.T) {
	svc, mock := newPromoService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WithArgs("LAUNCH25").
		WillReturnRows(promoRow(3, "LAUNCH25", 25, 100, 4))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(4, 100))
	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_redemptions")).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promo_redemptions")).
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET uses = uses + 1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("paid_credits = paid_credits + ?")).
		WithArgs(25, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credits, err := svc.Redeem(context.Background(), 7, "LAUNCH25")
	require.NoError(t, err)
	assert.Equal(t, 25, credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, mock := newPromoService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "credits", "max_uses", "uses", "created_at"}))

	_, err := svc.Redeem(context.Background(), 7, "NOPE")
	assert.ErrorIs(t, err, ErrPromoInvalid)
}

func TestRedeemAlreadyRedeemed(t *testing.T) {
	svc, mock := newPromoService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WithArgs("LAUNCH25").
		WillReturnRows(promoRow(3, "LAUNCH25", 25, 100, 4))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(4, 100))
	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_redemptions")).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), 7, "LAUNCH25")
	assert.ErrorIs(t, err, ErrPromoAlreadyRedeemed)
}

func TestRedeemExhaustedCode(t *testing.T) {
	svc, mock := newPromoService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo_codes WHERE code = ?")).
		WithArgs("OLD").
		WillReturnRows(promoRow(5, "OLD", 10, 10, 10))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"uses", "max_uses"}).AddRow(10, 10))
	mock.ExpectRollback()

	_, err := svc.Redeem(context.Background(), 7, "OLD")
	assert.ErrorIs(t, err, ErrPromoExhausted)
}
