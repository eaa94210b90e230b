package service

import (
	"context"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrevr/imagerefresh/internal/models"
	"github.com/runrevr/imagerefresh/internal/repository"
	"github.com/runrevr/imagerefresh/internal/telemetry"
	"github.com/runrevr/imagerefresh/pkg/logger"
)

func newCreditService(t *testing.T) (*CreditService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewCreditService(
		repository.NewCreditRepository(db),
		logger.New(slog.LevelError),
		telemetry.New(prometheus.NewRegistry()),
	)
	return svc, mock
}

func balanceRows(used int, lastFree any, paid int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"identity_id", "free_credit_used", "last_free_credit_at", "paid_credits", "updated_at"}).
		AddRow(7, used, lastFree, paid, time.Now().UTC())
}

func TestCheckAvailableCountsFreeCredit(t *testing.T) {
	svc, mock := newCreditService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_balances")).
		WithArgs(int64(7)).
		WillReturnRows(balanceRows(0, nil, 3))

	avail, err := svc.CheckAvailable(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, avail.HasFreeCredit)
	assert.Equal(t, 3, avail.PaidCredits)
	assert.Equal(t, 4, avail.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAvailableFreeCreditSpentThisMonth(t *testing.T) {
	svc, mock := newCreditService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_balances")).
		WithArgs(int64(7)).
		WillReturnRows(balanceRows(1, time.Now().UTC(), 0))

	avail, err := svc.CheckAvailable(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, avail.HasFreeCredit)
	assert.Equal(t, 0, avail.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAvailableLazilyResetsOnMonthRollover(t *testing.T) {
	svc, mock := newCreditService(t)

	lastFree := time.Date(2020, time.January, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_balances")).
		WithArgs(int64(7)).
		WillReturnRows(balanceRows(1, lastFree, 2))
	mock.ExpectExec(regexp.QuoteMeta("SET free_credit_used = 0")).
		WithArgs(int64(7), lastFree).
		WillReturnResult(sqlmock.NewResult(0, 1))

	avail, err := svc.CheckAvailable(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, avail.HasFreeCredit)
	assert.Equal(t, 3, avail.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAvailableUnknownIdentityIsEmpty(t *testing.T) {
	svc, mock := newCreditService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_balances")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "free_credit_used", "last_free_credit_at", "paid_credits", "updated_at"}))

	avail, err := svc.CheckAvailable(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, models.Availability{}, avail)
}

func TestDebitReturnsInsufficientCredit(t *testing.T) {
	svc, mock := newCreditService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(1, time.Now().UTC(), 0))
	mock.ExpectRollback()

	_, err := svc.Debit(context.Background(), 7)
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitConsumesPaidCredit(t *testing.T) {
	svc, mock := newCreditService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(1, time.Now().UTC(), 2))
	mock.ExpectExec(regexp.QuoteMeta("paid_credits = paid_credits - 1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	creditType, err := svc.Debit(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.CreditPaid, creditType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
