package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runrevr/imagerefresh/internal/models"
)

func TestSameCalendarMonth(t *testing.T) {
	base := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	assert.True(t, SameCalendarMonth(base, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, SameCalendarMonth(base, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, SameCalendarMonth(base, time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)))
}

func TestDebitConsumesFreeCreditFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, time.May, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(0, nil, 5))
	mock.ExpectExec(regexp.QuoteMeta("SET free_credit_used = 1")).
		WithArgs(now, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewCreditRepository(db)
	creditType, ok, err := repo.Debit(context.Background(), 7, now)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.CreditFree, creditType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitFallsBackToPaidCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.UTC)
	lastFree := time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(1, lastFree, 3))
	mock.ExpectExec(regexp.QuoteMeta("paid_credits = paid_credits - 1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewCreditRepository(db)
	creditType, ok, err := repo.Debit(context.Background(), 7, now)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.CreditPaid, creditType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitResetsFreeCreditOnMonthRollover(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, time.June, 1, 0, 30, 0, 0, time.UTC)
	lastFree := time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(1, lastFree, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET free_credit_used = 1")).
		WithArgs(now, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewCreditRepository(db)
	creditType, ok, err := repo.Debit(context.Background(), 7, now)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.CreditFree, creditType, "new month makes the free credit available again")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitReportsInsufficientWithoutWriting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.UTC)
	lastFree := time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"free_credit_used", "last_free_credit_at", "paid_credits"}).
			AddRow(1, lastFree, 0))
	mock.ExpectRollback()

	repo := NewCreditRepository(db)
	_, ok, err := repo.Debit(context.Background(), 7, now)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNilWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_balances")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "free_credit_used", "last_free_credit_at", "paid_credits", "updated_at"}))

	repo := NewCreditRepository(db)
	balance, err := repo.Get(context.Background(), 99)

	require.NoError(t, err)
	assert.Nil(t, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddPaidCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("GREATEST(paid_credits + ?, 0)")).
		WithArgs(25, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewCreditRepository(db)
	require.NoError(t, repo.AddPaidCredits(context.Background(), 7, 25))
	assert.NoError(t, mock.ExpectationsWereMet())
}
