package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityRows(id, userID int64, fingerprint string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "user_id", "device_fingerprint", "created_at"})
	if userID != 0 {
		return rows.AddRow(id, userID, fingerprint, time.Now().UTC())
	}
	return rows.AddRow(id, nil, fingerprint, time.Now().UTC())
}

func emptyIdentityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "device_fingerprint", "created_at"})
}

func TestEnsureUserCreatesIdentityWithBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE user_id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(emptyIdentityRows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identities (user_id)")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO credit_balances")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewIdentityRepository(db)
	ident, created, err := repo.EnsureUser(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, int64(5), ident.ID)
	require.NotNil(t, ident.UserID)
	assert.Equal(t, int64(42), *ident.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUserRefetchesOnRacingInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE user_id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(emptyIdentityRows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identities (user_id)")).
		WithArgs(int64(42)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '42' for key 'user_id'"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE user_id = ?")).
		WithArgs(int64(42)).
		WillReturnRows(identityRows(5, 42, ""))

	repo := NewIdentityRepository(db)
	ident, created, err := repo.EnsureUser(context.Background(), 42)
	require.NoError(t, err, "losing the insert race must resolve to the winner's row")

	assert.False(t, created)
	assert.Equal(t, int64(5), ident.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureFingerprintRefetchesOnRacingInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE device_fingerprint = ?")).
		WithArgs("fp-abc").
		WillReturnRows(emptyIdentityRows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO identities (device_fingerprint)")).
		WithArgs("fp-abc").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'fp-abc' for key 'device_fingerprint'"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM identities WHERE device_fingerprint = ?")).
		WithArgs("fp-abc").
		WillReturnRows(identityRows(6, 0, "fp-abc"))

	repo := NewIdentityRepository(db)
	ident, created, err := repo.EnsureFingerprint(context.Background(), "fp-abc")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, int64(6), ident.ID)
	assert.Equal(t, "fp-abc", ident.Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}
