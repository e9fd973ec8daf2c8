package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTransactionCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE step_instances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tm := NewTransactionManager(db)
	err = tm.RunInTransaction(context.Background(), func(txCtx context.Context) error {
		tx := ExtractTx(txCtx)
		require.NotNil(t, tx)
		_, execErr := tx.ExecContext(txCtx, "UPDATE step_instances SET status = ?", "APPROVED")
		return execErr
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	tm := NewTransactionManager(db)
	sentinel := errors.New("validator has already decided")
	err = tm.RunInTransaction(context.Background(), func(txCtx context.Context) error {
		return sentinel
	})
	// Business errors come back unwrapped so callers can errors.Is on them
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionRetriesDeadlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	tm := NewTransactionManager(db)
	attempts := 0
	err = tm.RunInTransaction(context.Background(), func(txCtx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("Error 1213: Deadlock found when trying to get lock")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutorForFallsBackToDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Nil(t, ExtractTx(context.Background()))
	assert.Equal(t, Executor(db), executorFor(context.Background(), db))
}
