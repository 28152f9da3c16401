package csql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTransaction_Commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM books").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err = WithTransaction(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM books")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_Rollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	failure := errors.New("forbidden")
	err = WithTransaction(context.Background(), db, func(tx *sql.Tx) error {
		return failure
	})
	assert.Equal(t, failure, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_Panic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		WithTransaction(context.Background(), db, func(tx *sql.Tx) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryerContext(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	assert.Nil(t, QueryerFromContext(ctx))
	ctx = ContextWithQueryer(ctx, db)
	assert.Equal(t, db, QueryerFromContext(ctx))
}

func TestDataSource(t *testing.T) {
	assert.Equal(t, "postgres://u:p@localhost/db?search_path=awokado", withSearchPath("postgres://u:p@localhost/db", "awokado"))
	assert.Equal(t, "postgres://localhost/db?sslmode=disable&search_path=awokado", withSearchPath("postgres://localhost/db?sslmode=disable", "awokado"))
	assert.Equal(t, "host=localhost search_path=awokado", withSearchPath("host=localhost", "awokado"))
	assert.Equal(t, "postgres://***@localhost/db", redact("postgres://u:p@localhost/db"))
}
