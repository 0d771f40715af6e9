package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver backs repository tests that need a *sqlx.DB without a real
// database. The DSN selects the failure mode.
type stubDriver struct{}

func (stubDriver) Open(dsn string) (driver.Conn, error) {
	return &stubConn{failCommit: dsn == "commit-fail"}, nil
}

type stubConn struct {
	failCommit bool
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return stubTx{fail: c.failCommit}, nil
}

// ExecContext reports zero rows affected for every statement.
func (c *stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

type stubTx struct {
	fail bool
}

func (t stubTx) Commit() error {
	if t.fail {
		return errors.New("commit failed")
	}
	return nil
}

func (t stubTx) Rollback() error { return nil }

func init() {
	sql.Register("repotest", stubDriver{})
}

func newStubDB(t *testing.T, dsn string) *sqlx.DB {
	t.Helper()
	db, err := sql.Open("repotest", dsn)
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransactionSurfacesCommitFailure(t *testing.T) {
	repo := BaseRepository{db: newStubDB(t, "commit-fail")}

	err := repo.Transaction(func(tx *sqlx.Tx) error { return nil })
	assert.ErrorContains(t, err, "commit failed")
}

func TestTransactionReturnsCallbackError(t *testing.T) {
	repo := BaseRepository{db: newStubDB(t, "ok")}

	err := repo.Transaction(func(tx *sqlx.Tx) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestTransactionCommitsCleanly(t *testing.T) {
	repo := BaseRepository{db: newStubDB(t, "ok")}

	assert.NoError(t, repo.Transaction(func(tx *sqlx.Tx) error { return nil }))
}

func TestSubscriptionUpdateMissingRowIsNotFound(t *testing.T) {
	repo := NewSubscriptionRepository(newStubDB(t, "ok"), discardLogger())

	err := repo.Update(context.Background(), &AlertSubscription{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionDeactivateMissingRowIsNotFound(t *testing.T) {
	repo := NewSubscriptionRepository(newStubDB(t, "ok"), discardLogger())

	err := repo.Deactivate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
