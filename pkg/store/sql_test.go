package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLBackend_ApplyInsertAndUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	b := NewSQLBackend(db)
	ops := []Op{
		{Record: Record{Kind: KindReceipt, Key: "r1", Transmuter: "root", Mutation: "m1", Taker: "alice", Body: []byte(`{}`)}},
		{Record: Record{Kind: KindMutation, Key: "m1", Transmuter: "root", Mutation: "m1", Revision: 4, Body: []byte(`{"a":1}`)}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transmuter_records").
		WithArgs("receipt", "r1", "root", "m1", "alice", int64(1), "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transmuter_records").
		WithArgs("root", "m1", "", int64(5), `{"a":1}`, "mutation", "m1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, b.Apply(context.Background(), ops))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_ApplyConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	b := NewSQLBackend(db)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transmuter_records").
		WithArgs("mutation", "m1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = b.Apply(context.Background(), []Op{{Record: Record{Kind: KindMutation, Key: "m1", Revision: 2}, Delete: true}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_ScanBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"kind", "record_key", "transmuter", "mutation", "taker", "revision", "body"}).
		AddRow("receipt", "r1", "root", "m1", "alice", int64(3), `{"state":"Complete"}`)
	mock.ExpectQuery(`WHERE kind = \$1 AND mutation = \$2 AND taker = \$3 ORDER BY record_key`).
		WithArgs("receipt", "m1", "alice").
		WillReturnRows(rows)

	recs, err := NewSQLBackend(db).Scan(context.Background(), KindReceipt, Filter{Mutation: "m1", Taker: "alice"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, contracts.Address("r1"), recs[0].Key)
	assert.Equal(t, uint64(3), recs[0].Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackend_LoadNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT kind, record_key").
		WithArgs("transmuter", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "record_key", "transmuter", "mutation", "taker", "revision", "body"}))

	_, err = NewSQLBackend(db).Load(context.Background(), KindTransmuter, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLBackend_InitRejectsIncompatibleSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transmuter_meta").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS transmuter_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO transmuter_meta").
		WithArgs("schema_version", SchemaVersion).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value FROM transmuter_meta").
		WithArgs("schema_version").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2.1.0"))

	err = NewSQLBackend(db).Init(context.Background())
	assert.ErrorContains(t, err, "does not satisfy")
	assert.NoError(t, mock.ExpectationsWereMet())
}
