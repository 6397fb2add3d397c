package diagnostics

import (
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{Conn: mockDB})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, NewStore(gormDB)
}

func TestStore_RecordCircuitTransition(t *testing.T) {
	mockDB, mock, store := setupMockStore(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "circuit_transitions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.RecordCircuitTransition("openai", "closed", "open", "failure threshold reached")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RecordLatencySnapshot(t *testing.T) {
	mockDB, mock, store := setupMockStore(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "latency_snapshots"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.RecordLatencySnapshot("anthropic", 100, 5, 230, "closed")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestLatencySnapshot_NoneReturnsNil(t *testing.T) {
	mockDB, mock, store := setupMockStore(t)
	defer mockDB.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "latency_snapshots"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider"}))

	row, err := store.LatestLatencySnapshot("gemini")
	require.NoError(t, err)
	require.Nil(t, row)
}
