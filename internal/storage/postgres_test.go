package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func mockDB(t *testing.T, driver string) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, driver), mock
}

func TestPostgres_AppendSystemLogRebinds(t *testing.T) {
	db, mock := mockDB(t, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO system_logs (log_type, message, created_at) VALUES ($1, $2, $3) RETURNING id`)).
		WithArgs("bootloader", "ok", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := db.AppendSystemLog(context.Background(), &SystemLog{LogType: "bootloader", Message: "ok", CreatedAt: 7})
	if err != nil {
		t.Fatalf("AppendSystemLog: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPostgres_EnsureSchemaUsesBigserial(t *testing.T) {
	db, mock := mockDB(t, DriverPostgres)

	mock.ExpectExec(`id BIGSERIAL PRIMARY KEY`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreFailuresAreWrapped(t *testing.T) {
	db, mock := mockDB(t, DriverSQLite)
	boom := errors.New("disk full")

	mock.ExpectExec("INSERT INTO settings").WillReturnError(boom)
	err := db.SetSetting(context.Background(), "bootloader_executed", "true")
	if !errors.Is(err, boom) {
		t.Fatalf("SetSetting error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectExec("INSERT INTO agent_performance").WillReturnError(boom)
	err = db.RecordTraining(context.Background(), "x", 1, 1, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("RecordTraining error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectQuery("SELECT value FROM settings").WillReturnError(boom)
	if _, err := db.GetBool(context.Background(), "site_launched", false); !errors.Is(err, boom) {
		t.Fatalf("GetBool error = %v, want wrapped %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMarkQueueEntryProcessed_ZeroRows(t *testing.T) {
	db, mock := mockDB(t, DriverPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE cross_learning_queue SET processed = 1 WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.MarkQueueEntryProcessed(context.Background(), 9)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
