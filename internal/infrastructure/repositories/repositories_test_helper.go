package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createPaymentRequestTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE payment_requests (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		merchant_name TEXT,
		amount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		paid_by_user_id TEXT,
		paid_at DATETIME,
		canceled_at DATETIME,
		expires_at DATETIME NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createOfflineSubmissionTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE offline_submissions (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		payer_user_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at DATETIME NOT NULL,
		created_at DATETIME,
		UNIQUE (merchant_id, job_id)
	);`)
}
