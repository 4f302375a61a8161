// Package testutil builds throwaway ledgers for package tests.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richardliu001/quickpay/internal/logger"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var seq atomic.Int64

// NewDB returns a migrated in-memory SQLite database private to the test.
// A single pooled connection serializes transactions the way row locks do
// on postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, seq.Add(1))
	db, err := repo.Open(sqlite.Open(dsn), false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))
	return db
}

// PostgresDSNEnv names the keyword/value DSN used by NewPostgresDB.
const PostgresDSNEnv = "QUICKPAY_TEST_POSTGRES_DSN"

// NewPostgresDB returns a migrated database in a fresh postgres schema that is
// dropped when the test ends. Unlike NewDB it runs transactions concurrently,
// so row locks and lock ordering are really exercised. The test is skipped
// when PostgresDSNEnv is unset.
func NewPostgresDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	schema := fmt.Sprintf("qp_test_%d_%d", time.Now().UnixNano(), seq.Add(1))
	admin, err := repo.Open(postgres.Open(dsn), false)
	require.NoError(t, err)
	require.NoError(t, admin.Exec("CREATE SCHEMA "+schema).Error)

	db, err := repo.Open(postgres.Open(dsn+" search_path="+schema), false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() {
		_ = sqlDB.Close()
		_ = admin.Exec("DROP SCHEMA " + schema + " CASCADE").Error
		if a, err := admin.DB(); err == nil {
			_ = a.Close()
		}
	})
	require.NoError(t, repo.Migrate(db))
	return db
}

// NewRepo wires a repository without Kafka.
func NewRepo(t testing.TB, db *gorm.DB) *repo.Repository {
	return repo.NewRepository(db, nil, Logger(t))
}

// Logger returns a quiet logger for tests.
func Logger(t testing.TB) *zap.SugaredLogger {
	t.Helper()
	log, err := logger.NewLogger(logger.Options{Level: "error"})
	require.NoError(t, err)
	return log
}

// SeedUser inserts a user with the given phone.
func SeedUser(t testing.TB, db *gorm.DB, phone string) *model.User {
	t.Helper()
	u := &model.User{Phone: phone, Name: "user " + phone}
	require.NoError(t, db.Create(u).Error)
	return u
}

// SeedMerchant inserts a merchant with the given API key.
func SeedMerchant(t testing.TB, db *gorm.DB, apiKey string) *model.Merchant {
	t.Helper()
	m := &model.Merchant{Name: "merchant " + apiKey, APIKey: apiKey}
	require.NoError(t, db.Create(m).Error)
	return m
}
