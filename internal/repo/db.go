package repo

import (
	"time"

	"github.com/richardliu001/quickpay/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects gorm with the settings every binary shares: UTC timestamps and
// driver errors translated to gorm sentinels.
func Open(d gorm.Dialector, prepareStmt bool) (*gorm.DB, error) {
	return gorm.Open(d, &gorm.Config{
		PrepareStmt:    prepareStmt,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
	})
}

// Migrate creates or updates the ledger schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}
