package main

import (
	"context"
	"fmt"

	"github.com/richardliu001/quickpay/internal/config"
	"github.com/richardliu001/quickpay/internal/logger"
	"github.com/richardliu001/quickpay/internal/model"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/service"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	demoAPIKey    = "sk_test_demo_merchant"
	openingAmount = 100000
)

var demoUsers = []model.User{
	{Phone: "1111111111", Name: "Alice"},
	{Phone: "2222222222", Name: "Bob"},
}

// openingBalance credits amount once per user; re-running the seed leaves
// balances alone. A failed lookup is returned, never treated as "not yet credited".
func openingBalance(ctx context.Context, db *gorm.DB, wallets *service.WalletService, userID uint64, amount int64) (bool, error) {
	ref := fmt.Sprintf("seed_%d", userID)
	var n int64
	if err := db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("reference = ?", ref).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check opening balance: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := wallets.Credit(ctx, userID, amount, ref, "Opening balance"); err != nil {
		return false, err
	}
	return true, nil
}

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := repo.Open(postgres.Open(cfg.Postgres.DSN), false)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	ctx := context.Background()

	m := model.Merchant{Name: "Demo Store", APIKey: demoAPIKey}
	if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		log.Fatalf("seed merchant: %v", err)
	}

	wallets := service.NewWalletService(repo.NewRepository(gdb, nil, log), nil, log)
	for _, u := range demoUsers {
		u := u
		if err := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			log.Fatalf("seed user %s: %v", u.Phone, err)
		}
		var saved model.User
		if err := gdb.Where("phone = ?", u.Phone).First(&saved).Error; err != nil {
			log.Fatalf("reload user %s: %v", u.Phone, err)
		}
		credited, err := openingBalance(ctx, gdb, wallets, saved.ID, openingAmount)
		if err != nil {
			log.Fatalf("seed wallet %s: %v", u.Phone, err)
		}
		log.Infow("seeded user", "user_id", saved.ID, "phone", saved.Phone, "credited", credited)
	}
	log.Infow("seeded merchant", "api_key", demoAPIKey)
}
