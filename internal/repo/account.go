package repo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/quickpay/internal/model"
)

func (r *Repository) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetMerchant(ctx context.Context, id uint64) (*model.Merchant, error) {
	var m model.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMerchantByAPIKey authenticates a merchant.
func (r *Repository) GetMerchantByAPIKey(ctx context.Context, apiKey string) (*model.Merchant, error) {
	var m model.Merchant
	if err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// EnsurePlatformMerchant returns the platform merchant called name, creating it
// with a random API key on first use.
func (r *Repository) EnsurePlatformMerchant(ctx context.Context, name string) (*model.Merchant, error) {
	var m model.Merchant
	err := r.db.WithContext(ctx).
		Where(model.Merchant{Name: name, Platform: true}).
		Attrs(model.Merchant{APIKey: "sk_platform_" + strings.ReplaceAll(uuid.NewString(), "-", "")}).
		FirstOrCreate(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}
