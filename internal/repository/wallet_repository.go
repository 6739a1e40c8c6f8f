// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-engine/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrWalletNotFound no wallet matched the lookup
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrInvalidTransition the wallet's current resource status does not allow the requested change
	ErrInvalidTransition = errors.New("invalid resource status transition")
	// ErrImmutableField the update touched id, address or created_at
	ErrImmutableField = errors.New("field is immutable")
)

// mutableColumns columns a caller may set through Update/UpdateByID.
// Resource statuses go through SetResourceStatus/ReplaceResource instead.
var mutableColumns = map[string]bool{
	"private_key":                true,
	"proxy":                      true,
	"social_token":               true,
	"completed_count":            true,
	"next_action_time":           true,
	"next_secondary_action_time": true,
	"last_resource_claim_time":   true,
}

// WalletRepository defines the interface for Wallet data access
type WalletRepository interface {
	// Basic CRUD operations
	Insert(ctx context.Context, wallet *models.Wallet) error
	All(ctx context.Context) ([]*models.Wallet, error)
	GetByID(ctx context.Context, id uint) (*models.Wallet, error)
	FindByAddress(ctx context.Context, address string) (*models.Wallet, error)
	Update(ctx context.Context, address string, fields map[string]interface{}) (bool, error)
	UpdateByID(ctx context.Context, id uint, fields map[string]interface{}) (bool, error)

	// Scheduling
	AdvanceSchedule(ctx context.Context, id uint, field models.ScheduleField, at time.Time) (bool, error)
	IncrementCompleted(ctx context.Context, id uint) error

	// Resource health
	SetResourceStatus(ctx context.Context, id uint, kind models.ResourceKind, to models.ResourceStatus) error
	ReplaceResource(ctx context.Context, id uint, kind models.ResourceKind, value string) error
	FindByResourceStatus(ctx context.Context, kind models.ResourceKind, statuses ...models.ResourceStatus) ([]*models.Wallet, error)
	CountByResourceStatus(ctx context.Context, kind models.ResourceKind) (map[models.ResourceStatus]int64, error)

	// Maintenance
	FirstWithKeyPrefix(ctx context.Context, prefix string) (*models.Wallet, error)
	Count(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// walletRepository implements WalletRepository
type walletRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewWalletRepository creates a new WalletRepository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db, now: time.Now}
}

// normalizeTime stores every timestamp in UTC at microsecond precision so
// that sqlite text comparisons and postgres timestamps order identically.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if !mutableColumns[k] {
			return nil, fmt.Errorf("%w: %s", ErrImmutableField, k)
		}
		switch tv := v.(type) {
		case time.Time:
			v = normalizeTime(tv)
		case *time.Time:
			if tv != nil {
				n := normalizeTime(*tv)
				v = &n
			}
		}
		out[k] = v
	}
	return out, nil
}

// Insert creates a new wallet row
func (r *walletRepository) Insert(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ProxyStatus == "" {
		wallet.ProxyStatus = models.ResourceStatusOK
	}
	if wallet.SocialStatus == "" {
		wallet.SocialStatus = models.ResourceStatusOK
	}
	return r.db.WithContext(ctx).Create(wallet).Error
}

// All retrieves every wallet ordered by id
func (r *walletRepository) All(ctx context.Context) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	err := r.db.WithContext(ctx).Order("id ASC").Find(&wallets).Error
	return wallets, err
}

// GetByID retrieves a wallet by ID
func (r *walletRepository) GetByID(ctx context.Context, id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id=%d", ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// FindByAddress retrieves a wallet by address, nil when absent
func (r *walletRepository) FindByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	var wallets []*models.Wallet
	if err := r.db.WithContext(ctx).Where("address = ?", address).Limit(1).Find(&wallets).Error; err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return wallets[0], nil
}

// Update applies fields to the wallet with the given address in one statement.
// Returns false when no wallet has that address.
func (r *walletRepository) Update(ctx context.Context, address string, fields map[string]interface{}) (bool, error) {
	return r.update(ctx, "address = ?", address, fields)
}

// UpdateByID applies fields to the wallet with the given id in one statement
func (r *walletRepository) UpdateByID(ctx context.Context, id uint, fields map[string]interface{}) (bool, error) {
	return r.update(ctx, "id = ?", id, fields)
}

func (r *walletRepository) update(ctx context.Context, where string, key interface{}, fields map[string]interface{}) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	cols, err := normalizeFields(fields)
	if err != nil {
		return false, err
	}

	var affected int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Wallet{}).Where(where, key).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update wallet: %w", err)
	}
	return affected > 0, nil
}

// AdvanceSchedule moves a scheduling timestamp forward. It never moves it
// back: the row is only touched when the stored value is NULL or earlier.
func (r *walletRepository) AdvanceSchedule(ctx context.Context, id uint, field models.ScheduleField, at time.Time) (bool, error) {
	col := string(field)
	if !mutableColumns[col] {
		return false, fmt.Errorf("unknown schedule field: %s", field)
	}
	at = normalizeTime(at)

	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", id).
		Where(col+" IS NULL OR "+col+" < ?", at).
		Updates(map[string]interface{}{
			col:          at,
			"updated_at": normalizeTime(r.now()),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance %s: %w", col, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IncrementCompleted bumps completed_count by one
func (r *walletRepository) IncrementCompleted(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", id).
		UpdateColumn("completed_count", gorm.Expr("completed_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to increment completed_count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", ErrWalletNotFound, id)
	}
	return nil
}

// SetResourceStatus changes a resource status, checking the transition in the
// UPDATE itself so a concurrent writer cannot slip an invalid one through.
func (r *walletRepository) SetResourceStatus(ctx context.Context, id uint, kind models.ResourceKind, to models.ResourceStatus) error {
	from := models.AllowedSources(kind, to)
	if len(from) == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, kind, to)
	}
	return r.transition(ctx, id, kind, from, map[string]interface{}{
		kind.StatusColumn(): to,
	})
}

// ReplaceResource assigns a new resource value and flips its status back to OK
func (r *walletRepository) ReplaceResource(ctx context.Context, id uint, kind models.ResourceKind, value string) error {
	return r.transition(ctx, id, kind, models.AllowedSources(kind, models.ResourceStatusOK), map[string]interface{}{
		kind.ValueColumn():  value,
		kind.StatusColumn(): models.ResourceStatusOK,
	})
}

func (r *walletRepository) transition(ctx context.Context, id uint, kind models.ResourceKind, from []models.ResourceStatus, cols map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cols["updated_at"] = normalizeTime(r.now())
		res := tx.Model(&models.Wallet{}).
			Where("id = ?", id).
			Where(kind.StatusColumn()+" IN ?", from).
			Updates(cols)
		if res.Error != nil {
			return fmt.Errorf("failed to update %s: %w", kind.StatusColumn(), res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.Wallet{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: id=%d", ErrWalletNotFound, id)
		}
		return fmt.Errorf("%w: wallet %d %s not in %v", ErrInvalidTransition, id, kind.StatusColumn(), from)
	})
}

// FindByResourceStatus lists wallets whose resource of kind has one of statuses
func (r *walletRepository) FindByResourceStatus(ctx context.Context, kind models.ResourceKind, statuses ...models.ResourceStatus) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	err := r.db.WithContext(ctx).
		Where(kind.StatusColumn()+" IN ?", statuses).
		Order("id ASC").
		Find(&wallets).Error
	return wallets, err
}

// CountByResourceStatus counts wallets per status of a resource kind
func (r *walletRepository) CountByResourceStatus(ctx context.Context, kind models.ResourceKind) (map[models.ResourceStatus]int64, error) {
	var rows []struct {
		Status models.ResourceStatus
		Total  int64
	}
	col := kind.StatusColumn()
	err := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Select(col + " AS status, COUNT(*) AS total").
		Group(col).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ResourceStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// FirstWithKeyPrefix lowest-id wallet whose stored key starts with prefix
func (r *walletRepository) FirstWithKeyPrefix(ctx context.Context, prefix string) (*models.Wallet, error) {
	var wallets []*models.Wallet
	err := r.db.WithContext(ctx).
		Where("private_key LIKE ?", prefix+"%").
		Order("id ASC").
		Limit(1).
		Find(&wallets).Error
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, nil
	}
	return wallets[0], nil
}

// Count total wallets
func (r *walletRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Wallet{}).Count(&total).Error
	return total, err
}

// Reset wipes the wallet table
func (r *walletRepository) Reset(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Wallet{}).Error
}
