package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/wnt/sparechange/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a wallet has no baseline
	ErrNotFound = errors.New("baseline not found")
	// ErrConflict is returned when the stored baseline no longer matches the expected one
	ErrConflict = errors.New("baseline changed concurrently")
)

// Store persists per-wallet baselines
type Store struct {
	db *gorm.DB
}

// NewStore creates a baseline store on db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the baseline of wallet
func (s *Store) Get(ctx context.Context, wallet string) (*models.WalletBaseline, error) {
	var b models.WalletBaseline
	err := s.db.WithContext(ctx).Where("address = ?", wallet).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	return &b, nil
}

// SetBaseline creates or overwrites the baseline of wallet
func (s *Store) SetBaseline(ctx context.Context, wallet, transferID string) (*models.WalletBaseline, error) {
	b := models.WalletBaseline{
		Address:        wallet,
		LastTransferID: &transferID,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_transfer_id", "updated_at"}),
	}).Create(&b).Error
	if err != nil {
		return nil, fmt.Errorf("failed to set baseline: %w", err)
	}

	return s.Get(ctx, wallet)
}

// Initialize creates the baseline of wallet unless one exists already. It
// returns the stored baseline and whether this call created it.
func (s *Store) Initialize(ctx context.Context, wallet, transferID string) (*models.WalletBaseline, bool, error) {
	b := models.WalletBaseline{
		Address:        wallet,
		LastTransferID: &transferID,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&b)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to initialize baseline: %w", result.Error)
	}

	stored, err := s.Get(ctx, wallet)
	if err != nil {
		return nil, false, err
	}
	return stored, result.RowsAffected > 0, nil
}

// Advance moves the baseline of wallet from expected to next in a single
// conditional update. An empty expected matches an unset baseline. When the
// stored value differs ErrConflict is returned and nothing is written.
func (s *Store) Advance(ctx context.Context, wallet, expected, next string) error {
	if expected == next {
		return nil
	}

	query := s.db.WithContext(ctx).Model(&models.WalletBaseline{}).Where("address = ?", wallet)
	if expected == "" {
		query = query.Where("last_transfer_id IS NULL")
	} else {
		query = query.Where("last_transfer_id = ?", expected)
	}

	result := query.Update("last_transfer_id", next)
	if result.Error != nil {
		return fmt.Errorf("failed to advance baseline: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, wallet); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// List returns every baseline ordered by address
func (s *Store) List(ctx context.Context) ([]models.WalletBaseline, error) {
	var baselines []models.WalletBaseline
	if err := s.db.WithContext(ctx).Order("address").Find(&baselines).Error; err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	return baselines, nil
}

// Delete permanently removes the baseline of wallet
func (s *Store) Delete(ctx context.Context, wallet string) error {
	result := s.db.WithContext(ctx).Unscoped().Where("address = ?", wallet).Delete(&models.WalletBaseline{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete baseline: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
