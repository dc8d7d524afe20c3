package linkage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const attributionBatchSize = 500

var (
	errMissingDatabase = errors.New("linkage: database handle is required")

	// ErrLinkedUserNotFound indicates no live linked user exists for the FID.
	ErrLinkedUserNotFound = errors.New("linkage: linked user not found")
)

// StoreConfig describes the dependencies required by the linkage store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists linked users and their flash attributions.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the linkage store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// UpsertLinkedUser inserts or refreshes the linked user keyed by FID.
// On conflict the player name and encrypted signer are overwritten and the
// soft-delete flag is cleared; the auto-publish preference is left as the
// user last set it and only takes the provided value on first insert.
func (s *Store) UpsertLinkedUser(ctx context.Context, user LinkedUser) (LinkedUser, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fid"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"player_name":      user.PlayerName,
			"encrypted_signer": user.EncryptedSigner,
			"deleted":          false,
			"updated_at":       s.clock().UTC(),
		}),
	}).Create(&user)
	if result.Error != nil {
		return LinkedUser{}, fmt.Errorf("linkage: upsert linked user fid=%d: %w", user.FID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Unreachable with upsert semantics; treat as a consistency bug.
		return LinkedUser{}, fmt.Errorf("linkage: upsert affected no rows for fid=%d: %w", user.FID, ErrLinkedUserNotFound)
	}

	var stored LinkedUser
	if err := s.db.WithContext(ctx).Where("fid = ?", user.FID).Take(&stored).Error; err != nil {
		return LinkedUser{}, fmt.Errorf("linkage: read back linked user fid=%d: %w", user.FID, err)
	}
	return stored, nil
}

// GetLinkedUser returns the live (not soft-deleted) linked user for the FID.
func (s *Store) GetLinkedUser(ctx context.Context, fid int64) (LinkedUser, error) {
	var user LinkedUser
	err := s.db.WithContext(ctx).
		Where("fid = ? AND deleted = ?", fid, false).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LinkedUser{}, ErrLinkedUserNotFound
	}
	if err != nil {
		return LinkedUser{}, fmt.Errorf("linkage: get linked user fid=%d: %w", fid, err)
	}
	return user, nil
}

// ListLinkedUsers returns live linked users ordered by FID.
func (s *Store) ListLinkedUsers(ctx context.Context, offset, limit int) ([]LinkedUser, error) {
	var users []LinkedUser
	err := s.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("fid ASC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("linkage: list linked users: %w", err)
	}
	return users, nil
}

// BulkUpsertAttributions inserts or refreshes attribution rows keyed by
// flash id. On conflict the owner, denormalized profile fields, and the
// soft-delete flag are refreshed; the published cast reference is never
// overwritten because it records a separate, later action.
func (s *Store) BulkUpsertAttributions(ctx context.Context, attributions []FlashAttribution) error {
	if len(attributions) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "flash_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"fid", "display_name", "avatar_url", "deleted", "updated_at",
		}),
	}).CreateInBatches(attributions, attributionBatchSize).Error
	if err != nil {
		return fmt.Errorf("linkage: bulk upsert %d attributions: %w", len(attributions), err)
	}
	return nil
}

// ListAttributionsByOwner returns live attributions for the FID, newest flash first.
func (s *Store) ListAttributionsByOwner(ctx context.Context, fid int64, offset, limit int) ([]FlashAttribution, error) {
	var attributions []FlashAttribution
	err := s.db.WithContext(ctx).
		Where("fid = ? AND deleted = ?", fid, false).
		Order("flash_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&attributions).Error
	if err != nil {
		return nil, fmt.Errorf("linkage: list attributions fid=%d: %w", fid, err)
	}
	return attributions, nil
}

// SetAutoPublish records an explicit auto-publish preference change.
func (s *Store) SetAutoPublish(ctx context.Context, fid int64, enabled bool) error {
	result := s.db.WithContext(ctx).
		Model(&LinkedUser{}).
		Where("fid = ? AND deleted = ?", fid, false).
		Update("auto_publish", enabled)
	if result.Error != nil {
		return fmt.Errorf("linkage: set auto publish fid=%d: %w", fid, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLinkedUserNotFound
	}
	return nil
}

// RemoveLinkedUser soft-deletes the linked user and all of their
// attributions as a single transaction. Rows stay in place so a later
// re-link can restore them through the upsert paths.
func (s *Store) RemoveLinkedUser(ctx context.Context, fid int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&LinkedUser{}).
			Where("fid = ? AND deleted = ?", fid, false).
			Update("deleted", true)
		if result.Error != nil {
			return fmt.Errorf("linkage: soft delete linked user fid=%d: %w", fid, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrLinkedUserNotFound
		}
		if err := tx.Model(&FlashAttribution{}).
			Where("fid = ?", fid).
			Update("deleted", true).Error; err != nil {
			return fmt.Errorf("linkage: soft delete attributions fid=%d: %w", fid, err)
		}
		return nil
	})
}

// LeaderboardRow aggregates live attribution counts per linked user.
type LeaderboardRow struct {
	FID         int64  `gorm:"column:fid"`
	DisplayName string `gorm:"column:display_name"`
	FlashCount  int64  `gorm:"column:flash_count"`
}

// AttributionLeaderboard returns the users with the most live attributions.
func (s *Store) AttributionLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).
		Model(&FlashAttribution{}).
		Select("fid, MAX(display_name) AS display_name, COUNT(*) AS flash_count").
		Where("deleted = ?", false).
		Group("fid").
		Order("flash_count DESC, fid ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("linkage: attribution leaderboard: %w", err)
	}
	return rows, nil
}
