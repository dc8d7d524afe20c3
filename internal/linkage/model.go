package linkage

import (
	"time"
)

// LinkedUser binds a social-identity account (FID) to the in-game player
// name used for flash attribution. The encrypted signer blob is the AEAD
// output of the signer credential; the plaintext never touches storage.
type LinkedUser struct {
	FID             int64     `gorm:"column:fid;primaryKey;not null"`
	PlayerName      string    `gorm:"column:player_name;size:190;not null"`
	EncryptedSigner string    `gorm:"column:encrypted_signer;size:1024;not null"`
	AutoPublish     bool      `gorm:"column:auto_publish;not null;default:true"`
	Deleted         bool      `gorm:"column:deleted;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing linked users.
func (LinkedUser) TableName() string {
	return "linked_users"
}

// FlashAttribution records that a raw flash belongs to a linked user.
// DisplayName and AvatarURL are a point-in-time copy taken at import and
// are allowed to drift from the owner's current profile.
type FlashAttribution struct {
	FlashID     int64     `gorm:"column:flash_id;primaryKey;not null"`
	FID         int64     `gorm:"column:fid;not null;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	CastHash    *string   `gorm:"column:cast_hash;size:190"`
	Deleted     bool      `gorm:"column:deleted;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing flash attributions.
func (FlashAttribution) TableName() string {
	return "flash_attributions"
}
