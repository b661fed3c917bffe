package gormstore

import "time"

// Timestamps are always written explicitly from the store clock, so gorm's
// automatic created/updated tracking is switched off.

// userRow mirrors the users table.
type userRow struct {
	AnonID          string    `gorm:"column:anon_id;primaryKey;size:128"`
	LinkedAccountID *string   `gorm:"column:linked_account_id"`
	DisplayName     *string   `gorm:"column:display_name"`
	AvatarURL       *string   `gorm:"column:avatar_url"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

// creditsRow mirrors the credits table.
type creditsRow struct {
	AnonID    string    `gorm:"column:anon_id;primaryKey;size:128"`
	Balance   int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (creditsRow) TableName() string { return "credits" }

// ledgerRow mirrors the credit_ledger table. Seq is the physical key and
// breaks ties between equal timestamps; EntryID is the public id.
type ledgerRow struct {
	Seq       int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	EntryID   string    `gorm:"column:id;size:36;not null;uniqueIndex"`
	AnonID    string    `gorm:"column:anon_id;size:128;not null;index:idx_ledger_anon_created,priority:1"`
	Amount    int64     `gorm:"not null"`
	Kind      string    `gorm:"size:16;not null"`
	Reason    *string   `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false;index:idx_ledger_anon_created,priority:2"`
}

func (ledgerRow) TableName() string { return "credit_ledger" }

// bonusClaimRow mirrors the bonus_claims table.
type bonusClaimRow struct {
	AnonID        string    `gorm:"column:anon_id;primaryKey;size:128"`
	LastClaimedAt time.Time `gorm:"not null"`
}

func (bonusClaimRow) TableName() string { return "bonus_claims" }

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db interface{ AutoMigrate(...any) error }) error {
	return db.AutoMigrate(&userRow{}, &creditsRow{}, &ledgerRow{}, &bonusClaimRow{})
}
