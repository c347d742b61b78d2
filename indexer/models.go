package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubLoanRow mirrors the latest packed snapshot of a sub-loan in queryable
// columns. One row per sub-loan, overwritten on every update event.
type SubLoanRow struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubLoanID        uint64    `gorm:"uniqueIndex"`
	UpdateIndex      uint64    `gorm:"index"`
	Status           string    `gorm:"size:16;index"`
	BatchIndex       uint16
	BatchCount       uint16
	Duration         uint32
	FreezeTimestamp  uint64
	TrackedTimestamp uint64
	StartTimestamp   uint64
	PendingTimestamp uint64
	PrimaryRate      uint64
	SecondaryRate    uint64
	MoratoryRate     uint64
	LateFeeRate      uint64
	ClawbackFeeRate  uint64
	ChargeRate       uint64
	Outstanding      uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Balances         []BalanceRow `gorm:"foreignKey:SubLoanRowID"`
}

// BalanceRow holds one financial component of a sub-loan snapshot.
type BalanceRow struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubLoanRowID uuid.UUID `gorm:"type:uuid;index"`
	Component    string    `gorm:"size:32;index"`
	Tracked      uint64
	Repaid       uint64
	Discount     uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OperationRow records one operation lifecycle event.
type OperationRow struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubLoanID   uint64    `gorm:"index"`
	OperationID uint64    `gorm:"index"`
	Kind        string    `gorm:"size:40;index"`
	Event       string    `gorm:"size:40;index"`
	Timestamp   uint64
	Value       uint64
	AccountID   uint32
	CreatedAt   time.Time
}

// LoanRow records a loan batch disbursement or revocation.
type LoanRow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	FirstSubLoanID uint64    `gorm:"index"`
	Event          string    `gorm:"size:32;index"`
	Borrower       string    `gorm:"size:64"`
	ProgramID      uint32
	TotalBorrowed  uint64
	TotalAddon     uint64
	SubLoanCount   int
	CreatedAt      time.Time
}

// Cursor persists the journal position the indexer has consumed up to.
type Cursor struct {
	ID   uint   `gorm:"primaryKey"`
	Next uint64 `gorm:"not null"`
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SubLoanRow{},
		&BalanceRow{},
		&OperationRow{},
		&LoanRow{},
		&Cursor{},
	)
}
