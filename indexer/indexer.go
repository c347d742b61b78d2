package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"tranchebook/core/types"
	"tranchebook/native/lending"
)

const defaultBatchSize = 256

// EventSource is the journal the indexer drains, satisfied by the ledger
// store.
type EventSource interface {
	EventCount() (uint64, error)
	Events(from uint64, limit int) ([]*types.Event, error)
}

// Indexer consumes the ledger event journal and maintains queryable relational
// rows, decoding the packed snapshot words back into columns.
type Indexer struct {
	db     *gorm.DB
	source EventSource
	batch  int
}

// New migrates the schema and returns an indexer over the given journal.
func New(db *gorm.DB, source EventSource) (*Indexer, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate indexer schema: %w", err)
	}
	return &Indexer{db: db, source: source, batch: defaultBatchSize}, nil
}

// Sync drains every journal entry past the stored cursor and returns the
// number of events applied.
func (ix *Indexer) Sync() (int, error) {
	cursor, err := ix.loadCursor()
	if err != nil {
		return 0, err
	}
	total, err := ix.source.EventCount()
	if err != nil {
		return 0, fmt.Errorf("read journal size: %w", err)
	}

	applied := 0
	for cursor < total {
		events, err := ix.source.Events(cursor+1, ix.batch)
		if err != nil {
			return applied, fmt.Errorf("read journal from %d: %w", cursor, err)
		}
		if len(events) == 0 {
			break
		}
		for _, evt := range events {
			if err := ix.apply(evt); err != nil {
				return applied, fmt.Errorf("apply event %q at %d: %w", evt.Type, cursor, err)
			}
			cursor++
			applied++
		}
		if err := ix.saveCursor(cursor); err != nil {
			return applied, err
		}
	}
	if applied > 0 {
		slog.Info("indexer synced", "applied", applied, "cursor", cursor)
	}
	return applied, nil
}

func (ix *Indexer) loadCursor() (uint64, error) {
	var cursor Cursor
	err := ix.db.First(&cursor, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return cursor.Next, nil
}

func (ix *Indexer) saveCursor(next uint64) error {
	cursor := Cursor{ID: 1, Next: next}
	if err := ix.db.Save(&cursor).Error; err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (ix *Indexer) apply(evt *types.Event) error {
	switch evt.Type {
	case lending.EventTypeSubLoanUpdated:
		return ix.applySubLoanUpdated(evt)
	case lending.EventTypeOperationApplied,
		lending.EventTypeOperationPended,
		lending.EventTypeOperationRevoked,
		lending.EventTypeOperationDismissed:
		return ix.applyOperation(evt)
	case lending.EventTypeLoanTaken, lending.EventTypeLoanRevoked:
		return ix.applyLoan(evt)
	default:
		// Program, sub-loan inception and address-book events carry no
		// packed state worth a table of their own yet.
		return nil
	}
}

// packedPartAttributes orders the per-component attribute names the way the
// components are enumerated.
var packedPartAttributes = [lending.ComponentCount]string{
	"packedPrincipalParts",
	"packedPrimaryInterestParts",
	"packedSecondaryInterestParts",
	"packedMoratoryInterestParts",
	"packedLateFeeParts",
	"packedClawbackFeeParts",
	"packedChargeExpensesParts",
}

func (ix *Indexer) applySubLoanUpdated(evt *types.Event) error {
	subLoanID, err := attrUint(evt, "subLoanId")
	if err != nil {
		return err
	}
	updateIndex, err := attrUint(evt, "updateIndex")
	if err != nil {
		return err
	}
	paramsWord, err := attrWord(evt, "packedParameters")
	if err != nil {
		return err
	}
	ratesWord, err := attrWord(evt, "packedRates")
	if err != nil {
		return err
	}
	params := lending.UnpackParameters(paramsWord)
	rates := lending.UnpackRates(ratesWord)

	var parts [lending.ComponentCount]lending.BalancePart
	var outstanding uint64
	for i, name := range packedPartAttributes {
		word, err := attrWord(evt, name)
		if err != nil {
			return err
		}
		parts[i] = lending.UnpackAmountParts(word)
		outstanding += parts[i].Tracked
	}

	return ix.db.Transaction(func(tx *gorm.DB) error {
		row := SubLoanRow{}
		err := tx.Where("sub_loan_id = ?", subLoanID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = SubLoanRow{ID: uuid.New(), SubLoanID: subLoanID}
		} else if err != nil {
			return err
		}
		if row.UpdateIndex > updateIndex {
			// Replays never regress a row past a newer snapshot.
			return nil
		}
		row.UpdateIndex = updateIndex
		row.Status = params.Status.String()
		row.BatchIndex = params.Index
		row.BatchCount = params.Count
		row.Duration = params.Duration
		row.FreezeTimestamp = params.FreezeTimestamp
		row.TrackedTimestamp = params.TrackedTimestamp
		row.StartTimestamp = params.StartTimestamp
		row.PendingTimestamp = params.PendingTimestamp
		row.PrimaryRate = rates.Primary
		row.SecondaryRate = rates.Secondary
		row.MoratoryRate = rates.Moratory
		row.LateFeeRate = rates.LateFee
		row.ClawbackFeeRate = rates.ClawbackFee
		row.ChargeRate = rates.ChargeExpenses
		row.Outstanding = outstanding
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("sub_loan_row_id = ?", row.ID).Delete(&BalanceRow{}).Error; err != nil {
			return err
		}
		for i := range parts {
			balance := BalanceRow{
				ID:           uuid.New(),
				SubLoanRowID: row.ID,
				Component:    lending.Component(i).String(),
				Tracked:      parts[i].Tracked,
				Repaid:       parts[i].Repaid,
				Discount:     parts[i].Discount,
			}
			if err := tx.Create(&balance).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *Indexer) applyOperation(evt *types.Event) error {
	subLoanID, err := attrUint(evt, "subLoanId")
	if err != nil {
		return err
	}
	operationID, err := attrUint(evt, "operationId")
	if err != nil {
		return err
	}
	kind, err := attrUint(evt, "kind")
	if err != nil {
		return err
	}
	timestamp, err := attrUint(evt, "timestamp")
	if err != nil {
		return err
	}
	value, err := attrUint(evt, "value")
	if err != nil {
		return err
	}
	accountID, err := attrUint(evt, "account")
	if err != nil {
		return err
	}
	row := OperationRow{
		ID:          uuid.New(),
		SubLoanID:   subLoanID,
		OperationID: operationID,
		Kind:        lending.OperationKind(kind).String(),
		Event:       evt.Type,
		Timestamp:   timestamp,
		Value:       value,
		AccountID:   uint32(accountID),
	}
	return ix.db.Create(&row).Error
}

func (ix *Indexer) applyLoan(evt *types.Event) error {
	firstID, err := attrUint(evt, "firstSubLoanId")
	if err != nil {
		return err
	}
	count, err := attrUint(evt, "subLoanCount")
	if err != nil {
		return err
	}
	row := LoanRow{
		ID:             uuid.New(),
		FirstSubLoanID: firstID,
		Event:          evt.Type,
		Borrower:       evt.Attributes["borrower"],
		SubLoanCount:   int(count),
	}
	if evt.Type == lending.EventTypeLoanTaken {
		programID, err := attrUint(evt, "programId")
		if err != nil {
			return err
		}
		row.ProgramID = uint32(programID)
		if row.TotalBorrowed, err = attrUint(evt, "totalBorrowed"); err != nil {
			return err
		}
		if row.TotalAddon, err = attrUint(evt, "totalAddon"); err != nil {
			return err
		}
	}
	return ix.db.Create(&row).Error
}

func attrUint(evt *types.Event, name string) (uint64, error) {
	raw, ok := evt.Attributes[name]
	if !ok {
		return 0, fmt.Errorf("event %q missing attribute %q", evt.Type, name)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("event %q attribute %q: %w", evt.Type, name, err)
	}
	return value, nil
}

func attrWord(evt *types.Event, name string) (*uint256.Int, error) {
	raw, ok := evt.Attributes[name]
	if !ok {
		return nil, fmt.Errorf("event %q missing attribute %q", evt.Type, name)
	}
	word, err := lending.ParseWord(raw)
	if err != nil {
		return nil, fmt.Errorf("event %q attribute %q: %w", evt.Type, name, err)
	}
	return word, nil
}
