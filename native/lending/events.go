package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tranchebook/core/types"
)

const (
	EventTypeProgramOpened           = "lending.program.opened"
	EventTypeProgramClosed           = "lending.program.closed"
	EventTypeLoanTaken               = "lending.loan.taken"
	EventTypeLoanRevoked             = "lending.loan.revoked"
	EventTypeSubLoanTaken            = "lending.subloan.taken"
	EventTypeSubLoanUpdated          = "lending.subloan.updated"
	EventTypeOperationApplied        = "lending.operation.applied"
	EventTypeOperationPended         = "lending.operation.pended"
	EventTypeOperationRevoked        = "lending.operation.revoked"
	EventTypeOperationDismissed      = "lending.operation.dismissed"
	EventTypeAddressBookAccountAdded = "lending.addressbook.added"
)

func newProgramOpenedEvent(p *Program) *types.Event {
	return &types.Event{Type: EventTypeProgramOpened, Attributes: map[string]string{
		"programId":     strconv.FormatUint(uint64(p.ID), 10),
		"creditLine":    p.CreditLine.Hex(),
		"liquidityPool": p.LiquidityPool.Hex(),
	}}
}

func newProgramClosedEvent(p *Program) *types.Event {
	return &types.Event{Type: EventTypeProgramClosed, Attributes: map[string]string{
		"programId": strconv.FormatUint(uint64(p.ID), 10),
	}}
}

func newLoanTakenEvent(firstSubLoanID uint64, borrower common.Address, p *Program, totalBorrowed, totalAddon uint64, subLoanCount int) *types.Event {
	return &types.Event{Type: EventTypeLoanTaken, Attributes: map[string]string{
		"firstSubLoanId": strconv.FormatUint(firstSubLoanID, 10),
		"borrower":       borrower.Hex(),
		"programId":      strconv.FormatUint(uint64(p.ID), 10),
		"totalBorrowed":  strconv.FormatUint(totalBorrowed, 10),
		"totalAddon":     strconv.FormatUint(totalAddon, 10),
		"subLoanCount":   strconv.Itoa(subLoanCount),
		"creditLine":     p.CreditLine.Hex(),
		"liquidityPool":  p.LiquidityPool.Hex(),
	}}
}

func newLoanRevokedEvent(firstSubLoanID uint64, subLoanCount int, revokedBorrowed, revokedAddon uint64) *types.Event {
	return &types.Event{Type: EventTypeLoanRevoked, Attributes: map[string]string{
		"firstSubLoanId":  strconv.FormatUint(firstSubLoanID, 10),
		"subLoanCount":    strconv.Itoa(subLoanCount),
		"revokedBorrowed": strconv.FormatUint(revokedBorrowed, 10),
		"revokedAddon":    strconv.FormatUint(revokedAddon, 10),
	}}
}

func newSubLoanTakenEvent(sl *SubLoan) *types.Event {
	return &types.Event{Type: EventTypeSubLoanTaken, Attributes: map[string]string{
		"subLoanId":      strconv.FormatUint(sl.ID, 10),
		"borrowedAmount": strconv.FormatUint(sl.Inception.BorrowedAmount, 10),
		"addonAmount":    strconv.FormatUint(sl.Inception.AddonAmount, 10),
		"startTimestamp": strconv.FormatUint(sl.Inception.StartTimestamp, 10),
		"duration":       strconv.FormatUint(uint64(sl.Inception.Duration), 10),
		"packedRates":    WordHex(PackRates(sl.Inception.Rates)),
	}}
}

// partAttributeNames orders the packed amount-part attributes the way the
// components are enumerated.
var partAttributeNames = [ComponentCount]string{
	"packedPrincipalParts",
	"packedPrimaryInterestParts",
	"packedSecondaryInterestParts",
	"packedMoratoryInterestParts",
	"packedLateFeeParts",
	"packedClawbackFeeParts",
	"packedChargeExpensesParts",
}

func newSubLoanUpdatedEvent(sl *SubLoan) *types.Event {
	attrs := map[string]string{
		"subLoanId":        strconv.FormatUint(sl.ID, 10),
		"updateIndex":      strconv.FormatUint(sl.Metadata.UpdateIndex, 10),
		"packedParameters": WordHex(PackParameters(&sl.Inception, &sl.State, sl.Metadata.PendingTimestamp)),
		"packedRates":      WordHex(PackRates(sl.State.Rates)),
	}
	for i := range sl.State.Balances {
		attrs[partAttributeNames[i]] = WordHex(PackAmountParts(sl.State.Balances[i]))
	}
	return &types.Event{Type: EventTypeSubLoanUpdated, Attributes: attrs}
}

func newOperationEvent(eventType string, op *Operation, accountID uint32) *types.Event {
	attrs := map[string]string{
		"subLoanId":   strconv.FormatUint(op.SubLoanID, 10),
		"operationId": strconv.FormatUint(op.ID, 10),
		"kind":        strconv.FormatUint(uint64(op.Kind), 10),
		"timestamp":   strconv.FormatUint(op.Timestamp, 10),
		"value":       strconv.FormatUint(op.Value, 10),
		"account":     strconv.FormatUint(uint64(accountID), 10),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newOperationRevokedEvent(op *Operation, accountID uint32, counterparty common.Address) *types.Event {
	evt := newOperationEvent(EventTypeOperationRevoked, op, accountID)
	evt.Attributes["counterparty"] = counterparty.Hex()
	return evt
}

func newAddressBookEvent(account common.Address, id uint32) *types.Event {
	return &types.Event{Type: EventTypeAddressBookAccountAdded, Attributes: map[string]string{
		"account": account.Hex(),
		"id":      strconv.FormatUint(uint64(id), 10),
	}}
}
