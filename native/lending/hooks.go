package lending

import "github.com/ethereum/go-ethereum/common"

// CreditLine is the collaborator notified around loan lifecycle transitions.
// A returned error aborts the whole triggering call; nothing is persisted.
type CreditLine interface {
	OnBeforeLoanTaken(loanID uint64) error
	OnBeforeLoanReopened(loanID uint64) error
	OnAfterLoanPayment(loanID uint64, amount uint64) error
	OnAfterLoanRevocation(loanID uint64) error
}

// LiquidityPool is notified before every external token movement touching the
// pool. A returned error aborts the triggering call.
type LiquidityPool interface {
	OnBeforeLiquidityOut(amount uint64) error
	OnBeforeLiquidityIn(amount uint64) error
}

// Token exposes the fungible-token transfer surface the ledger routes funds
// through. The ledger never custodies funds itself.
type Token interface {
	Transfer(from, to common.Address, amount uint64) error
}

// NoopCreditLine satisfies CreditLine without side effects. The daemon wires
// it for programs whose credit line lives outside this process.
type NoopCreditLine struct{}

func (NoopCreditLine) OnBeforeLoanTaken(uint64) error          { return nil }
func (NoopCreditLine) OnBeforeLoanReopened(uint64) error       { return nil }
func (NoopCreditLine) OnAfterLoanPayment(uint64, uint64) error { return nil }
func (NoopCreditLine) OnAfterLoanRevocation(uint64) error      { return nil }

// NoopLiquidityPool satisfies LiquidityPool without side effects.
type NoopLiquidityPool struct{}

func (NoopLiquidityPool) OnBeforeLiquidityOut(uint64) error { return nil }
func (NoopLiquidityPool) OnBeforeLiquidityIn(uint64) error  { return nil }
