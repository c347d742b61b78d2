package lending

import "github.com/ethereum/go-ethereum/common"

// SubLoanStatus enumerates the sub-loan lifecycle states.
type SubLoanStatus uint8

const (
	SubLoanNonexistent SubLoanStatus = iota
	SubLoanOngoing
	SubLoanRepaid
	SubLoanRevoked
)

// Valid reports whether the status value is within the supported range.
func (s SubLoanStatus) Valid() bool { return s <= SubLoanRevoked }

func (s SubLoanStatus) String() string {
	switch s {
	case SubLoanNonexistent:
		return "nonexistent"
	case SubLoanOngoing:
		return "ongoing"
	case SubLoanRepaid:
		return "repaid"
	case SubLoanRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// ProgramStatus enumerates the credit-program lifecycle states.
type ProgramStatus uint8

const (
	ProgramNonexistent ProgramStatus = iota
	ProgramActive
	ProgramClosed
)

// OperationStatus enumerates the recorded operation lifecycle states.
type OperationStatus uint8

const (
	OperationNonexistent OperationStatus = iota
	OperationPending
	OperationApplied
	// OperationSkipped marks a formerly pending operation whose
	// balance-dependent validation failed when it finally came due. It is
	// terminal except for dismissal.
	OperationSkipped
	OperationDismissed
	OperationRevoked
)

func (s OperationStatus) String() string {
	switch s {
	case OperationNonexistent:
		return "nonexistent"
	case OperationPending:
		return "pending"
	case OperationApplied:
		return "applied"
	case OperationSkipped:
		return "skipped"
	case OperationDismissed:
		return "dismissed"
	case OperationRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// OperationKind enumerates the recorded operation effects. The zero value is
// reserved so id 0 style sentinels stay unambiguous in serialized form.
type OperationKind uint8

const (
	OpRepayment OperationKind = iota + 1
	OpDiscount
	OpPrincipalDiscount
	OpPrimaryInterestDiscount
	OpSecondaryInterestDiscount
	OpMoratoryInterestDiscount
	OpLateFeeDiscount
	OpClawbackFeeDiscount
	OpChargeExpensesDiscount
	OpPrimaryRateSetting
	OpSecondaryRateSetting
	OpMoratoryRateSetting
	OpLateFeeRateSetting
	OpClawbackFeeRateSetting
	OpChargeExpensesRateSetting
	OpDurationSetting
	OpFreezing
	OpUnfreezing
	OpRevocation
)

// Valid reports whether the kind is one of the enumerated effects.
func (k OperationKind) Valid() bool { return k >= OpRepayment && k <= OpRevocation }

func (k OperationKind) String() string {
	switch k {
	case OpRepayment:
		return "repayment"
	case OpDiscount:
		return "discount"
	case OpPrincipalDiscount:
		return "principal_discount"
	case OpPrimaryInterestDiscount:
		return "primary_interest_discount"
	case OpSecondaryInterestDiscount:
		return "secondary_interest_discount"
	case OpMoratoryInterestDiscount:
		return "moratory_interest_discount"
	case OpLateFeeDiscount:
		return "late_fee_discount"
	case OpClawbackFeeDiscount:
		return "clawback_fee_discount"
	case OpChargeExpensesDiscount:
		return "charge_expenses_discount"
	case OpPrimaryRateSetting:
		return "primary_rate_setting"
	case OpSecondaryRateSetting:
		return "secondary_rate_setting"
	case OpMoratoryRateSetting:
		return "moratory_rate_setting"
	case OpLateFeeRateSetting:
		return "late_fee_rate_setting"
	case OpClawbackFeeRateSetting:
		return "clawback_fee_rate_setting"
	case OpChargeExpensesRateSetting:
		return "charge_expenses_rate_setting"
	case OpDurationSetting:
		return "duration_setting"
	case OpFreezing:
		return "freezing"
	case OpUnfreezing:
		return "unfreezing"
	case OpRevocation:
		return "revocation"
	default:
		return "unknown"
	}
}

// componentDiscountKind reports whether the kind forgives a single financial
// component. These kinds are barred from future scheduling because their
// legality depends on balances that only exist at apply time.
func (k OperationKind) componentDiscountKind() bool {
	return k >= OpPrincipalDiscount && k <= OpChargeExpensesDiscount
}

func (k OperationKind) rateSettingKind() bool {
	return k >= OpPrimaryRateSetting && k <= OpChargeExpensesRateSetting
}

// Component identifies one of the simultaneously accruing financial
// components of a sub-loan.
type Component uint8

const (
	ComponentPrincipal Component = iota
	ComponentPrimaryInterest
	ComponentSecondaryInterest
	ComponentMoratoryInterest
	ComponentLateFee
	ComponentClawbackFee
	ComponentChargeExpenses

	ComponentCount = 7
)

func (c Component) String() string {
	switch c {
	case ComponentPrincipal:
		return "principal"
	case ComponentPrimaryInterest:
		return "primary_interest"
	case ComponentSecondaryInterest:
		return "secondary_interest"
	case ComponentMoratoryInterest:
		return "moratory_interest"
	case ComponentLateFee:
		return "late_fee"
	case ComponentClawbackFee:
		return "clawback_fee"
	case ComponentChargeExpenses:
		return "charge_expenses"
	default:
		return "unknown"
	}
}

// Rates groups the six per-day rates of a sub-loan, each expressed in parts
// per RateFactor.
type Rates struct {
	Primary        uint64
	Secondary      uint64
	Moratory       uint64
	LateFee        uint64
	ClawbackFee    uint64
	ChargeExpenses uint64
}

// Valid reports whether every rate is at most RateFactor.
func (r Rates) Valid() bool {
	return r.Primary <= RateFactor && r.Secondary <= RateFactor &&
		r.Moratory <= RateFactor && r.LateFee <= RateFactor &&
		r.ClawbackFee <= RateFactor && r.ChargeExpenses <= RateFactor
}

// BalancePart holds the three running totals kept per financial component.
// Tracked is the currently owed amount; Repaid and Discount accumulate
// repayments and forgiveness respectively.
type BalancePart struct {
	Tracked  uint64
	Repaid   uint64
	Discount uint64
}

// SubLoanInception is written once when a sub-loan is created and never
// mutated afterwards. Voiding an applied operation rebuilds the mutable state
// from this record.
type SubLoanInception struct {
	ProgramID      uint32
	Borrower       common.Address
	StartTimestamp uint64
	// Index is the position of this sub-loan within its loan batch and Count
	// the sibling total; together they locate the full group.
	Index uint16
	Count uint16

	BorrowedAmount uint64
	AddonAmount    uint64
	Duration       uint32
	Rates          Rates
}

// SubLoanMetadata carries the bookkeeping counters of a sub-loan.
type SubLoanMetadata struct {
	// UpdateIndex increases on every persisted mutation and orders the
	// SubLoanUpdated events for idempotence checks downstream.
	UpdateIndex    uint64
	OperationCount uint64

	EarliestOperationID uint64
	// RecentOperationID is the most recently applied operation.
	RecentOperationID uint64
	// LatestOperationID is the tail of the timestamp-ordered chain, pending
	// operations included.
	LatestOperationID uint64
	// PendingTimestamp is the effective instant of the earliest operation
	// that has not applied yet, zero when none is pending.
	PendingTimestamp uint64
}

// SubLoanState is the mutable snapshot of a sub-loan as of TrackedTimestamp.
type SubLoanState struct {
	Status           SubLoanStatus
	Duration         uint32
	FreezeTimestamp  uint64
	TrackedTimestamp uint64
	Rates            Rates
	Balances         [ComponentCount]BalancePart
}

// Outstanding returns the raw (unrounded) sum of every tracked component.
func (st *SubLoanState) Outstanding() uint64 {
	var total uint64
	for i := range st.Balances {
		total += st.Balances[i].Tracked
	}
	return total
}

// SubLoan bundles the persisted records of a single amortizing tranche.
type SubLoan struct {
	ID        uint64
	Inception SubLoanInception
	Metadata  SubLoanMetadata
	State     SubLoanState
}

// Clone returns a deep copy of the sub-loan so callers can mutate it without
// affecting the stored instance.
func (sl *SubLoan) Clone() *SubLoan {
	if sl == nil {
		return nil
	}
	clone := *sl
	return &clone
}

// Operation is a recorded, timestamped, typed mutation request against a
// sub-loan. PrevID/NextID link the per-sub-loan chain in (timestamp, id)
// order; id 0 is the "none" sentinel.
type Operation struct {
	SubLoanID uint64
	ID        uint64
	Kind      OperationKind
	Status    OperationStatus
	Timestamp uint64
	Value     uint64
	Account   common.Address
	PrevID    uint64
	NextID    uint64
}

// Clone returns a copy of the operation record.
func (op *Operation) Clone() *Operation {
	if op == nil {
		return nil
	}
	clone := *op
	return &clone
}

// before reports whether op precedes other in the chain ordering: ascending
// timestamp, ties broken by submission id.
func (op *Operation) before(other *Operation) bool {
	if op.Timestamp != other.Timestamp {
		return op.Timestamp < other.Timestamp
	}
	return op.ID < other.ID
}

// Program pairs a credit line with a liquidity pool. Loans may only be taken
// against an active program.
type Program struct {
	ID            uint32
	Status        ProgramStatus
	CreditLine    common.Address
	LiquidityPool common.Address
}

// Clone returns a copy of the program record.
func (p *Program) Clone() *Program {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
