package lending

import "github.com/ethereum/go-ethereum/common"

// validateRequest performs the static, state-independent checks on a
// submitted operation. Balance-dependent constraints are checked again at
// apply time by applyEffect.
func validateRequest(kind OperationKind, value uint64, account common.Address, future bool, accuracy uint64) error {
	if !kind.Valid() {
		return ErrOperationKindInvalid
	}
	if kind == OpRevocation {
		return ErrOperationKindNotSubmittable
	}
	if kind == OpRepayment {
		if account == (common.Address{}) {
			return ErrOperationAccountZero
		}
	} else if account != (common.Address{}) {
		return ErrOperationAccountNonzero
	}

	switch {
	case kind == OpRepayment || kind == OpDiscount:
		if value == 0 {
			return ErrAmountZero
		}
		if !IsRounded(value, accuracy) {
			return ErrAmountUnrounded
		}
	case kind.componentDiscountKind():
		if future {
			return ErrOperationKindProhibitedInFuture
		}
	case kind.rateSettingKind():
		if value > RateFactor {
			return ErrRateExcess
		}
	case kind == OpDurationSetting:
		if value == 0 {
			return ErrOperationValueInvalid
		}
		if value > MaxDuration {
			return ErrDurationExcess
		}
	case kind == OpFreezing:
		if value != 0 {
			return ErrOperationValueInvalid
		}
	case kind == OpUnfreezing:
		if value > 1 {
			return ErrOperationValueInvalid
		}
	}
	return nil
}

func componentForKind(kind OperationKind) Component {
	switch kind {
	case OpPrincipalDiscount:
		return ComponentPrincipal
	case OpPrimaryInterestDiscount:
		return ComponentPrimaryInterest
	case OpSecondaryInterestDiscount:
		return ComponentSecondaryInterest
	case OpMoratoryInterestDiscount:
		return ComponentMoratoryInterest
	case OpLateFeeDiscount:
		return ComponentLateFee
	case OpClawbackFeeDiscount:
		return ComponentClawbackFee
	case OpChargeExpensesDiscount:
		return ComponentChargeExpenses
	}
	panic("lending: not a component discount kind")
}

// settleOrder lists the components a repayment or general discount consumes,
// charges and penalty interest before the contractual interest and principal.
var settleOrder = [ComponentCount]Component{
	ComponentChargeExpenses,
	ComponentLateFee,
	ComponentClawbackFee,
	ComponentMoratoryInterest,
	ComponentSecondaryInterest,
	ComponentPrimaryInterest,
	ComponentPrincipal,
}

// applyEffect mutates the sub-loan state with the arithmetic effect of an
// operation whose instant the state has already been advanced to. It has no
// side effects of its own so void replays can re-derive it.
func (e *Engine) applyEffect(sl *SubLoan, op *Operation) error {
	st := &sl.State
	switch {
	case op.Kind == OpRepayment || op.Kind == OpDiscount:
		return e.settle(st, op.Kind, op.Value)

	case op.Kind.componentDiscountKind():
		comp := componentForKind(op.Kind)
		part := &st.Balances[comp]
		if op.Value > part.Tracked {
			return ErrSubLoanDiscountExcess
		}
		part.Tracked -= op.Value
		part.Discount += op.Value
		if st.Outstanding() == 0 {
			st.Status = SubLoanRepaid
		}
		return nil

	case op.Kind.rateSettingKind():
		switch op.Kind {
		case OpPrimaryRateSetting:
			st.Rates.Primary = op.Value
		case OpSecondaryRateSetting:
			st.Rates.Secondary = op.Value
		case OpMoratoryRateSetting:
			st.Rates.Moratory = op.Value
		case OpLateFeeRateSetting:
			st.Rates.LateFee = op.Value
		case OpClawbackFeeRateSetting:
			st.Rates.ClawbackFee = op.Value
		case OpChargeExpensesRateSetting:
			st.Rates.ChargeExpenses = op.Value
		}
		return nil

	case op.Kind == OpDurationSetting:
		st.Duration = uint32(op.Value)
		return nil

	case op.Kind == OpFreezing:
		if st.FreezeTimestamp != 0 {
			return ErrSubLoanFrozenAlready
		}
		st.FreezeTimestamp = op.Timestamp
		return nil

	case op.Kind == OpUnfreezing:
		if st.FreezeTimestamp == 0 {
			return ErrSubLoanNotFrozen
		}
		if op.Value == 0 {
			frozenDays := e.dayIndex(op.Timestamp) - e.dayIndex(st.FreezeTimestamp)
			if frozenDays > 0 {
				st.Duration += uint32(frozenDays)
			}
		}
		st.FreezeTimestamp = 0
		return nil

	case op.Kind == OpRevocation:
		if st.Status == SubLoanRevoked {
			return ErrLoanAlreadyRevoked
		}
		st.Balances[ComponentPrincipal].Tracked = 0
		st.Balances[ComponentPrimaryInterest].Tracked = 0
		st.Balances[ComponentSecondaryInterest].Tracked = 0
		st.Balances[ComponentMoratoryInterest].Tracked = 0
		st.Balances[ComponentLateFee].Tracked = 0
		st.Status = SubLoanRevoked
		return nil
	}
	return ErrOperationKindInvalid
}

// settle consumes value against the tracked components in settleOrder.
// Because the ledger transacts in whole accuracy units while raw tracked
// balances are unrounded, paying exactly the rounded outstanding balance
// clears every component: repaid credit covers only what was actually paid
// and any unpaid sub-accuracy residue is recorded as discount.
func (e *Engine) settle(st *SubLoanState, kind OperationKind, value uint64) error {
	rounded := FinancialRound(st.Outstanding(), e.cfg.AccuracyUnit)
	if value > rounded {
		if kind == OpRepayment {
			return ErrSubLoanRepaymentExcess
		}
		return ErrSubLoanDiscountExcess
	}
	if value == rounded {
		if kind != OpRepayment {
			for i := range st.Balances {
				part := &st.Balances[i]
				part.Discount += part.Tracked
				part.Tracked = 0
			}
			st.Status = SubLoanRepaid
			return nil
		}
		remaining := value
		for _, comp := range settleOrder {
			part := &st.Balances[comp]
			pay := part.Tracked
			if pay > remaining {
				pay = remaining
			}
			part.Repaid += pay
			part.Discount += part.Tracked - pay
			part.Tracked = 0
			remaining -= pay
		}
		// Rounding up past the raw balance leaves paid value with no
		// component left to consume it; it books against principal.
		st.Balances[ComponentPrincipal].Repaid += remaining
		st.Status = SubLoanRepaid
		return nil
	}
	remaining := value
	for _, comp := range settleOrder {
		if remaining == 0 {
			break
		}
		part := &st.Balances[comp]
		pay := part.Tracked
		if pay > remaining {
			pay = remaining
		}
		part.Tracked -= pay
		if kind == OpRepayment {
			part.Repaid += pay
		} else {
			part.Discount += pay
		}
		remaining -= pay
	}
	if st.Outstanding() == 0 {
		st.Status = SubLoanRepaid
	}
	return nil
}
