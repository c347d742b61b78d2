package lending

// advanceSubLoan moves the sub-loan's tracked snapshot forward to target,
// accruing interest and imposing the due-transition fees along the way. The
// caller guarantees target > TrackedTimestamp; a non-advancing target is a
// programming error.
func (e *Engine) advanceSubLoan(sl *SubLoan, target uint64) {
	st := &sl.State
	if target <= st.TrackedTimestamp {
		panic("lending: advanceSubLoan called with non-advancing target")
	}
	effective := target
	if st.FreezeTimestamp != 0 && st.FreezeTimestamp < effective {
		effective = st.FreezeTimestamp
	}
	if effective > st.TrackedTimestamp {
		e.accrue(sl, effective)
	}
	st.TrackedTimestamp = target
}

// accrue applies the day-boundary accrual formula from the tracked instant to
// target, splitting on the due day when the interval crosses it.
func (e *Engine) accrue(sl *SubLoan, target uint64) {
	st := &sl.State
	trackedDay := e.dayIndex(st.TrackedTimestamp)
	targetDay := e.dayIndex(target)
	if targetDay <= trackedDay {
		return
	}
	dueDay := e.dayIndex(sl.Inception.StartTimestamp) + int64(st.Duration)
	switch {
	case targetDay <= dueDay:
		st.accruePrimary(uint64(targetDay - trackedDay))
	case trackedDay > dueDay:
		st.accrueOverdue(uint64(targetDay - trackedDay))
	default:
		if dueDay > trackedDay {
			st.accruePrimary(uint64(dueDay - trackedDay))
		}
		st.imposeDueFees()
		st.accrueOverdue(uint64(targetDay - dueDay))
	}
}

// legalPrincipal is the base post-due charges compute on: tracked principal
// plus tracked primary interest.
func (st *SubLoanState) legalPrincipal() uint64 {
	return st.Balances[ComponentPrincipal].Tracked + st.Balances[ComponentPrimaryInterest].Tracked
}

// accruePrimary compounds primary interest daily on principal plus the
// primary interest already accrued.
func (st *SubLoanState) accruePrimary(days uint64) {
	if days == 0 || st.Rates.Primary == 0 {
		return
	}
	base := st.Balances[ComponentPrincipal].Tracked + st.Balances[ComponentPrimaryInterest].Tracked
	st.Balances[ComponentPrimaryInterest].Tracked += CompoundInterest(base, st.Rates.Primary, days)
}

// imposeDueFees records the three one-time charges of the due transition:
// late fee and charge expenses as one day of simple interest on the legal
// principal, and the clawback fee as compound interest over the entire
// up-to-due duration.
func (st *SubLoanState) imposeDueFees() {
	legal := st.legalPrincipal()
	st.Balances[ComponentLateFee].Tracked += SimpleInterest(legal, st.Rates.LateFee, 1)
	st.Balances[ComponentClawbackFee].Tracked += CompoundInterest(legal, st.Rates.ClawbackFee, uint64(st.Duration))
	st.Balances[ComponentChargeExpenses].Tracked += SimpleInterest(legal, st.Rates.ChargeExpenses, 1)
}

// accrueOverdue compounds secondary interest on the legal principal plus
// already-accrued secondary interest and adds simple moratory interest on the
// legal principal.
func (st *SubLoanState) accrueOverdue(days uint64) {
	if days == 0 {
		return
	}
	legal := st.legalPrincipal()
	if st.Rates.Secondary != 0 {
		base := legal + st.Balances[ComponentSecondaryInterest].Tracked
		st.Balances[ComponentSecondaryInterest].Tracked += CompoundInterest(base, st.Rates.Secondary, days)
	}
	if st.Rates.Moratory != 0 {
		st.Balances[ComponentMoratoryInterest].Tracked += SimpleInterest(legal, st.Rates.Moratory, days)
	}
}

// overdue reports whether the tracked instant lies past the due day.
func (e *Engine) overdue(sl *SubLoan) bool {
	return e.dayIndex(sl.State.TrackedTimestamp) > e.dayIndex(sl.Inception.StartTimestamp)+int64(sl.State.Duration)
}

// resetToInception restores the mutable state to the as-issued snapshot so
// the operation chain can be replayed from scratch.
func resetToInception(sl *SubLoan) {
	inc := &sl.Inception
	sl.State = SubLoanState{
		Status:           SubLoanOngoing,
		Duration:         inc.Duration,
		TrackedTimestamp: inc.StartTimestamp,
		Rates:            inc.Rates,
	}
	sl.State.Balances[ComponentPrincipal].Tracked = inc.BorrowedAmount + inc.AddonAmount
}
