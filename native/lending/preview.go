package lending

// Preview timestamp sentinels. PreviewAsTracked reports the sub-loan exactly
// as last synchronized; PreviewNow projects to the current block instant.
const (
	PreviewNow       uint64 = 0
	PreviewAsTracked uint64 = 1
)

// SubLoanPreview is a read-only projection of a sub-loan at a requested
// instant. OutstandingBalance is the financially rounded sum of the tracked
// components.
type SubLoanPreview struct {
	SubLoanID          uint64
	Status             SubLoanStatus
	Overdue            bool
	Timestamp          uint64
	Duration           uint32
	FreezeTimestamp    uint64
	Rates              Rates
	Balances           [ComponentCount]BalancePart
	OutstandingBalance uint64
}

// LoanPreview aggregates the sub-loan previews of one sibling group.
type LoanPreview struct {
	FirstSubLoanID uint64
	Timestamp      uint64

	OngoingCount uint16
	OverdueCount uint16
	RepaidCount  uint16
	RevokedCount uint16

	Balances           [ComponentCount]BalancePart
	OutstandingBalance uint64

	SubLoans []SubLoanPreview
}

// GetSubLoanPreview projects the sub-loan to the requested instant without
// mutating persisted state. Pending operations due by the instant are
// projected as applied; a timestamp earlier than the tracked instant
// reconstructs the historical state by replay from inception.
func (e *Engine) GetSubLoanPreview(subLoanID, timestamp uint64) (*SubLoanPreview, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	sl, err := e.loadSubLoan(subLoanID)
	if err != nil {
		return nil, err
	}
	return e.subLoanPreview(sl, timestamp)
}

// GetLoanPreview projects every sub-loan of the sibling group anchored at
// firstSubLoanID and aggregates status counts and component totals.
func (e *Engine) GetLoanPreview(firstSubLoanID, timestamp uint64) (*LoanPreview, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	first, err := e.loadSubLoan(firstSubLoanID)
	if err != nil {
		return nil, err
	}
	if first.Inception.Index != 0 {
		return nil, ErrSubLoanNonexistent
	}

	lp := &LoanPreview{FirstSubLoanID: firstSubLoanID, Timestamp: timestamp}
	count := uint64(first.Inception.Count)
	for i := uint64(0); i < count; i++ {
		sl := first
		if i > 0 {
			sl, err = e.loadSubLoan(firstSubLoanID + i)
			if err != nil {
				return nil, err
			}
		}
		pv, err := e.subLoanPreview(sl, timestamp)
		if err != nil {
			return nil, err
		}
		switch {
		case pv.Status == SubLoanRepaid:
			lp.RepaidCount++
		case pv.Status == SubLoanRevoked:
			lp.RevokedCount++
		case pv.Overdue:
			lp.OverdueCount++
		default:
			lp.OngoingCount++
		}
		for c := range pv.Balances {
			lp.Balances[c].Tracked += pv.Balances[c].Tracked
			lp.Balances[c].Repaid += pv.Balances[c].Repaid
			lp.Balances[c].Discount += pv.Balances[c].Discount
		}
		lp.OutstandingBalance += pv.OutstandingBalance
		lp.SubLoans = append(lp.SubLoans, *pv)
	}
	return lp, nil
}

func (e *Engine) subLoanPreview(sl *SubLoan, timestamp uint64) (*SubLoanPreview, error) {
	target := timestamp
	switch timestamp {
	case PreviewAsTracked:
		target = sl.State.TrackedTimestamp
	case PreviewNow:
		now, err := e.currentTimestamp()
		if err != nil {
			return nil, err
		}
		target = now
	default:
		if timestamp > MaxTimestamp {
			return nil, ErrOperationTimestampExcess
		}
		if timestamp < sl.Inception.StartTimestamp {
			return nil, ErrOperationApplyingTimestampTooEarly
		}
	}

	scratch := sl.Clone()
	switch {
	case target < scratch.State.TrackedTimestamp:
		e.reconstruct(scratch, target)
	case target > scratch.State.TrackedTimestamp:
		e.project(scratch, target)
	}

	st := &scratch.State
	return &SubLoanPreview{
		SubLoanID:          scratch.ID,
		Status:             st.Status,
		Overdue:            st.Status == SubLoanOngoing && e.overdue(scratch),
		Timestamp:          target,
		Duration:           st.Duration,
		FreezeTimestamp:    st.FreezeTimestamp,
		Rates:              st.Rates,
		Balances:           st.Balances,
		OutstandingBalance: FinancialRound(st.Outstanding(), e.cfg.AccuracyUnit),
	}, nil
}

// project advances the scratch copy forward, treating pending operations due
// by target as applied. Effects that would fail at apply time are skipped,
// matching what advancement would do.
func (e *Engine) project(scratch *SubLoan, target uint64) {
	curID := scratch.Metadata.EarliestOperationID
	for curID != 0 {
		op, err := e.state.GetOperation(scratch.ID, curID)
		if err != nil || op == nil {
			break
		}
		curID = op.NextID
		if op.Status != OperationPending || op.Timestamp > target {
			continue
		}
		if scratch.State.Status != SubLoanOngoing && op.Kind != OpRevocation {
			continue
		}
		if op.Timestamp > scratch.State.TrackedTimestamp {
			e.advanceSubLoan(scratch, op.Timestamp)
		}
		_ = e.applyEffect(scratch, op)
	}
	if scratch.State.Status == SubLoanOngoing && target > scratch.State.TrackedTimestamp {
		e.advanceSubLoan(scratch, target)
	}
}

// reconstruct rebuilds the state as it stood at a past instant by replaying
// inception and every operation that had applied by then.
func (e *Engine) reconstruct(scratch *SubLoan, target uint64) {
	resetToInception(scratch)
	curID := scratch.Metadata.EarliestOperationID
	for curID != 0 {
		op, err := e.state.GetOperation(scratch.ID, curID)
		if err != nil || op == nil {
			break
		}
		curID = op.NextID
		if op.Status != OperationApplied && op.Status != OperationRevoked {
			continue
		}
		if op.Status == OperationRevoked || op.Timestamp > target {
			continue
		}
		if scratch.State.Status != SubLoanOngoing && op.Kind != OpRevocation {
			continue
		}
		if op.Timestamp > scratch.State.TrackedTimestamp {
			e.advanceSubLoan(scratch, op.Timestamp)
		}
		_ = e.applyEffect(scratch, op)
	}
	if scratch.State.Status == SubLoanOngoing && target > scratch.State.TrackedTimestamp {
		e.advanceSubLoan(scratch, target)
	}
}
