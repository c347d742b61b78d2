package lending

import "github.com/ethereum/go-ethereum/common"

// LoanRequest identifies the borrower and program of a new loan batch.
// StartTimestamp 0 means "start at the current block instant"; value 1 is
// reserved as a preview sentinel and rejected.
type LoanRequest struct {
	ProgramID      uint32
	Borrower       common.Address
	StartTimestamp uint64
}

// SubLoanRequest describes one tranche of a loan batch.
type SubLoanRequest struct {
	BorrowedAmount uint64
	AddonAmount    uint64
	Duration       uint32
	Rates          Rates
}

// OpenProgram records a new credit program bound to a credit line and a
// liquidity pool address.
func (e *Engine) OpenProgram(id uint32, creditLine, liquidityPool common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if creditLine == (common.Address{}) || liquidityPool == (common.Address{}) {
		return ErrAddressZero
	}
	existing, err := e.state.GetProgram(id)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != ProgramNonexistent {
		return ErrProgramExists
	}
	p := &Program{ID: id, Status: ProgramActive, CreditLine: creditLine, LiquidityPool: liquidityPool}
	if err := e.state.PutProgram(p); err != nil {
		return err
	}
	e.state.AppendEvent(newProgramOpenedEvent(p))
	return nil
}

// CloseProgram marks a program closed. Existing loans keep running; only new
// loan taking is barred.
func (e *Engine) CloseProgram(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	p, err := e.state.GetProgram(id)
	if err != nil {
		return err
	}
	if p == nil || p.Status == ProgramNonexistent {
		return ErrProgramNonexistent
	}
	if p.Status == ProgramClosed {
		return ErrProgramClosed
	}
	p.Status = ProgramClosed
	if err := e.state.PutProgram(p); err != nil {
		return err
	}
	e.state.AppendEvent(newProgramClosedEvent(p))
	return nil
}

// TakeLoan validates a loan batch, disburses funds and persists one sub-loan
// per tranche. It returns the id of the first sub-loan in the batch; sibling
// ids follow sequentially.
func (e *Engine) TakeLoan(req LoanRequest, subs []SubLoanRequest) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	now, err := e.currentTimestamp()
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, ErrSubLoanCountZero
	}
	if len(subs) > e.cfg.SubLoanCountMax {
		return 0, ErrSubLoanCountExcess
	}
	if req.Borrower == (common.Address{}) {
		return 0, ErrBorrowerAddressZero
	}
	start := req.StartTimestamp
	switch {
	case start == 0:
		start = now
	case start == 1 || start > now:
		return 0, ErrStartTimestampInvalid
	}

	var totalBorrowed, totalAddon uint64
	var prevDuration uint32
	for i, sub := range subs {
		if !sub.Rates.Valid() {
			return 0, ErrRateExcess
		}
		if uint64(sub.Duration) > MaxDuration {
			return 0, ErrDurationExcess
		}
		if i > 0 && sub.Duration < prevDuration {
			return 0, ErrDurationsUnsorted
		}
		prevDuration = sub.Duration
		totalBorrowed += sub.BorrowedAmount
		totalAddon += sub.AddonAmount
	}
	if totalBorrowed == 0 {
		return 0, ErrLoanAmountZero
	}

	p, err := e.state.GetProgram(req.ProgramID)
	if err != nil {
		return 0, err
	}
	if p == nil || p.Status == ProgramNonexistent {
		return 0, ErrProgramNonexistent
	}
	if p.Status != ProgramActive {
		return 0, ErrProgramNotActive
	}
	cl, pool, poolAddr, err := e.collaborators(req.ProgramID)
	if err != nil {
		return 0, err
	}

	counter, err := e.state.SubLoanIDCounter()
	if err != nil {
		return 0, err
	}
	if counter == 0 {
		counter = e.cfg.SubLoanAutoIDStart
	}
	firstID := counter

	if err := cl.OnBeforeLoanTaken(firstID); err != nil {
		return 0, err
	}
	if err := pool.OnBeforeLiquidityOut(totalBorrowed + totalAddon); err != nil {
		return 0, err
	}
	if err := e.token.Transfer(poolAddr, req.Borrower, totalBorrowed); err != nil {
		return 0, err
	}
	if totalAddon > 0 {
		if err := e.token.Transfer(poolAddr, e.addonTreasury, totalAddon); err != nil {
			return 0, err
		}
	}

	if err := e.state.SetSubLoanIDCounter(firstID + uint64(len(subs))); err != nil {
		return 0, err
	}
	for i, sub := range subs {
		sl := &SubLoan{
			ID: firstID + uint64(i),
			Inception: SubLoanInception{
				ProgramID:      req.ProgramID,
				Borrower:       req.Borrower,
				StartTimestamp: start,
				Index:          uint16(i),
				Count:          uint16(len(subs)),
				BorrowedAmount: sub.BorrowedAmount,
				AddonAmount:    sub.AddonAmount,
				Duration:       sub.Duration,
				Rates:          sub.Rates,
			},
		}
		resetToInception(sl)
		if err := e.state.PutSubLoan(sl); err != nil {
			return 0, err
		}
		e.state.AppendEvent(newSubLoanTakenEvent(sl))
		e.state.AppendEvent(newSubLoanUpdatedEvent(sl))
	}
	e.state.AppendEvent(newLoanTakenEvent(firstID, req.Borrower, p, totalBorrowed, totalAddon, len(subs)))
	return firstID, nil
}

// RevokeLoan revokes the entire sibling group of the given sub-loan,
// returning the disbursed principal and addon to the liquidity pool.
func (e *Engine) RevokeLoan(anySubLoanID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	now, err := e.currentTimestamp()
	if err != nil {
		return err
	}
	seed, err := e.loadSubLoan(anySubLoanID)
	if err != nil {
		return err
	}
	firstID := seed.ID - uint64(seed.Inception.Index)
	count := uint64(seed.Inception.Count)

	group := make([]*SubLoan, 0, count)
	for i := uint64(0); i < count; i++ {
		sl, err := e.loadSubLoan(firstID + i)
		if err != nil {
			return err
		}
		if sl.State.Status == SubLoanRevoked {
			return ErrLoanAlreadyRevoked
		}
		group = append(group, sl)
	}

	var revokedBorrowed, revokedAddon uint64
	txs := make([]*ledgerTx, 0, len(group))
	for _, sl := range group {
		tx := e.beginTx(sl)
		op := &Operation{
			SubLoanID: sl.ID,
			ID:        sl.Metadata.OperationCount + 1,
			Kind:      OpRevocation,
			Status:    OperationPending,
			Timestamp: now,
		}
		if err := tx.linkOperation(op); err != nil {
			return err
		}
		sl.Metadata.OperationCount++
		if err := tx.applyChain(now, op.ID); err != nil {
			return err
		}
		revokedBorrowed += sl.Inception.BorrowedAmount
		revokedAddon += sl.Inception.AddonAmount
		txs = append(txs, tx)
	}

	cl, pool, poolAddr, err := e.collaborators(seed.Inception.ProgramID)
	if err != nil {
		return err
	}
	loanID := firstID
	if err := cl.OnAfterLoanRevocation(loanID); err != nil {
		return err
	}
	if err := pool.OnBeforeLiquidityIn(revokedBorrowed + revokedAddon); err != nil {
		return err
	}
	if err := e.token.Transfer(seed.Inception.Borrower, poolAddr, revokedBorrowed); err != nil {
		return err
	}
	if revokedAddon > 0 {
		if err := e.token.Transfer(e.addonTreasury, poolAddr, revokedAddon); err != nil {
			return err
		}
	}

	for _, tx := range txs {
		if err := tx.commit(); err != nil {
			return err
		}
	}
	e.state.AppendEvent(newLoanRevokedEvent(firstID, len(group), revokedBorrowed, revokedAddon))
	return nil
}
