package lending

import "testing"

func TestPreviewDoesNotMutatePersistedState(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000, Duration: 30, Rates: Rates{Primary: RateFactor},
	})
	before := *state.subLoans[id]

	engine.SetBlockTimestamp(dayTS(20))
	if _, err := engine.GetSubLoanPreview(id, dayTS(20)); err != nil {
		t.Fatalf("preview: %v", err)
	}
	after := *state.subLoans[id]
	if before != after {
		t.Fatalf("preview mutated persisted state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestPreviewProjectsAccrual(t *testing.T) {
	engine, _, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000, Duration: 30, Rates: Rates{Primary: RateFactor},
	})

	pv, err := engine.GetSubLoanPreview(id, dayTS(3))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got := pv.Balances[ComponentPrimaryInterest].Tracked; got != 7000 {
		t.Fatalf("expected projected interest 7000, got %d", got)
	}
	if pv.Overdue {
		t.Fatalf("sub-loan reported overdue before its due day")
	}

	pv, err = engine.GetSubLoanPreview(id, dayTS(31))
	if err != nil {
		t.Fatalf("overdue preview: %v", err)
	}
	if !pv.Overdue {
		t.Fatalf("sub-loan not reported overdue past its due day")
	}
}

func TestPreviewSentinels(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000, Duration: 30, Rates: Rates{Primary: RateFactor},
	})
	engine.SetBlockTimestamp(dayTS(4))

	asTracked, err := engine.GetSubLoanPreview(id, PreviewAsTracked)
	if err != nil {
		t.Fatalf("as-tracked preview: %v", err)
	}
	if asTracked.Timestamp != testStart {
		t.Fatalf("expected tracked instant %d, got %d", testStart, asTracked.Timestamp)
	}
	if asTracked.Balances != state.subLoans[id].State.Balances {
		t.Fatalf("as-tracked preview diverged from snapshot")
	}

	now, err := engine.GetSubLoanPreview(id, PreviewNow)
	if err != nil {
		t.Fatalf("now preview: %v", err)
	}
	if now.Timestamp != dayTS(4) {
		t.Fatalf("expected current instant %d, got %d", dayTS(4), now.Timestamp)
	}
	if got := now.Balances[ComponentPrimaryInterest].Tracked; got != 15_000 {
		t.Fatalf("expected four days of doubling 15000, got %d", got)
	}
}

func TestPreviewBeforeStartRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	_, err := engine.GetSubLoanPreview(id, testStart-1)
	if err != ErrOperationApplyingTimestampTooEarly {
		t.Fatalf("expected ErrOperationApplyingTimestampTooEarly, got %v", err)
	}
}

func TestPreviewProjectsPendingOperations(t *testing.T) {
	engine, state, token := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 100_000, Duration: 30})
	token.Mint(borrowerAddr, 1_000_000)

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Timestamp: dayTS(5), Value: 10_000, Account: borrowerAddr,
	}); err != nil {
		t.Fatalf("submit future repayment: %v", err)
	}

	early, err := engine.GetSubLoanPreview(id, dayTS(4))
	if err != nil {
		t.Fatalf("early preview: %v", err)
	}
	if got := early.Balances[ComponentPrincipal].Tracked; got != 100_000 {
		t.Fatalf("pending repayment applied too early: %d", got)
	}

	late, err := engine.GetSubLoanPreview(id, dayTS(6))
	if err != nil {
		t.Fatalf("late preview: %v", err)
	}
	if got := late.Balances[ComponentPrincipal].Tracked; got != 90_000 {
		t.Fatalf("pending repayment not projected: %d", got)
	}

	// Projection leaves the operation itself untouched.
	if got := state.ops[id][1].Status; got != OperationPending {
		t.Fatalf("preview changed operation status: %v", got)
	}
}

func TestPreviewReconstructsHistoricalState(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000, Duration: 30, Rates: Rates{Primary: RateFactor},
	})

	engine.SetBlockTimestamp(dayTS(10))
	if err := engine.AdvanceSubLoan(id); err != nil {
		t.Fatalf("advance: %v", err)
	}

	pv, err := engine.GetSubLoanPreview(id, dayTS(3))
	if err != nil {
		t.Fatalf("historical preview: %v", err)
	}
	if got := pv.Balances[ComponentPrimaryInterest].Tracked; got != 7000 {
		t.Fatalf("expected reconstructed interest 7000, got %d", got)
	}
	if got := state.subLoans[id].State.TrackedTimestamp; got != dayTS(10) {
		t.Fatalf("historical preview moved tracked timestamp: %d", got)
	}
}

func TestPreviewRoundsOutstandingBalance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AccuracyUnit = 100
	engine, _, _ := newTestEngine(t, cfg)
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1030, Duration: 30})

	pv, err := engine.GetSubLoanPreview(id, PreviewAsTracked)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if pv.OutstandingBalance != 1000 {
		t.Fatalf("expected rounded outstanding 1000, got %d", pv.OutstandingBalance)
	}
}

func TestLoanPreviewAggregatesSiblings(t *testing.T) {
	engine, _, _ := newTestEngine(t, DefaultConfig())
	firstID := takeTestLoan(t, engine,
		SubLoanRequest{BorrowedAmount: 600, Duration: 10},
		SubLoanRequest{BorrowedAmount: 400, Duration: 30},
	)

	lp, err := engine.GetLoanPreview(firstID, dayTS(11))
	if err != nil {
		t.Fatalf("loan preview: %v", err)
	}
	if lp.OverdueCount != 1 || lp.OngoingCount != 1 {
		t.Fatalf("unexpected status counts: %+v", lp)
	}
	if got := lp.Balances[ComponentPrincipal].Tracked; got != 1000 {
		t.Fatalf("expected aggregated principal 1000, got %d", got)
	}
	if len(lp.SubLoans) != 2 {
		t.Fatalf("expected 2 sub-loan previews, got %d", len(lp.SubLoans))
	}

	// Only the batch anchor can seed a loan preview.
	if _, err := engine.GetLoanPreview(firstID+1, dayTS(11)); err != ErrSubLoanNonexistent {
		t.Fatalf("expected ErrSubLoanNonexistent for non-anchor id, got %v", err)
	}
}
