package lending

import "testing"

func fineGrainedConfig() Config {
	cfg := DefaultConfig()
	cfg.AccuracyUnit = 100
	return cfg
}

// overdueSubLoan builds a sub-loan advanced one day past its due date with
// exactly known component balances: principal 1100, late fee 110, charge
// expenses 220, moratory interest 11.
func overdueSubLoan(t *testing.T) (*Engine, *mockLedgerState, *MemoryToken, uint64) {
	t.Helper()
	engine, state, token := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000,
		AddonAmount:    100,
		Duration:       30,
		Rates: Rates{
			Moratory:       10_000_000,
			LateFee:        100_000_000,
			ChargeExpenses: 200_000_000,
		},
	})
	token.Mint(borrowerAddr, 1_000_000)
	engine.SetBlockTimestamp(dayTS(31))
	if err := engine.AdvanceSubLoan(id); err != nil {
		t.Fatalf("advance past due: %v", err)
	}
	return engine, state, token, id
}

func TestRepaymentSettlesChargesBeforePrincipal(t *testing.T) {
	engine, state, _, id := overdueSubLoan(t)

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 300, Account: borrowerAddr,
	}); err != nil {
		t.Fatalf("repayment: %v", err)
	}

	st := state.subLoans[id].State
	charge := st.Balances[ComponentChargeExpenses]
	if charge.Tracked != 0 || charge.Repaid != 220 {
		t.Fatalf("expected charge expenses settled first: %+v", charge)
	}
	late := st.Balances[ComponentLateFee]
	if late.Tracked != 30 || late.Repaid != 80 {
		t.Fatalf("expected late fee partially settled: %+v", late)
	}
	if got := st.Balances[ComponentPrincipal].Tracked; got != 1100 {
		t.Fatalf("principal touched before charges cleared: %d", got)
	}
}

func TestRepaymentOfRoundedOutstandingClearsSubLoan(t *testing.T) {
	engine, state, _, id := overdueSubLoan(t)

	// Raw outstanding is 1441; at accuracy 100 it rounds to 1400.
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 1400, Account: borrowerAddr,
	}); err != nil {
		t.Fatalf("full repayment: %v", err)
	}

	sl := state.subLoans[id]
	if sl.State.Status != SubLoanRepaid {
		t.Fatalf("expected repaid status, got %v", sl.State.Status)
	}
	for c := range sl.State.Balances {
		if got := sl.State.Balances[c].Tracked; got != 0 {
			t.Fatalf("component %v still tracked after full repayment: %d", Component(c), got)
		}
	}
	// The payer covered 1400 of the raw 1441; the 41 residue is forgiven,
	// not credited as repaid.
	principal := sl.State.Balances[ComponentPrincipal]
	if principal.Repaid != 1059 || principal.Discount != 41 {
		t.Fatalf("expected residue forgiven on principal: %+v", principal)
	}
	var repaid uint64
	for c := range sl.State.Balances {
		repaid += sl.State.Balances[c].Repaid
	}
	if repaid != 1400 {
		t.Fatalf("expected repaid credit 1400 matching the payment, got %d", repaid)
	}
}

func TestRepaymentRoundedUpBooksExcessAgainstPrincipal(t *testing.T) {
	engine, state, token := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{
		BorrowedAmount: 1000,
		AddonAmount:    100,
		Duration:       30,
		Rates:          Rates{Primary: 46_000_000},
	})
	token.Mint(borrowerAddr, 10_000)

	// One day of interest leaves raw outstanding 1151, which rounds up to
	// 1200. Clearing therefore costs more than the raw balance.
	engine.SetBlockTimestamp(dayTS(1))
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 1200, Account: borrowerAddr,
	}); err != nil {
		t.Fatalf("full repayment: %v", err)
	}

	sl := state.subLoans[id]
	if sl.State.Status != SubLoanRepaid {
		t.Fatalf("expected repaid status, got %v", sl.State.Status)
	}
	if got := sl.State.Balances[ComponentPrimaryInterest].Repaid; got != 51 {
		t.Fatalf("expected interest repaid 51, got %d", got)
	}
	principal := sl.State.Balances[ComponentPrincipal]
	if principal.Repaid != 1149 || principal.Discount != 0 {
		t.Fatalf("expected paid excess booked against principal: %+v", principal)
	}
}

func TestRepaymentExceedingOutstandingRejected(t *testing.T) {
	engine, _, _, id := overdueSubLoan(t)

	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 1500, Account: borrowerAddr,
	})
	if err != ErrSubLoanRepaymentExcess {
		t.Fatalf("expected ErrSubLoanRepaymentExcess, got %v", err)
	}
}

func TestRepaymentValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 100,
	}); err != ErrOperationAccountZero {
		t.Fatalf("expected ErrOperationAccountZero, got %v", err)
	}
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Account: borrowerAddr,
	}); err != ErrAmountZero {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 250, Account: borrowerAddr,
	}); err != ErrAmountUnrounded {
		t.Fatalf("expected ErrAmountUnrounded, got %v", err)
	}
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpPrimaryRateSetting, Value: 1, Account: borrowerAddr,
	}); err != ErrOperationAccountNonzero {
		t.Fatalf("expected ErrOperationAccountNonzero, got %v", err)
	}
}

func TestGeneralDiscountRecordsForgiveness(t *testing.T) {
	engine, state, _, id := overdueSubLoan(t)

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpDiscount, Value: 300,
	}); err != nil {
		t.Fatalf("discount: %v", err)
	}

	st := state.subLoans[id].State
	charge := st.Balances[ComponentChargeExpenses]
	if charge.Tracked != 0 || charge.Discount != 220 {
		t.Fatalf("expected charge expenses forgiven first: %+v", charge)
	}
	late := st.Balances[ComponentLateFee]
	if late.Tracked != 30 || late.Discount != 80 {
		t.Fatalf("expected late fee partially forgiven: %+v", late)
	}
	if charge.Repaid != 0 || late.Repaid != 0 {
		t.Fatalf("discount recorded as repayment: %+v %+v", charge, late)
	}
}

func TestComponentDiscount(t *testing.T) {
	engine, state, _ := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, AddonAmount: 100, Duration: 30})

	// Component discounts need not align to the accuracy unit.
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpPrincipalDiscount, Value: 51,
	}); err != nil {
		t.Fatalf("principal discount: %v", err)
	}
	part := state.subLoans[id].State.Balances[ComponentPrincipal]
	if part.Tracked != 1049 || part.Discount != 51 {
		t.Fatalf("unexpected principal part: %+v", part)
	}

	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpPrincipalDiscount, Value: 2000,
	})
	if err != ErrSubLoanDiscountExcess {
		t.Fatalf("expected ErrSubLoanDiscountExcess, got %v", err)
	}
}

func TestComponentDiscountProhibitedInFuture(t *testing.T) {
	engine, _, _ := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpPrincipalDiscount, Value: 10, Timestamp: dayTS(1),
	})
	if err != ErrOperationKindProhibitedInFuture {
		t.Fatalf("expected ErrOperationKindProhibitedInFuture, got %v", err)
	}
}

func TestRateSettingOverwritesRate(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpMoratoryRateSetting, Value: 7_000_000,
	}); err != nil {
		t.Fatalf("rate setting: %v", err)
	}
	if got := state.subLoans[id].State.Rates.Moratory; got != 7_000_000 {
		t.Fatalf("expected moratory rate 7000000, got %d", got)
	}

	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpMoratoryRateSetting, Value: RateFactor + 1,
	})
	if err != ErrRateExcess {
		t.Fatalf("expected ErrRateExcess, got %v", err)
	}
}

func TestDurationSettingValidation(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpDurationSetting,
	}); err != ErrOperationValueInvalid {
		t.Fatalf("expected ErrOperationValueInvalid, got %v", err)
	}
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpDurationSetting, Value: 70_000,
	}); err != ErrDurationExcess {
		t.Fatalf("expected ErrDurationExcess, got %v", err)
	}
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpDurationSetting, Value: 60,
	}); err != nil {
		t.Fatalf("duration setting: %v", err)
	}
	if got := state.subLoans[id].State.Duration; got != 60 {
		t.Fatalf("expected duration 60, got %d", got)
	}
}

func TestRevocationNotSubmittable(t *testing.T) {
	engine, _, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	_, err := engine.SubmitOperation(OperationRequest{SubLoanID: id, Kind: OpRevocation})
	if err != ErrOperationKindNotSubmittable {
		t.Fatalf("expected ErrOperationKindNotSubmittable, got %v", err)
	}
	_, err = engine.SubmitOperation(OperationRequest{SubLoanID: id, Kind: OperationKind(99)})
	if err != ErrOperationKindInvalid {
		t.Fatalf("expected ErrOperationKindInvalid, got %v", err)
	}
}

func TestOperationBeforeStartRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	engine.SetBlockTimestamp(dayTS(5))
	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpFreezing, Timestamp: testStart - 1,
	})
	if err != ErrOperationApplyingTimestampTooEarly {
		t.Fatalf("expected ErrOperationApplyingTimestampTooEarly, got %v", err)
	}
}

func TestBackdatedOperationReplaysChain(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})

	engine.SetBlockTimestamp(dayTS(10))
	if err := engine.AdvanceSubLoan(id); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := state.subLoans[id].State.Balances[ComponentPrimaryInterest].Tracked; got != 0 {
		t.Fatalf("interest accrued at zero rate: %d", got)
	}

	// The rate change takes effect at day 5, behind the tracked snapshot, so
	// the whole history is rebuilt with the new rate from that instant.
	op, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id,
		Kind:      OpPrimaryRateSetting,
		Timestamp: dayTS(5),
		Value:     RateFactor,
	})
	if err != nil {
		t.Fatalf("backdated rate setting: %v", err)
	}
	if op.Status != OperationApplied {
		t.Fatalf("expected applied status, got %v", op.Status)
	}

	st := state.subLoans[id].State
	if st.TrackedTimestamp != dayTS(10) {
		t.Fatalf("tracked timestamp regressed: %d", st.TrackedTimestamp)
	}
	// Doubling from day 5 through day 10 on a principal of 1000.
	if got := st.Balances[ComponentPrimaryInterest].Tracked; got != 31_000 {
		t.Fatalf("expected rebuilt interest 31000, got %d", got)
	}
}

func TestSkippedOperationDoesNotBlockChain(t *testing.T) {
	engine, _, token := newTestEngine(t, fineGrainedConfig())
	id := takeTestLoan(t, engine, SubLoanRequest{BorrowedAmount: 1000, Duration: 30})
	token.Mint(borrowerAddr, 1_000_000)

	// Scheduled repayment larger than anything the sub-loan will owe.
	oversized, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Timestamp: dayTS(2), Value: 900_000, Account: borrowerAddr,
	})
	if err != nil {
		t.Fatalf("submit oversized repayment: %v", err)
	}
	small, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Timestamp: dayTS(3), Value: 100, Account: borrowerAddr,
	})
	if err != nil {
		t.Fatalf("submit small repayment: %v", err)
	}

	engine.SetBlockTimestamp(dayTS(4))
	if err := engine.AdvanceSubLoan(id); err != nil {
		t.Fatalf("advance: %v", err)
	}

	bigOp, _ := engine.GetOperation(id, oversized.ID)
	if bigOp.Status != OperationSkipped {
		t.Fatalf("expected oversized repayment skipped, got %v", bigOp.Status)
	}
	smallOp, _ := engine.GetOperation(id, small.ID)
	if smallOp.Status != OperationApplied {
		t.Fatalf("expected later repayment applied, got %v", smallOp.Status)
	}
}

func TestOperationsRejectedOnFinishedSubLoan(t *testing.T) {
	engine, _, _, id := overdueSubLoan(t)
	if _, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 1400, Account: borrowerAddr,
	}); err != nil {
		t.Fatalf("full repayment: %v", err)
	}

	_, err := engine.SubmitOperation(OperationRequest{
		SubLoanID: id, Kind: OpRepayment, Value: 100, Account: borrowerAddr,
	})
	if err != ErrSubLoanNotOngoing {
		t.Fatalf("expected ErrSubLoanNotOngoing, got %v", err)
	}
}
