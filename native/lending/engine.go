package lending

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tranchebook/core/types"
)

// LedgerState describes the persistence surface the engine needs from the
// surrounding node. Implementations return detached copies; the engine
// mutates them freely and persists through the Put methods once a call has
// fully validated.
type LedgerState interface {
	GetProgram(id uint32) (*Program, error)
	PutProgram(p *Program) error

	GetSubLoan(id uint64) (*SubLoan, error)
	PutSubLoan(sl *SubLoan) error

	GetOperation(subLoanID, operationID uint64) (*Operation, error)
	PutOperation(op *Operation) error

	// SubLoanIDCounter reports the next auto-assignable sub-loan id;
	// SetSubLoanIDCounter advances it after a batch consumed ids.
	SubLoanIDCounter() (uint64, error)
	SetSubLoanIDCounter(next uint64) error

	// The address book compresses counterparty addresses into small integer
	// ids. AddAccount assigns sequential 1-based ids in insertion order and
	// is idempotent for known addresses.
	AccountID(account common.Address) (uint32, bool, error)
	AccountCount() (uint32, error)
	AddAccount(account common.Address) (uint32, error)

	AppendEvent(evt *types.Event)
}

// Engine orchestrates every state transition of the sub-loan ledger. All
// exported methods serialize on an internal lock: the ledger is the sole
// writer and each call is an atomic unit.
type Engine struct {
	mu    sync.Mutex
	state LedgerState
	cfg   Config

	blockTimestamp uint64

	creditLines    map[common.Address]CreditLine
	liquidityPools map[common.Address]LiquidityPool
	token          Token
	addonTreasury  common.Address
}

// NewEngine constructs a ledger engine with the supplied module
// configuration.
func NewEngine(cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		cfg:            cfg,
		creditLines:    make(map[common.Address]CreditLine),
		liquidityPools: make(map[common.Address]LiquidityPool),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state LedgerState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetBlockTimestamp records the transaction instant used as "now" by
// subsequent calls.
func (e *Engine) SetBlockTimestamp(timestamp uint64) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blockTimestamp = timestamp
}

// SetToken wires the fungible-token collaborator funds are routed through.
func (e *Engine) SetToken(token Token) {
	if e == nil {
		return
	}
	e.token = token
}

// SetAddonTreasury configures the treasury receiving addon/origination
// amounts at loan taking.
func (e *Engine) SetAddonTreasury(addr common.Address) {
	if e == nil {
		return
	}
	e.addonTreasury = addr
}

// RegisterCreditLine binds a credit-line implementation to its address so
// programs referencing the address can notify it.
func (e *Engine) RegisterCreditLine(addr common.Address, cl CreditLine) {
	if e == nil || cl == nil {
		return
	}
	e.creditLines[addr] = cl
}

// RegisterLiquidityPool binds a liquidity-pool implementation to its address.
func (e *Engine) RegisterLiquidityPool(addr common.Address, pool LiquidityPool) {
	if e == nil || pool == nil {
		return
	}
	e.liquidityPools[addr] = pool
}

// Config returns the module configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// OperationRequest is an externally submitted mutation request against a
// sub-loan. Timestamp 0 means "apply at the current block instant".
type OperationRequest struct {
	SubLoanID uint64
	Kind      OperationKind
	Timestamp uint64
	Value     uint64
	Account   common.Address
}

// SubmitOperation validates and records an operation. Operations effective at
// or before the current instant apply immediately, catching up any earlier
// pending operations first; operations effective in the future are linked
// into the chain and left pending.
func (e *Engine) SubmitOperation(req OperationRequest) (*Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	now, err := e.currentTimestamp()
	if err != nil {
		return nil, err
	}
	sl, err := e.loadSubLoan(req.SubLoanID)
	if err != nil {
		return nil, err
	}
	if sl.State.Status != SubLoanOngoing {
		return nil, ErrSubLoanNotOngoing
	}

	ts := req.Timestamp
	if ts == 0 {
		ts = now
	}
	if ts > MaxTimestamp {
		return nil, ErrOperationTimestampExcess
	}
	if ts < sl.Inception.StartTimestamp {
		return nil, ErrOperationApplyingTimestampTooEarly
	}
	if err := validateRequest(req.Kind, req.Value, req.Account, ts > now, e.cfg.AccuracyUnit); err != nil {
		return nil, err
	}

	op := &Operation{
		SubLoanID: sl.ID,
		ID:        sl.Metadata.OperationCount + 1,
		Kind:      req.Kind,
		Status:    OperationPending,
		Timestamp: ts,
		Value:     req.Value,
		Account:   req.Account,
	}

	tx := e.beginTx(sl)
	accountID, err := tx.accountID(op.Account)
	if err != nil {
		return nil, err
	}
	if err := tx.linkOperation(op); err != nil {
		return nil, err
	}
	sl.Metadata.OperationCount++
	tx.mutated = true

	// Submitting behind an already-applied effect would break the
	// non-decreasing (timestamp, id) application order, so rebuild the whole
	// chain from inception in that case.
	needsReplay := false
	if ts <= now {
		if ts < sl.State.TrackedTimestamp {
			needsReplay = true
		} else if recent := sl.Metadata.RecentOperationID; recent != 0 {
			r, err := tx.getOp(recent)
			if err != nil {
				return nil, err
			}
			if op.before(r) {
				needsReplay = true
			}
		}
	}
	if needsReplay {
		err = tx.replayChain(now, 0, op.ID)
	} else {
		err = tx.applyChain(now, op.ID)
	}
	if err != nil {
		return nil, err
	}

	if op.Status == OperationPending {
		tx.events = append(tx.events, newOperationEvent(EventTypeOperationPended, op, accountID))
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return op.Clone(), nil
}

// VoidOperation terminates an operation: applied operations are revoked (the
// sub-loan is rebuilt from inception without the voided effect, and a voided
// repayment settles with the supplied counterparty), pending and skipped
// operations are dismissed.
func (e *Engine) VoidOperation(subLoanID, operationID uint64, counterparty common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	now, err := e.currentTimestamp()
	if err != nil {
		return err
	}
	sl, err := e.loadSubLoan(subLoanID)
	if err != nil {
		return err
	}
	if operationID == 0 || operationID > sl.Metadata.OperationCount {
		return ErrOperationNonexistent
	}

	tx := e.beginTx(sl)
	op, err := tx.getOp(operationID)
	if err != nil {
		return err
	}
	accountID, err := tx.accountID(op.Account)
	if err != nil {
		return err
	}

	switch op.Status {
	case OperationRevoked:
		return ErrOperationRevokedAlready
	case OperationDismissed:
		return ErrOperationDismissedAlready
	case OperationApplied:
		op.Status = OperationRevoked
		tx.dirty[op.ID] = true
		if err := tx.replayChain(now, op.ID, 0); err != nil {
			return err
		}
		if op.Kind == OpRepayment && counterparty != (common.Address{}) {
			tx.queueRepaymentReversal(op, counterparty)
		}
		if op.Kind == OpRevocation {
			tx.queueLoanReopened()
		}
		tx.events = append(tx.events, newOperationRevokedEvent(op, accountID, counterparty))
	default: // pending or skipped
		op.Status = OperationDismissed
		tx.dirty[op.ID] = true
		tx.mutated = true
		if err := tx.refreshCursors(); err != nil {
			return err
		}
		tx.events = append(tx.events, newOperationEvent(EventTypeOperationDismissed, op, accountID))
	}
	return tx.commit()
}

// AdvanceSubLoan catches the sub-loan up to the current instant: due pending
// operations apply in chain order and tracked balances accrue to now. The
// call is an idempotent no-op when nothing is due.
func (e *Engine) AdvanceSubLoan(subLoanID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	now, err := e.currentTimestamp()
	if err != nil {
		return err
	}
	sl, err := e.loadSubLoan(subLoanID)
	if err != nil {
		return err
	}
	tx := e.beginTx(sl)
	if err := tx.applyChain(now, 0); err != nil {
		return err
	}
	if sl.State.Status == SubLoanOngoing && now > sl.State.TrackedTimestamp {
		e.advanceSubLoan(sl, now)
		tx.mutated = true
	}
	if !tx.mutated {
		return nil
	}
	return tx.commit()
}

// GetSubLoan returns a detached copy of the sub-loan record.
func (e *Engine) GetSubLoan(subLoanID uint64) (*SubLoan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadSubLoan(subLoanID)
}

// GetOperation returns a detached copy of one recorded operation.
func (e *Engine) GetOperation(subLoanID, operationID uint64) (*Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	op, err := e.state.GetOperation(subLoanID, operationID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrOperationNonexistent
	}
	return op, nil
}

// ListOperations returns the operation chain of a sub-loan in application
// order.
func (e *Engine) ListOperations(subLoanID uint64) ([]*Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	sl, err := e.loadSubLoan(subLoanID)
	if err != nil {
		return nil, err
	}
	var ops []*Operation
	curID := sl.Metadata.EarliestOperationID
	for curID != 0 {
		op, err := e.state.GetOperation(sl.ID, curID)
		if err != nil {
			return nil, err
		}
		if op == nil {
			return nil, ErrOperationNonexistent
		}
		ops = append(ops, op)
		curID = op.NextID
	}
	return ops, nil
}

func (e *Engine) currentTimestamp() (uint64, error) {
	if e.blockTimestamp == 0 {
		return 0, ErrBlockTimestampUnset
	}
	if e.blockTimestamp > MaxTimestamp {
		return 0, ErrBlockTimestampExcess
	}
	return e.blockTimestamp, nil
}

func (e *Engine) loadSubLoan(id uint64) (*SubLoan, error) {
	sl, err := e.state.GetSubLoan(id)
	if err != nil {
		return nil, err
	}
	if sl == nil || sl.State.Status == SubLoanNonexistent {
		return nil, ErrSubLoanNonexistent
	}
	return sl, nil
}

func (e *Engine) collaborators(programID uint32) (CreditLine, LiquidityPool, common.Address, error) {
	p, err := e.state.GetProgram(programID)
	if err != nil {
		return nil, nil, common.Address{}, err
	}
	if p == nil || p.Status == ProgramNonexistent {
		return nil, nil, common.Address{}, ErrProgramNonexistent
	}
	cl := e.creditLines[p.CreditLine]
	pool := e.liquidityPools[p.LiquidityPool]
	if cl == nil || pool == nil || e.token == nil {
		return nil, nil, common.Address{}, ErrCollaboratorNotRegistered
	}
	return cl, pool, p.LiquidityPool, nil
}

// ledgerTx buffers the mutations of one external call so persisted state and
// events change only after every validation and collaborator hook succeeded.
type ledgerTx struct {
	e  *Engine
	sl *SubLoan

	ops   map[uint64]*Operation
	dirty map[uint64]bool

	events  []*types.Event
	effects []func() error

	staged       []common.Address
	stagedIDs    map[common.Address]uint32
	baseAccounts uint32
	countLoaded  bool

	mutated bool
}

func (e *Engine) beginTx(sl *SubLoan) *ledgerTx {
	return &ledgerTx{
		e:         e,
		sl:        sl,
		ops:       make(map[uint64]*Operation),
		dirty:     make(map[uint64]bool),
		stagedIDs: make(map[common.Address]uint32),
	}
}

func (tx *ledgerTx) getOp(id uint64) (*Operation, error) {
	if op, ok := tx.ops[id]; ok {
		return op, nil
	}
	op, err := tx.e.state.GetOperation(tx.sl.ID, id)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrOperationNonexistent
	}
	tx.ops[id] = op
	return op, nil
}

// accountID resolves the address-book id of an account, staging an addition
// for unknown non-zero addresses. Predicted ids hold because additions commit
// in staging order under the single-writer lock.
func (tx *ledgerTx) accountID(account common.Address) (uint32, error) {
	if account == (common.Address{}) {
		return 0, nil
	}
	if id, ok := tx.stagedIDs[account]; ok {
		return id, nil
	}
	id, ok, err := tx.e.state.AccountID(account)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	if !tx.countLoaded {
		count, err := tx.e.state.AccountCount()
		if err != nil {
			return 0, err
		}
		tx.baseAccounts = count
		tx.countLoaded = true
	}
	predicted := tx.baseAccounts + uint32(len(tx.staged)) + 1
	tx.staged = append(tx.staged, account)
	tx.stagedIDs[account] = predicted
	tx.events = append(tx.events, newAddressBookEvent(account, predicted))
	return predicted, nil
}

// linkOperation inserts op into the per-sub-loan chain keeping the
// (timestamp, id) ordering intact.
func (tx *ledgerTx) linkOperation(op *Operation) error {
	md := &tx.sl.Metadata
	tx.ops[op.ID] = op
	tx.dirty[op.ID] = true

	if md.EarliestOperationID == 0 {
		md.EarliestOperationID = op.ID
		md.LatestOperationID = op.ID
		return nil
	}

	var prev *Operation
	curID := md.EarliestOperationID
	for curID != 0 {
		cur, err := tx.getOp(curID)
		if err != nil {
			return err
		}
		if op.before(cur) {
			op.NextID = cur.ID
			op.PrevID = cur.PrevID
			cur.PrevID = op.ID
			tx.dirty[cur.ID] = true
			if op.PrevID == 0 {
				md.EarliestOperationID = op.ID
			} else {
				p, err := tx.getOp(op.PrevID)
				if err != nil {
					return err
				}
				p.NextID = op.ID
				tx.dirty[p.ID] = true
			}
			return nil
		}
		prev = cur
		curID = cur.NextID
	}

	op.PrevID = prev.ID
	prev.NextID = op.ID
	tx.dirty[prev.ID] = true
	md.LatestOperationID = op.ID
	return nil
}

// applyChain walks the chain in order applying every pending operation due by
// now. A failure of the operation identified by strictID aborts the call;
// failures of previously scheduled operations mark them Skipped and the walk
// continues.
func (tx *ledgerTx) applyChain(now uint64, strictID uint64) error {
	curID := tx.sl.Metadata.EarliestOperationID
	for curID != 0 {
		op, err := tx.getOp(curID)
		if err != nil {
			return err
		}
		curID = op.NextID
		if op.Status != OperationPending || op.Timestamp > now {
			continue
		}
		if err := tx.applyOperation(op); err != nil {
			if op.ID == strictID {
				return err
			}
			op.Status = OperationSkipped
			tx.dirty[op.ID] = true
			tx.mutated = true
		}
	}
	return tx.refreshCursors()
}

// replayChain rebuilds the sub-loan state from inception, re-deriving the
// pure effect of every surviving operation in chain order and applying any
// pending operation now due. The voided operation, if any, is excluded.
func (tx *ledgerTx) replayChain(now, voidedID, strictID uint64) error {
	sl := tx.sl
	prevTracked := sl.State.TrackedTimestamp
	resetToInception(sl)
	tx.mutated = true

	curID := sl.Metadata.EarliestOperationID
	for curID != 0 {
		op, err := tx.getOp(curID)
		if err != nil {
			return err
		}
		curID = op.NextID
		if op.ID == voidedID {
			continue
		}
		switch op.Status {
		case OperationApplied:
			// Side effects already happened on first application; only the
			// arithmetic effect is re-derived here.
			if sl.State.Status != SubLoanOngoing && op.Kind != OpRevocation {
				tx.demoteApplied(op)
				continue
			}
			if op.Timestamp > sl.State.TrackedTimestamp {
				tx.e.advanceSubLoan(sl, op.Timestamp)
			}
			if err := tx.e.applyEffect(sl, op); err != nil {
				tx.demoteApplied(op)
			}
		case OperationPending:
			if op.Timestamp > now {
				continue
			}
			if err := tx.applyOperation(op); err != nil {
				if op.ID == strictID {
					return err
				}
				op.Status = OperationSkipped
				tx.dirty[op.ID] = true
			}
		}
	}
	// The snapshot instant never regresses: catch back up to where the
	// sub-loan was tracked before the rebuild.
	if sl.State.Status == SubLoanOngoing && prevTracked > sl.State.TrackedTimestamp {
		tx.e.advanceSubLoan(sl, prevTracked)
	}
	return tx.refreshCursors()
}

// demoteApplied marks a formerly applied operation Skipped during a replay.
// A repayment already settled tokens on first application, so the pool hands
// the payment back to the recorded account.
func (tx *ledgerTx) demoteApplied(op *Operation) {
	op.Status = OperationSkipped
	tx.dirty[op.ID] = true
	if op.Kind == OpRepayment && op.Account != (common.Address{}) {
		tx.queueRepaymentReversal(op, op.Account)
	}
}

// applyOperation performs the first application of a pending operation:
// advance to its instant, apply the effect, flip the status, emit the event
// and queue its token settlement.
func (tx *ledgerTx) applyOperation(op *Operation) error {
	sl := tx.sl
	if sl.State.Status != SubLoanOngoing && op.Kind != OpRevocation {
		return ErrSubLoanNotOngoing
	}
	if op.Timestamp > sl.State.TrackedTimestamp {
		tx.e.advanceSubLoan(sl, op.Timestamp)
	}
	if err := tx.e.applyEffect(sl, op); err != nil {
		return err
	}
	op.Status = OperationApplied
	tx.dirty[op.ID] = true
	tx.mutated = true

	accountID, err := tx.accountID(op.Account)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, newOperationEvent(EventTypeOperationApplied, op, accountID))
	if op.Kind == OpRepayment {
		tx.queueRepaymentSettlement(op)
	}
	return nil
}

func (tx *ledgerTx) queueRepaymentSettlement(op *Operation) {
	e := tx.e
	programID := tx.sl.Inception.ProgramID
	loanID := tx.sl.ID - uint64(tx.sl.Inception.Index)
	value := op.Value
	account := op.Account
	tx.effects = append(tx.effects, func() error {
		cl, pool, poolAddr, err := e.collaborators(programID)
		if err != nil {
			return err
		}
		if err := pool.OnBeforeLiquidityIn(value); err != nil {
			return err
		}
		if err := e.token.Transfer(account, poolAddr, value); err != nil {
			return err
		}
		return cl.OnAfterLoanPayment(loanID, value)
	})
}

func (tx *ledgerTx) queueRepaymentReversal(op *Operation, counterparty common.Address) {
	e := tx.e
	programID := tx.sl.Inception.ProgramID
	value := op.Value
	tx.effects = append(tx.effects, func() error {
		_, pool, poolAddr, err := e.collaborators(programID)
		if err != nil {
			return err
		}
		if err := pool.OnBeforeLiquidityOut(value); err != nil {
			return err
		}
		return e.token.Transfer(poolAddr, counterparty, value)
	})
}

func (tx *ledgerTx) queueLoanReopened() {
	e := tx.e
	programID := tx.sl.Inception.ProgramID
	loanID := tx.sl.ID - uint64(tx.sl.Inception.Index)
	tx.effects = append(tx.effects, func() error {
		cl, _, _, err := e.collaborators(programID)
		if err != nil {
			return err
		}
		return cl.OnBeforeLoanReopened(loanID)
	})
}

// refreshCursors re-derives the applied/pending chain cursors after any walk
// that changed operation statuses.
func (tx *ledgerTx) refreshCursors() error {
	md := &tx.sl.Metadata
	md.RecentOperationID = 0
	md.PendingTimestamp = 0
	curID := md.EarliestOperationID
	for curID != 0 {
		op, err := tx.getOp(curID)
		if err != nil {
			return err
		}
		switch op.Status {
		case OperationApplied:
			md.RecentOperationID = op.ID
		case OperationPending:
			if md.PendingTimestamp == 0 {
				md.PendingTimestamp = op.Timestamp
			}
		}
		curID = op.NextID
	}
	return nil
}

// commit runs queued collaborator side effects, persists the address book
// additions, operations and sub-loan, then flushes events. Any failure
// beforehand leaves persisted state untouched.
func (tx *ledgerTx) commit() error {
	for _, fn := range tx.effects {
		if err := fn(); err != nil {
			return err
		}
	}
	for _, addr := range tx.staged {
		if _, err := tx.e.state.AddAccount(addr); err != nil {
			return err
		}
	}
	if tx.mutated {
		tx.sl.Metadata.UpdateIndex++
		tx.events = append(tx.events, newSubLoanUpdatedEvent(tx.sl))
	}
	for id, op := range tx.ops {
		if !tx.dirty[id] {
			continue
		}
		if err := tx.e.state.PutOperation(op); err != nil {
			return err
		}
	}
	if err := tx.e.state.PutSubLoan(tx.sl); err != nil {
		return err
	}
	for _, evt := range tx.events {
		tx.e.state.AppendEvent(evt)
	}
	return nil
}
