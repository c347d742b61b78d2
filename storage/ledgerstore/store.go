package ledgerstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"tranchebook/core/types"
	"tranchebook/native/lending"
	"tranchebook/observability"
	"tranchebook/storage"
)

// Key layout. Numeric id suffixes are big-endian so lexicographic iteration
// matches numeric order if the backend ever grows range scans.
var (
	prefixProgram = []byte("lending/program/")
	prefixSubLoan = []byte("lending/subloan/")
	prefixOp      = []byte("lending/op/")
	prefixAddr    = []byte("lending/addrbook/addr/")
	prefixAddrID  = []byte("lending/addrbook/id/")
	prefixEvent   = []byte("lending/event/")

	keySubLoanCounter = []byte("lending/counter/subloan")
	keyProgramIDs     = []byte("lending/program-ids")
	keyAddrCount      = []byte("lending/addrbook/count")
	keyEventCount     = []byte("lending/event/count")
)

// Store persists the lending ledger in a key-value database and implements
// lending.LedgerState. Records round-trip through JSON; packed event words
// stay strings so their wire form is preserved byte for byte.
type Store struct {
	mu sync.RWMutex
	db storage.Database
}

// New wraps a database in a ledger store.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func programKey(id uint32) []byte {
	key := make([]byte, len(prefixProgram)+4)
	copy(key, prefixProgram)
	binary.BigEndian.PutUint32(key[len(prefixProgram):], id)
	return key
}

func subLoanKey(id uint64) []byte {
	key := make([]byte, len(prefixSubLoan)+8)
	copy(key, prefixSubLoan)
	binary.BigEndian.PutUint64(key[len(prefixSubLoan):], id)
	return key
}

func operationKey(subLoanID, operationID uint64) []byte {
	key := make([]byte, len(prefixOp)+16)
	copy(key, prefixOp)
	binary.BigEndian.PutUint64(key[len(prefixOp):], subLoanID)
	binary.BigEndian.PutUint64(key[len(prefixOp)+8:], operationID)
	return key
}

func addrKey(account common.Address) []byte {
	return append(append([]byte{}, prefixAddr...), account.Bytes()...)
}

func addrIDKey(id uint32) []byte {
	key := make([]byte, len(prefixAddrID)+4)
	copy(key, prefixAddrID)
	binary.BigEndian.PutUint32(key[len(prefixAddrID):], id)
	return key
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(prefixEvent)+8)
	copy(key, prefixEvent)
	binary.BigEndian.PutUint64(key[len(prefixEvent):], seq)
	return key
}

func (s *Store) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("ledgerstore: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, in interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ledgerstore: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

func (s *Store) getCounter(key []byte) (uint64, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("ledgerstore: counter %q has %d bytes", key, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Store) putCounter(key []byte, value uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, value)
	return s.db.Put(key, raw)
}

// GetProgram loads a program record; a missing id yields (nil, nil).
func (s *Store) GetProgram(id uint32) (*lending.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p lending.Program
	ok, err := s.getJSON(programKey(id), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PutProgram(p *lending.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint32
	if _, err := s.getJSON(keyProgramIDs, &ids); err != nil {
		return err
	}
	known := false
	for _, id := range ids {
		if id == p.ID {
			known = true
			break
		}
	}
	if !known {
		if err := s.putJSON(keyProgramIDs, append(ids, p.ID)); err != nil {
			return err
		}
	}
	return s.putJSON(programKey(p.ID), p)
}

// ProgramIDs lists every program id ever stored, in insertion order. The
// daemon uses it to rebind program collaborators after a restart.
func (s *Store) ProgramIDs() ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint32
	if _, err := s.getJSON(keyProgramIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetSubLoan loads a sub-loan record; a missing id yields (nil, nil).
func (s *Store) GetSubLoan(id uint64) (*lending.SubLoan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sl lending.SubLoan
	ok, err := s.getJSON(subLoanKey(id), &sl)
	if err != nil || !ok {
		return nil, err
	}
	return &sl, nil
}

func (s *Store) PutSubLoan(sl *lending.SubLoan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(subLoanKey(sl.ID), sl)
}

// GetOperation loads one operation record; a missing id yields (nil, nil).
func (s *Store) GetOperation(subLoanID, operationID uint64) (*lending.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var op lending.Operation
	ok, err := s.getJSON(operationKey(subLoanID, operationID), &op)
	if err != nil || !ok {
		return nil, err
	}
	return &op, nil
}

func (s *Store) PutOperation(op *lending.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putJSON(operationKey(op.SubLoanID, op.ID), op)
}

// SubLoanIDCounter reports the next auto-assignable sub-loan id, zero when
// the counter has never been seeded.
func (s *Store) SubLoanIDCounter() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCounter(keySubLoanCounter)
}

func (s *Store) SetSubLoanIDCounter(next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCounter(keySubLoanCounter, next)
}

// AccountID resolves the address-book id of an account.
func (s *Store) AccountID(account common.Address) (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(addrKey(account))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("ledgerstore: account id has %d bytes", len(raw))
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// AccountCount reports how many accounts the address book holds.
func (s *Store) AccountCount() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, err := s.getCounter(keyAddrCount)
	return uint32(count), err
}

// AddAccount assigns the next sequential 1-based id to the account. Adding a
// known account returns its existing id.
func (s *Store) AddAccount(account common.Address) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get(addrKey(account))
	if err == nil && len(raw) == 4 {
		return binary.BigEndian.Uint32(raw), nil
	}
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return 0, err
	}
	count, err := s.getCounter(keyAddrCount)
	if err != nil {
		return 0, err
	}
	id := uint32(count) + 1
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, id)
	if err := s.db.Put(addrKey(account), buf); err != nil {
		return 0, err
	}
	if err := s.db.Put(addrIDKey(id), account.Bytes()); err != nil {
		return 0, err
	}
	if err := s.putCounter(keyAddrCount, uint64(id)); err != nil {
		return 0, err
	}
	return id, nil
}

// AccountByID resolves an address-book id back to its account address.
func (s *Store) AccountByID(id uint32) (common.Address, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(addrIDKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(raw), true, nil
}

// AppendEvent journals an event under the next sequence number. Journal
// failures are swallowed: events are observability output, not ledger state.
func (s *Store) AppendEvent(evt *types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.getCounter(keyEventCount)
	if err != nil {
		return
	}
	if err := s.putJSON(eventKey(seq+1), evt); err != nil {
		return
	}
	if err := s.putCounter(keyEventCount, seq+1); err != nil {
		return
	}
	observability.Events().RecordJournaled(evt.Type)
}

// EventCount reports how many events have been journaled.
func (s *Store) EventCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCounter(keyEventCount)
}

// Events returns up to limit journaled events starting at the 1-based from
// sequence.
func (s *Store) Events(from uint64, limit int) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, err := s.getCounter(keyEventCount)
	if err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}
	var out []*types.Event
	for seq := from; seq <= count && (limit <= 0 || len(out) < limit); seq++ {
		var evt types.Event
		ok, err := s.getJSON(eventKey(seq), &evt)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &evt)
		}
	}
	return out, nil
}
