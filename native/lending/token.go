package lending

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errTokenBalance = errors.New("lending: token balance insufficient")

// MemoryToken is an in-process Token backed by a balance map. The daemon uses
// it when the underlying token is not an external system; tests use it to
// observe transfer flows.
type MemoryToken struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
}

// NewMemoryToken returns an empty in-memory token ledger.
func NewMemoryToken() *MemoryToken {
	return &MemoryToken{balances: make(map[common.Address]uint64)}
}

// Mint credits the account with amount out of thin air.
func (t *MemoryToken) Mint(account common.Address, amount uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
}

// BalanceOf reports the current balance of the account.
func (t *MemoryToken) BalanceOf(account common.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

// Transfer moves amount between accounts, failing when the source balance is
// insufficient.
func (t *MemoryToken) Transfer(from, to common.Address, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return errTokenBalance
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
