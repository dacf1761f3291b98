package lb

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

// ShareChange mints (Delta added) or burns (Burn set) shares of one bin.
type ShareChange struct {
	Owner common.Address
	ID    uint32
	Delta *uint256.Int
	Burn  bool
}

// ShareLedger records who owns the shares of each bin. The pair stages its
// changes during a call and hands them to Apply on commit; Apply must apply
// the whole batch or nothing.
type ShareLedger interface {
	BalanceOf(owner common.Address, id uint32) (*uint256.Int, error)
	Apply(changes []ShareChange) error
}

type shareKey struct {
	owner common.Address
	id    uint32
}

// MemLedger is an in-memory ShareLedger.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[shareKey]uint256.Int
}

// NewMemLedger returns an empty ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[shareKey]uint256.Int)}
}

func (l *MemLedger) BalanceOf(owner common.Address, id uint32) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance := l.balances[shareKey{owner, id}]
	return new(uint256.Int).Set(&balance), nil
}

func (l *MemLedger) Apply(changes []ShareChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make(map[shareKey]uint256.Int, len(changes))
	for _, change := range changes {
		key := shareKey{change.Owner, change.ID}
		balance, ok := next[key]
		if !ok {
			balance = l.balances[key]
		}
		updated, err := ApplyShareChange(&balance, change)
		if err != nil {
			return err
		}
		next[key] = *updated
	}
	for key, balance := range next {
		if balance.IsZero() {
			delete(l.balances, key)
			continue
		}
		l.balances[key] = balance
	}
	return nil
}

// ApplyShareChange returns balance after change, rejecting burns above it.
func ApplyShareChange(balance *uint256.Int, change ShareChange) (*uint256.Int, error) {
	if change.Burn {
		if change.Delta.Gt(balance) {
			return nil, fmt.Errorf("%w: owner %s burns %s shares of bin %d but holds %s", lberr.ErrValidation, change.Owner.Hex(), change.Delta.Dec(), change.ID, balance.Dec())
		}
		return new(uint256.Int).Sub(balance, change.Delta), nil
	}
	return fixed.Add(balance, change.Delta)
}

// pendingBalance is the owner's balance after the changes already staged in tx.
func (p *Pair) pendingBalance(tx *txn, owner common.Address, id uint32) (*uint256.Int, error) {
	balance, err := p.ledger.BalanceOf(owner, id)
	if err != nil {
		return nil, fmt.Errorf("share balance of %s in bin %d: %w", owner.Hex(), id, err)
	}
	for _, change := range tx.changes {
		if change.Owner != owner || change.ID != id {
			continue
		}
		if balance, err = ApplyShareChange(balance, change); err != nil {
			return nil, err
		}
	}
	return balance, nil
}
