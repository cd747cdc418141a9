package token

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vaultlabs/share-vault/src/utils"
)

// MintableERC20 is an in-memory fungible token ledger. It backs both the
// underlying asset of a vault and the vault's own shares.
type MintableERC20 struct {
	name     string
	symbol   string
	decimals uint8

	mu          sync.RWMutex
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
}

func NewMintableERC20(name string, symbol string, decimals uint8) *MintableERC20 {
	return &MintableERC20{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *MintableERC20) Name() string    { return t.name }
func (t *MintableERC20) Symbol() string  { return t.symbol }
func (t *MintableERC20) Decimals() uint8 { return t.decimals }

func (t *MintableERC20) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.totalSupply)
}

func (t *MintableERC20) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.balanceOf(owner))
}

func (t *MintableERC20) Allowance(owner common.Address, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(uint256.Int).Set(t.allowance(owner, spender))
}

func (t *MintableERC20) Approve(owner common.Address, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return utils.ErrInvalidReceiver
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, amount)
	return nil
}

func (t *MintableERC20) Transfer(from common.Address, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

// TransferFrom moves amount from `from` to `to` on behalf of spender. An
// allowance of MaxUint256 is never decreased.
func (t *MintableERC20) TransferFrom(spender common.Address, from common.Address, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkTransfer(from, to, amount); err != nil {
		return err
	}
	if err := t.checkAllowance(from, spender, amount); err != nil {
		return err
	}
	t.spendAllowance(from, spender, amount)
	return t.transfer(from, to, amount)
}

// SpendAllowance decreases the allowance of spender over owner's tokens
// without moving any.
func (t *MintableERC20) SpendAllowance(owner common.Address, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAllowance(owner, spender, amount); err != nil {
		return err
	}
	t.spendAllowance(owner, spender, amount)
	return nil
}

func (t *MintableERC20) CheckAllowance(owner common.Address, spender common.Address, amount *uint256.Int) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkAllowance(owner, spender, amount)
}

func (t *MintableERC20) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return utils.ErrInvalidReceiver
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, amount)
	if overflow {
		return utils.ErrMathOverflow
	}
	t.totalSupply = supply
	t.setBalance(to, new(uint256.Int).Add(t.balanceOf(to), amount))
	return nil
}

func (t *MintableERC20) Burn(from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", utils.ErrInsufficientBalance,
			from.Hex(), utils.AmountToString(balance), utils.AmountToString(amount))
	}
	t.setBalance(from, new(uint256.Int).Sub(balance, amount))
	t.totalSupply = new(uint256.Int).Sub(t.totalSupply, amount)
	return nil
}

// Export returns the ledger content ordered by address.
func (t *MintableERC20) Export() utils.LedgerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state := utils.LedgerState{
		TotalSupply: utils.AmountToString(t.totalSupply),
	}
	for holder, balance := range t.balances {
		state.Balances = append(state.Balances, utils.LedgerEntry{
			Holder: holder.Hex(),
			Amount: utils.AmountToString(balance),
		})
	}
	for owner, spenders := range t.allowances {
		for spender, amount := range spenders {
			state.Allowances = append(state.Allowances, utils.AllowanceEntry{
				Owner:   owner.Hex(),
				Spender: spender.Hex(),
				Amount:  utils.AmountToString(amount),
			})
		}
	}
	sort.Slice(state.Balances, func(i, j int) bool {
		return state.Balances[i].Holder < state.Balances[j].Holder
	})
	sort.Slice(state.Allowances, func(i, j int) bool {
		if state.Allowances[i].Owner != state.Allowances[j].Owner {
			return state.Allowances[i].Owner < state.Allowances[j].Owner
		}
		return state.Allowances[i].Spender < state.Allowances[j].Spender
	})
	return state
}

// Restore replaces the ledger content with an exported state. The balances
// must add up to the total supply.
func (t *MintableERC20) Restore(state utils.LedgerState) error {
	totalSupply, err := utils.AmountFromString(state.TotalSupply)
	if err != nil {
		return err
	}
	balances := make(map[common.Address]*uint256.Int, len(state.Balances))
	sum := new(uint256.Int)
	for _, entry := range state.Balances {
		holder, err := utils.ParseAddress(entry.Holder)
		if err != nil {
			return err
		}
		amount, err := utils.AmountFromString(entry.Amount)
		if err != nil {
			return err
		}
		var overflow bool
		sum, overflow = new(uint256.Int).AddOverflow(sum, amount)
		if overflow {
			return utils.ErrMathOverflow
		}
		if !amount.IsZero() {
			balances[holder] = amount
		}
	}
	if !sum.Eq(totalSupply) {
		return fmt.Errorf("%s ledger balances sum to %s, total supply is %s",
			t.symbol, utils.AmountToString(sum), state.TotalSupply)
	}
	allowances := make(map[common.Address]map[common.Address]*uint256.Int)
	for _, entry := range state.Allowances {
		owner, err := utils.ParseAddress(entry.Owner)
		if err != nil {
			return err
		}
		spender, err := utils.ParseAddress(entry.Spender)
		if err != nil {
			return err
		}
		amount, err := utils.AmountFromString(entry.Amount)
		if err != nil {
			return err
		}
		if allowances[owner] == nil {
			allowances[owner] = make(map[common.Address]*uint256.Int)
		}
		allowances[owner][spender] = amount
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSupply = totalSupply
	t.balances = balances
	t.allowances = allowances
	return nil
}

func (t *MintableERC20) balanceOf(owner common.Address) *uint256.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return utils.ZeroUint256
}

func (t *MintableERC20) setBalance(owner common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		delete(t.balances, owner)
		return
	}
	t.balances[owner] = amount
}

func (t *MintableERC20) allowance(owner common.Address, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return utils.ZeroUint256
}

func (t *MintableERC20) setAllowance(owner common.Address, spender common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		delete(t.allowances[owner], spender)
		return
	}
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = new(uint256.Int).Set(amount)
}

func (t *MintableERC20) checkAllowance(owner common.Address, spender common.Address, amount *uint256.Int) error {
	current := t.allowance(owner, spender)
	if current.Lt(amount) {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s", utils.ErrInsufficientAllowance,
			spender.Hex(), utils.AmountToString(current), owner.Hex(), utils.AmountToString(amount))
	}
	return nil
}

func (t *MintableERC20) spendAllowance(owner common.Address, spender common.Address, amount *uint256.Int) {
	current := t.allowance(owner, spender)
	if current.Eq(utils.MaxUint256) {
		return
	}
	t.setAllowance(owner, spender, new(uint256.Int).Sub(current, amount))
}

func (t *MintableERC20) checkTransfer(from common.Address, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return utils.ErrInvalidReceiver
	}
	balance := t.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", utils.ErrInsufficientBalance,
			from.Hex(), utils.AmountToString(balance), utils.AmountToString(amount))
	}
	return nil
}

func (t *MintableERC20) transfer(from common.Address, to common.Address, amount *uint256.Int) error {
	if err := t.checkTransfer(from, to, amount); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	t.setBalance(from, new(uint256.Int).Sub(t.balanceOf(from), amount))
	t.setBalance(to, new(uint256.Int).Add(t.balanceOf(to), amount))
	return nil
}
