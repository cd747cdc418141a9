package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vaultlabs/share-vault/src/token"
	"github.com/vaultlabs/share-vault/src/utils"
)

// AssetLedger is the underlying token the vault holds. The vault pulls assets
// with TransferFrom, acting as spender, and pays out with Transfer from its
// own address.
type AssetLedger interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from common.Address, to common.Address, amount *uint256.Int) error
	TransferFrom(spender common.Address, from common.Address, to common.Address, amount *uint256.Int) error
}

type Options struct {
	Address        common.Address
	Name           string
	Symbol         string
	DecimalsOffset uint8
	Sink           EventSink
}

// Vault holds one underlying asset and issues shares proportional to the
// assets it holds. Operations are serialised; each one either applies in
// full or leaves the vault and the asset ledger untouched.
type Vault struct {
	mu             sync.Mutex
	address        common.Address
	asset          AssetLedger
	shares         *token.MintableERC20
	decimalsOffset uint8
	sink           EventSink
}

func NewVault(asset AssetLedger, opts Options) (*Vault, error) {
	if opts.Address == (common.Address{}) {
		return nil, errors.New("vault address must not be zero")
	}
	if opts.DecimalsOffset > MaxDecimalsOffset {
		return nil, fmt.Errorf("decimals offset %d exceeds %d", opts.DecimalsOffset, MaxDecimalsOffset)
	}
	if int(asset.Decimals())+int(opts.DecimalsOffset) > 255 {
		return nil, errors.New("share decimals overflow")
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Vault{
		address:        opts.Address,
		asset:          asset,
		shares:         token.NewMintableERC20(opts.Name, opts.Symbol, asset.Decimals()+opts.DecimalsOffset),
		decimalsOffset: opts.DecimalsOffset,
		sink:           sink,
	}, nil
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Asset() AssetLedger      { return v.asset }
func (v *Vault) Name() string            { return v.shares.Name() }
func (v *Vault) Symbol() string          { return v.shares.Symbol() }
func (v *Vault) Decimals() uint8         { return v.shares.Decimals() }
func (v *Vault) DecimalsOffset() uint8   { return v.decimalsOffset }

// TotalAssets is the underlying balance held at the vault address.
func (v *Vault) TotalAssets() *uint256.Int {
	return v.asset.BalanceOf(v.address)
}

func (v *Vault) TotalSupply() *uint256.Int {
	return v.shares.TotalSupply()
}

func (v *Vault) BalanceOf(holder common.Address) *uint256.Int {
	return v.shares.BalanceOf(holder)
}

func (v *Vault) Allowance(owner common.Address, spender common.Address) *uint256.Int {
	return v.shares.Allowance(owner, spender)
}

func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state()
}

func (v *Vault) state() State {
	return State{
		TotalAssets:    v.asset.BalanceOf(v.address),
		TotalSupply:    v.shares.TotalSupply(),
		DecimalsOffset: v.decimalsOffset,
	}
}

func (v *Vault) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return v.State().ConvertToShares(assets, Floor)
}

func (v *Vault) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return v.State().ConvertToAssets(shares, Floor)
}

func (v *Vault) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return v.State().PreviewDeposit(assets)
}

func (v *Vault) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return v.State().PreviewMint(shares)
}

func (v *Vault) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return v.State().PreviewWithdraw(assets)
}

func (v *Vault) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return v.State().PreviewRedeem(shares)
}

func (v *Vault) MaxDeposit(common.Address) *uint256.Int {
	return new(uint256.Int).Set(utils.MaxUint256)
}

func (v *Vault) MaxMint(common.Address) *uint256.Int {
	return new(uint256.Int).Set(utils.MaxUint256)
}

func (v *Vault) MaxWithdraw(owner common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state().ConvertToAssets(v.shares.BalanceOf(owner), Floor)
}

func (v *Vault) MaxRedeem(owner common.Address) *uint256.Int {
	return v.shares.BalanceOf(owner)
}

// Deposit pulls assets from caller and credits the resulting shares to
// receiver.
func (v *Vault) Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: deposit", utils.ErrZeroAmount)
	}
	if receiver == (common.Address{}) {
		return nil, utils.ErrInvalidReceiver
	}
	shares, err := v.state().PreviewDeposit(assets)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit of %s assets mints no shares", utils.ErrZeroAmount, utils.AmountToString(assets))
	}
	if err = v.deposit(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint credits exactly shares to receiver, pulling the assets they cost
// (rounded up) from caller.
func (v *Vault) Mint(caller common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: mint", utils.ErrZeroAmount)
	}
	if receiver == (common.Address{}) {
		return nil, utils.ErrInvalidReceiver
	}
	assets, err := v.state().PreviewMint(shares)
	if err != nil {
		return nil, err
	}
	if err = v.deposit(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	return assets, nil
}

// Withdraw sends exactly assets to receiver, burning the shares they are
// worth (rounded up) from owner.
func (v *Vault) Withdraw(caller common.Address, assets *uint256.Int, receiver common.Address, owner common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: withdraw", utils.ErrZeroAmount)
	}
	if receiver == (common.Address{}) {
		return nil, utils.ErrInvalidReceiver
	}
	st := v.state()
	balance := v.shares.BalanceOf(owner)
	maxAssets, err := st.ConvertToAssets(balance, Floor)
	if err != nil {
		return nil, err
	}
	if assets.Gt(maxAssets) {
		return nil, fmt.Errorf("%w: %s may withdraw at most %s assets, requested %s", utils.ErrInsufficientBalance,
			owner.Hex(), utils.AmountToString(maxAssets), utils.AmountToString(assets))
	}
	shares, err := st.PreviewWithdraw(assets)
	if err != nil {
		return nil, err
	}
	if err = v.withdraw(caller, receiver, owner, assets, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns exactly shares from owner and sends the assets they are worth
// (rounded down) to receiver.
func (v *Vault) Redeem(caller common.Address, shares *uint256.Int, receiver common.Address, owner common.Address) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: redeem", utils.ErrZeroAmount)
	}
	if receiver == (common.Address{}) {
		return nil, utils.ErrInvalidReceiver
	}
	assets, err := v.state().PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: redeeming %s shares pays no assets", utils.ErrZeroAmount, utils.AmountToString(shares))
	}
	if err = v.withdraw(caller, receiver, owner, assets, shares); err != nil {
		return nil, err
	}
	return assets, nil
}

func (v *Vault) Approve(owner common.Address, spender common.Address, shares *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.shares.Approve(owner, spender, shares); err != nil {
		return err
	}
	v.sink.Emit(Event{Kind: EventApproval, Owner: owner, Receiver: spender, Shares: utils.AmountToString(shares)})
	return nil
}

func (v *Vault) Transfer(from common.Address, to common.Address, shares *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.shares.Transfer(from, to, shares); err != nil {
		return err
	}
	v.emitTransfer(from, to, shares)
	return nil
}

func (v *Vault) TransferFrom(spender common.Address, from common.Address, to common.Address, shares *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.shares.TransferFrom(spender, from, to, shares); err != nil {
		return err
	}
	v.emitTransfer(from, to, shares)
	return nil
}

// ExportShares returns the share ledger for snapshots.
func (v *Vault) ExportShares() utils.LedgerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares.Export()
}

func (v *Vault) RestoreShares(state utils.LedgerState) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares.Restore(state)
}

func (v *Vault) deposit(caller common.Address, receiver common.Address, assets *uint256.Int, shares *uint256.Int) error {
	if _, overflow := new(uint256.Int).AddOverflow(v.shares.TotalSupply(), shares); overflow {
		return utils.ErrMathOverflow
	}
	if err := v.asset.TransferFrom(v.address, caller, v.address, assets); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrInsufficientAllowanceOrBalance, err)
	}
	if err := v.shares.Mint(receiver, shares); err != nil {
		// hand the pulled assets back so the ledger is left as it was
		if refundErr := v.asset.Transfer(v.address, caller, assets); refundErr != nil {
			return errors.Join(err, refundErr)
		}
		return err
	}
	v.emitTransfer(common.Address{}, receiver, shares)
	v.sink.Emit(Event{
		Kind:     EventDeposit,
		Sender:   caller,
		Receiver: receiver,
		Owner:    receiver,
		Assets:   utils.AmountToString(assets),
		Shares:   utils.AmountToString(shares),
	})
	return nil
}

func (v *Vault) withdraw(caller common.Address, receiver common.Address, owner common.Address, assets *uint256.Int, shares *uint256.Int) error {
	balance := v.shares.BalanceOf(owner)
	if balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s shares, needs %s", utils.ErrInsufficientBalance,
			owner.Hex(), utils.AmountToString(balance), utils.AmountToString(shares))
	}
	if caller != owner {
		if err := v.shares.CheckAllowance(owner, caller, shares); err != nil {
			return err
		}
	}
	if err := v.asset.Transfer(v.address, receiver, assets); err != nil {
		return fmt.Errorf("pay out %s %s: %w", utils.AmountToString(assets), v.asset.Symbol(), err)
	}
	if caller != owner {
		if err := v.shares.SpendAllowance(owner, caller, shares); err != nil {
			return v.undoPayout(receiver, assets, err)
		}
	}
	if err := v.shares.Burn(owner, shares); err != nil {
		return v.undoPayout(receiver, assets, err)
	}
	v.emitTransfer(owner, common.Address{}, shares)
	v.sink.Emit(Event{
		Kind:     EventWithdraw,
		Sender:   caller,
		Receiver: receiver,
		Owner:    owner,
		Assets:   utils.AmountToString(assets),
		Shares:   utils.AmountToString(shares),
	})
	return nil
}

func (v *Vault) undoPayout(receiver common.Address, assets *uint256.Int, err error) error {
	if refundErr := v.asset.Transfer(receiver, v.address, assets); refundErr != nil {
		return errors.Join(err, refundErr)
	}
	return err
}

func (v *Vault) emitTransfer(from common.Address, to common.Address, shares *uint256.Int) {
	v.sink.Emit(Event{Kind: EventTransfer, Sender: from, Receiver: to, Shares: utils.AmountToString(shares)})
}
