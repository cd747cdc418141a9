package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/vaultlabs/share-vault/src/utils"
)

type Rounding int

const (
	Floor Rounding = iota
	Ceil
)

func (r Rounding) String() string {
	if r == Ceil {
		return "ceil"
	}
	return "floor"
}

// MaxDecimalsOffset bounds the virtual share exponent so 10^offset and the
// share decimals stay meaningful.
const MaxDecimalsOffset = 18

// MulDiv returns x*y/denominator with a 512 bit intermediate product.
func MulDiv(x, y, denominator *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, utils.ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, denominator)
	if overflow {
		return nil, utils.ErrMathOverflow
	}
	if rounding == Ceil && !new(uint256.Int).MulMod(x, y, denominator).IsZero() {
		if z.Eq(utils.MaxUint256) {
			return nil, utils.ErrMathOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

// State is everything the share/asset conversions depend on. Conversions use
// a virtual supply of 10^DecimalsOffset shares backed by one virtual asset
// unit, so an empty vault converts 1:1 scaled by 10^DecimalsOffset.
type State struct {
	TotalAssets    *uint256.Int
	TotalSupply    *uint256.Int
	DecimalsOffset uint8
}

func (s State) virtualSupply() (*uint256.Int, error) {
	if s.DecimalsOffset > MaxDecimalsOffset {
		return nil, fmt.Errorf("decimals offset %d exceeds %d", s.DecimalsOffset, MaxDecimalsOffset)
	}
	offset := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(s.DecimalsOffset)))
	supply, overflow := new(uint256.Int).AddOverflow(s.TotalSupply, offset)
	if overflow {
		return nil, utils.ErrMathOverflow
	}
	return supply, nil
}

func (s State) virtualAssets() (*uint256.Int, error) {
	assets, overflow := new(uint256.Int).AddOverflow(s.TotalAssets, utils.OneUint256)
	if overflow {
		return nil, utils.ErrMathOverflow
	}
	return assets, nil
}

func (s State) ConvertToShares(assets *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	supply, err := s.virtualSupply()
	if err != nil {
		return nil, err
	}
	total, err := s.virtualAssets()
	if err != nil {
		return nil, err
	}
	return MulDiv(assets, supply, total, rounding)
}

func (s State) ConvertToAssets(shares *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	supply, err := s.virtualSupply()
	if err != nil {
		return nil, err
	}
	total, err := s.virtualAssets()
	if err != nil {
		return nil, err
	}
	return MulDiv(shares, total, supply, rounding)
}

// Shares issued for depositing assets.
func (s State) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return s.ConvertToShares(assets, Floor)
}

// Assets charged for minting exactly shares.
func (s State) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return s.ConvertToAssets(shares, Ceil)
}

// Shares burned for withdrawing exactly assets.
func (s State) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return s.ConvertToShares(assets, Ceil)
}

// Assets paid out for redeeming shares.
func (s State) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return s.ConvertToAssets(shares, Floor)
}

// Preview dispatches on the operation kind; amount is assets for deposit and
// withdraw, shares for mint and redeem.
func (s State) Preview(kind utils.OperationKind, amount *uint256.Int) (*uint256.Int, error) {
	switch kind {
	case utils.OperationDeposit:
		return s.PreviewDeposit(amount)
	case utils.OperationMint:
		return s.PreviewMint(amount)
	case utils.OperationWithdraw:
		return s.PreviewWithdraw(amount)
	case utils.OperationRedeem:
		return s.PreviewRedeem(amount)
	}
	return nil, fmt.Errorf("unknown operation %q", kind)
}
