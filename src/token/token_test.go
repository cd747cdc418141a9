package token

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultlabs/share-vault/src/utils"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func TestMintAndTransfer(t *testing.T) {
	tok := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(1000)))
	assert.Equal(t, uint64(1000), tok.TotalSupply().Uint64())

	require.NoError(t, tok.Transfer(alice, bob, uint256.NewInt(300)))
	assert.Equal(t, uint64(700), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(300), tok.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(1000), tok.TotalSupply().Uint64())

	err := tok.Transfer(bob, alice, uint256.NewInt(301))
	assert.True(t, errors.Is(err, utils.ErrInsufficientBalance))
	assert.Equal(t, uint64(300), tok.BalanceOf(bob).Uint64())

	err = tok.Transfer(alice, common.Address{}, uint256.NewInt(1))
	assert.True(t, errors.Is(err, utils.ErrInvalidReceiver))

	err = tok.Mint(common.Address{}, uint256.NewInt(1))
	assert.True(t, errors.Is(err, utils.ErrInvalidReceiver))

	err = tok.Mint(alice, utils.MaxUint256)
	assert.True(t, errors.Is(err, utils.ErrMathOverflow))
	assert.Equal(t, uint64(1000), tok.TotalSupply().Uint64())
}

func TestTransferFromAllowance(t *testing.T) {
	tok := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(100)))

	err := tok.TransferFrom(bob, alice, carol, uint256.NewInt(10))
	assert.True(t, errors.Is(err, utils.ErrInsufficientAllowance))

	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(15)))
	require.NoError(t, tok.TransferFrom(bob, alice, carol, uint256.NewInt(10)))
	assert.Equal(t, uint64(5), tok.Allowance(alice, bob).Uint64())
	assert.Equal(t, uint64(10), tok.BalanceOf(carol).Uint64())

	err = tok.TransferFrom(bob, alice, carol, uint256.NewInt(6))
	assert.True(t, errors.Is(err, utils.ErrInsufficientAllowance))
	assert.Equal(t, uint64(90), tok.BalanceOf(alice).Uint64())

	// a failed balance check must not consume allowance
	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(1000)))
	err = tok.TransferFrom(bob, alice, carol, uint256.NewInt(91))
	assert.True(t, errors.Is(err, utils.ErrInsufficientBalance))
	assert.Equal(t, uint64(1000), tok.Allowance(alice, bob).Uint64())
}

func TestInfiniteAllowance(t *testing.T) {
	tok := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(100)))
	require.NoError(t, tok.Approve(alice, bob, utils.MaxUint256))
	require.NoError(t, tok.TransferFrom(bob, alice, carol, uint256.NewInt(60)))
	assert.True(t, tok.Allowance(alice, bob).Eq(utils.MaxUint256))
}

func TestBurn(t *testing.T) {
	tok := NewMintableERC20("Share Vault", "sVLT", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(100)))
	require.NoError(t, tok.Burn(alice, uint256.NewInt(40)))
	assert.Equal(t, uint64(60), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(60), tok.TotalSupply().Uint64())
	err := tok.Burn(alice, uint256.NewInt(61))
	assert.True(t, errors.Is(err, utils.ErrInsufficientBalance))
}

func TestExportRestore(t *testing.T) {
	tok := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(100)))
	require.NoError(t, tok.Mint(bob, uint256.NewInt(50)))
	require.NoError(t, tok.Approve(alice, carol, uint256.NewInt(7)))

	state := tok.Export()
	assert.Equal(t, "150", state.TotalSupply)
	assert.Len(t, state.Balances, 2)

	restored := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, restored.Restore(state))
	assert.Equal(t, uint64(100), restored.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(50), restored.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(7), restored.Allowance(alice, carol).Uint64())
	assert.Equal(t, state, restored.Export())

	state.TotalSupply = "151"
	assert.Error(t, NewMintableERC20("x", "x", 18).Restore(state))
}

func TestConcurrentTransfers(t *testing.T) {
	tok := NewMintableERC20("Mock USD", "mUSD", 18)
	require.NoError(t, tok.Mint(alice, uint256.NewInt(1000)))
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tok.Transfer(alice, bob, uint256.NewInt(10))
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(0), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1000), tok.BalanceOf(bob).Uint64())
}
