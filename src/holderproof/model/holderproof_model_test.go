package model

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vaultlabs/share-vault/src/utils"
)

func buildProofs(t *testing.T) []HolderProof {
	tree, err := utils.NewHolderTree("memory", "")
	require.NoError(t, err)
	holders := []common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
	}
	shares := []*uint256.Int{uint256.NewInt(60), uint256.NewInt(165)}
	for i, h := range holders {
		require.NoError(t, tree.Set(uint64(i), utils.HolderLeafHash(h, shares[i])))
	}
	_, err = tree.Commit(nil)
	require.NoError(t, err)

	var proofs []HolderProof
	for i, h := range holders {
		proof, err := tree.GetProof(uint64(i))
		require.NoError(t, err)
		leaf, err := tree.Get(uint64(i), nil)
		require.NoError(t, err)
		p, err := NewHolderProof(4, uint32(i), h, shares[i], leaf, proof, tree.Root())
		require.NoError(t, err)
		proofs = append(proofs, *p)
	}
	return proofs
}

func TestHolderConfigVerify(t *testing.T) {
	proofs := buildProofs(t)
	for _, p := range proofs {
		var c HolderConfig
		require.NoError(t, json.Unmarshal([]byte(p.Config), &c))
		ok, err := c.Verify()
		require.NoError(t, err)
		assert.True(t, ok, p.Address)

		c.Shares = "1"
		ok, err = c.Verify()
		require.NoError(t, err)
		assert.False(t, ok)
	}

	var c HolderConfig
	require.NoError(t, json.Unmarshal([]byte(proofs[0].Config), &c))
	c.Root = "00"
	_, err := c.Verify()
	assert.Error(t, err)

	empty := HolderConfig{Address: proofs[0].Address, Shares: proofs[0].Shares}
	_, err = empty.Verify()
	assert.ErrorIs(t, err, ErrMissingProof)
}

func TestHolderProofModel(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	proofModel := NewHolderProofModel(db, "test")
	require.NoError(t, proofModel.CreateHolderProofTable())
	require.NoError(t, proofModel.CreateHolderProofs(buildProofs(t)))

	count, err := proofModel.GetHolderProofCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	count, err = proofModel.GetHolderProofCountByHeight(3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	p, err := proofModel.GetHolderProofByAddress(4, common.HexToAddress("0x0000000000000000000000000000000000000b0b").Hex())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.HolderIndex)
	assert.Equal(t, "165", p.Shares)

	_, err = proofModel.GetHolderProofByAddress(5, p.Address)
	assert.ErrorIs(t, err, utils.DbErrNotFound)

	// the same holder cannot be proven twice at one height
	assert.Error(t, proofModel.CreateHolderProofs(buildProofs(t)[:1]))

	require.NoError(t, proofModel.DropHolderProofTable())
}
