package utils

import (
	"bytes"
	"hash"
	"time"

	bsmt "github.com/bnb-chain/zkbnb-smt"
	"github.com/bnb-chain/zkbnb-smt/database"
	"github.com/bnb-chain/zkbnb-smt/database/memory"
	"github.com/bnb-chain/zkbnb-smt/database/redis"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	lowLimbMask = new(uint256.Int).Rsh(MaxUint256, 128)

	// leaf of a holder slot that was never assigned
	NilHolderHash = HolderLeafHash(common.Address{}, ZeroUint256)
)

func NewHolderTree(driver string, addr string) (holderTree bsmt.SparseMerkleTree, err error) {
	hasher := bsmt.NewHasherPool(func() hash.Hash {
		return poseidon.NewPoseidon()
	})

	var db database.TreeDB
	if driver == "redis" {
		redisOption := &redis.RedisConfig{}
		redisOption.Addr = addr
		redisOption.DialTimeout = 10 * time.Second
		redisOption.ReadTimeout = 10 * time.Second
		redisOption.WriteTimeout = 10 * time.Second
		redisOption.PoolTimeout = 15 * time.Second
		redisOption.IdleTimeout = 5 * time.Minute
		redisOption.PoolSize = 500
		redisOption.MaxRetries = 5
		redisOption.MinRetryBackoff = 8 * time.Millisecond
		redisOption.MaxRetryBackoff = 512 * time.Millisecond
		db, err = redis.New(redisOption)
		if err != nil {
			return nil, err
		}
	} else {
		db = memory.NewMemoryDB()
	}

	holderTree, err = bsmt.NewBNBSparseMerkleTree(hasher, db, HolderTreeDepth, NilHolderHash)
	if err != nil {
		return nil, err
	}
	return holderTree, nil
}

// HolderLeafHash commits to a holder and its share balance. The balance is
// hashed as two 128 bit limbs so every uint256 value stays below the field
// modulus.
func HolderLeafHash(holder common.Address, shares *uint256.Int) []byte {
	hi := new(uint256.Int).Rsh(shares, 128)
	lo := new(uint256.Int).And(shares, lowLimbMask)
	return poseidon.PoseidonBytes(holder.Bytes(), hi.Bytes(), lo.Bytes())
}

func VerifyMerkleProof(root []byte, holderIndex uint32, proof [][]byte, node []byte) bool {
	if len(proof) != HolderTreeDepth {
		return false
	}
	hasher := poseidon.NewPoseidon()
	for i := 0; i < HolderTreeDepth; i++ {
		bit := holderIndex & (1 << i)
		if bit == 0 {
			hasher.Write(node)
			hasher.Write(proof[i])
		} else {
			hasher.Write(proof[i])
			hasher.Write(node)
		}
		node = hasher.Sum(nil)
		hasher.Reset()
	}
	return bytes.Equal(node, root)
}
