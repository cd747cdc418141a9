package utils

import (
	"github.com/holiman/uint256"
)

const (
	HolderTreeDepth  = 28
	RedisLockKey     = "vault_batch_mutex_key"
	RedisLockExpire  = 60
	DefaultBatchSize = 100
	// the region used when neither AWS_REGION nor the shared config names one
	DefaultAwsRegion = "ap-northeast-1"
	// amounts in batch files and on the command line are written in whole tokens
	MaxAssetDecimals = 36
)

var (
	ZeroUint256 = uint256.NewInt(0)
	OneUint256  = uint256.NewInt(1)
	MaxUint256  = new(uint256.Int).SetAllOne()
)
