package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
	"github.com/gocarina/gocsv"
	"github.com/holiman/uint256"
	"github.com/klauspost/compress/s2"
	"github.com/shopspring/decimal"
	"gorm.io/hints"
)

var MaxExecutionTimeHint = hints.New("MAX_EXECUTION_TIME(10000)")

// ParseAmount converts a human readable token amount such as "12.5" into base
// units of a token with the given decimals.
func ParseAmount(amount string, decimals uint8) (*uint256.Int, error) {
	if decimals > MaxAssetDecimals {
		return nil, fmt.Errorf("%w: %d decimals not supported", ErrInvalidAmount, decimals)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, amount, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrMathOverflow, amount)
	}
	return v, nil
}

func FormatAmount(v *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

func AmountToString(v *uint256.Int) string {
	return v.ToBig().String()
}

func AmountFromString(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %q", ErrMathOverflow, s)
	}
	return v, nil
}

func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func EncodeVaultSnapshot(snapshot *VaultSnapshot) (string, error) {
	var serializeBuf bytes.Buffer
	enc := gob.NewEncoder(&serializeBuf)
	err := enc.Encode(snapshot)
	if err != nil {
		return "", err
	}
	compressedBuf := s2.Encode(nil, serializeBuf.Bytes())
	return base64.StdEncoding.EncodeToString(compressedBuf), nil
}

func DecodeVaultSnapshot(data string) (*VaultSnapshot, error) {
	var snapshot VaultSnapshot
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize vault snapshot failed: %w", err)
	}
	uncompressedData, err := s2.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("uncompress vault snapshot failed: %w", err)
	}
	dec := gob.NewDecoder(bytes.NewBuffer(uncompressedData))
	err = dec.Decode(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("unmarshal vault snapshot failed: %w", err)
	}
	return &snapshot, nil
}

func ConvertMysqlErrToDbErr(err error) error {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		if mysqlErr.Number == 1317 {
			return DbErrQueryInterrupted
		}
		if mysqlErr.Number == 3024 {
			return DbErrQueryTimeout
		}
		if mysqlErr.Number == 1146 {
			return DbErrTableNotFound
		}
	}
	return err
}

func ParseOperationFile(path string) ([]OperationRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows := []*OperationRow{}
	if err = gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	ops := make([]OperationRow, len(rows))
	for i, row := range rows {
		ops[i] = *row
	}
	return ops, nil
}
