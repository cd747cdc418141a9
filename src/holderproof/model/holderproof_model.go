package model

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"github.com/vaultlabs/share-vault/src/utils"
)

const (
	TableNamePrefix = `holder_proof`
)

var ErrMissingProof = errors.New("holder config carries no proof, export one with holderproof -export")

type (
	HolderProofModel interface {
		CreateHolderProofTable() error
		DropHolderProofTable() error
		CreateHolderProofs(proofs []HolderProof) error
		GetHolderProofCount() (count int64, err error)
		GetHolderProofCountByHeight(height int64) (count int64, err error)
		GetHolderProofIndexesByHeight(height int64) (indexes []uint32, err error)
		GetHolderProofByAddress(height int64, address string) (proof *HolderProof, err error)
	}

	defaultHolderProofModel struct {
		table string
		DB    *gorm.DB
	}

	HolderProof struct {
		gorm.Model
		Height      int64  `gorm:"index:idx_height_holder,unique,priority:1"`
		HolderIndex uint32 `gorm:"index:idx_height_holder,unique,priority:2"`
		Address     string `gorm:"index"`
		Shares      string
		LeafHash    string
		Proof       string
		Config      string
	}

	// HolderConfig is what a holder needs to check its share balance against a
	// published holder tree root.
	HolderConfig struct {
		HolderIndex uint32
		Address     string
		Shares      string
		Root        string
		Proof       []string
	}
)

func NewHolderProofModel(db *gorm.DB, suffix string) HolderProofModel {
	return &defaultHolderProofModel{
		table: TableNamePrefix + suffix,
		DB:    db,
	}
}

func (m *defaultHolderProofModel) TableName() string {
	return m.table
}

func (m *defaultHolderProofModel) CreateHolderProofTable() error {
	return m.DB.Table(m.table).AutoMigrate(HolderProof{})
}

func (m *defaultHolderProofModel) DropHolderProofTable() error {
	return m.DB.Migrator().DropTable(m.table)
}

func (m *defaultHolderProofModel) CreateHolderProofs(proofs []HolderProof) error {
	if len(proofs) == 0 {
		return nil
	}
	dbTx := m.DB.Table(m.table).Create(proofs)
	if dbTx.Error != nil {
		return dbTx.Error
	}
	return nil
}

func (m *defaultHolderProofModel) GetHolderProofCount() (count int64, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Count(&count)
	if dbTx.Error != nil {
		return 0, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	return count, nil
}

func (m *defaultHolderProofModel) GetHolderProofCountByHeight(height int64) (count int64, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("height = ?", height).Count(&count)
	if dbTx.Error != nil {
		return 0, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	return count, nil
}

func (m *defaultHolderProofModel) GetHolderProofIndexesByHeight(height int64) (indexes []uint32, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("height = ?", height).Order("holder_index").Pluck("holder_index", &indexes)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	return indexes, nil
}

func (m *defaultHolderProofModel) GetHolderProofByAddress(height int64, address string) (proof *HolderProof, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("height = ? and address = ?", height, address).Limit(1).Find(&proof)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return proof, nil
}

// NewHolderProof packs the inclusion proof of one holder leaf at height.
func NewHolderProof(height int64, holderIndex uint32, holder common.Address, shares *uint256.Int,
	leafHash []byte, proof [][]byte, root []byte) (*HolderProof, error) {
	encodedProof := make([]string, len(proof))
	for i, p := range proof {
		encodedProof[i] = base64.StdEncoding.EncodeToString(p)
	}
	proofSerial, err := json.Marshal(encodedProof)
	if err != nil {
		return nil, err
	}
	holderConfig := HolderConfig{
		HolderIndex: holderIndex,
		Address:     holder.Hex(),
		Shares:      utils.AmountToString(shares),
		Root:        hex.EncodeToString(root),
		Proof:       encodedProof,
	}
	configSerial, err := json.Marshal(holderConfig)
	if err != nil {
		return nil, err
	}
	return &HolderProof{
		Height:      height,
		HolderIndex: holderIndex,
		Address:     holder.Hex(),
		Shares:      holderConfig.Shares,
		LeafHash:    hex.EncodeToString(leafHash),
		Proof:       string(proofSerial),
		Config:      string(configSerial),
	}, nil
}

// Verify checks the proof of a holder config against its root.
func (c *HolderConfig) Verify() (bool, error) {
	if c.Root == "" || len(c.Proof) == 0 {
		return false, ErrMissingProof
	}
	root, err := hex.DecodeString(c.Root)
	if err != nil || len(root) != 32 {
		return false, errors.New("invalid holder tree root")
	}
	holder, err := utils.ParseAddress(c.Address)
	if err != nil {
		return false, err
	}
	shares, err := utils.AmountFromString(c.Shares)
	if err != nil {
		return false, err
	}
	proof := make([][]byte, 0, len(c.Proof))
	for _, encoded := range c.Proof {
		p, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(p) != 32 {
			return false, errors.New("invalid proof")
		}
		proof = append(proof, p)
	}
	return utils.VerifyMerkleProof(root, c.HolderIndex, proof, utils.HolderLeafHash(holder, shares)), nil
}
