package service

import (
	"github.com/vaultlabs/share-vault/src/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusApplied = iota
	StatusRejected
)

const (
	OperationTableNamePrefix = `vault_operation`
	HolderTableNamePrefix    = `vault_holder`
	SnapshotTableNamePrefix  = `vault_snapshot`
)

type (
	OperationModel interface {
		CreateOperationTable() error
		DropOperationTable() error
		CreateOperations(ops []Operation) error
		GetOperationsByHeight(height int64) (ops []Operation, err error)
		GetAppliedOperationCount() (count int64, err error)
		GetRowCounts() (counts []int64, err error)
	}

	HolderModel interface {
		CreateHolderTable() error
		DropHolderTable() error
		UpsertHolders(holders []Holder) error
		GetHolderByAddress(address string) (holder *Holder, err error)
		GetHolders(limit int, offset int) (holders []Holder, err error)
		GetHolderCount() (count int64, err error)
	}

	SnapshotModel interface {
		CreateSnapshotTable() error
		DropSnapshotTable() error
		CreateSnapshot(snapshot *Snapshot) error
		GetLatestSnapshot() (snapshot *Snapshot, err error)
		GetSnapshotByHeight(height int64) (snapshot *Snapshot, err error)
		GetSnapshots(limit int, offset int) (snapshots []Snapshot, err error)
	}

	defaultOperationModel struct {
		table string
		DB    *gorm.DB
	}

	defaultHolderModel struct {
		table string
		DB    *gorm.DB
	}

	defaultSnapshotModel struct {
		table string
		DB    *gorm.DB
	}

	// Operation is one journaled line of a batch. Assets and Shares hold the
	// settled amounts of applied operations in base units.
	Operation struct {
		gorm.Model
		OperationId string `gorm:"index:idx_operation_id,unique"`
		Height      int64  `gorm:"index"`
		Sequence    int64
		Kind        string
		Caller      string
		Receiver    string
		Owner       string
		Amount      string
		Assets      string
		Shares      string
		Status      int64 `gorm:"index"`
		Reason      string
	}

	Holder struct {
		gorm.Model
		Address     string `gorm:"index:idx_holder_address,unique"`
		HolderIndex uint32
		Shares      string
		LeafHash    string
	}

	Snapshot struct {
		gorm.Model
		Height         int64 `gorm:"index:idx_snapshot_height,unique"`
		HolderTreeRoot string
		TotalAssets    string
		TotalSupply    string
		SnapshotData   string
	}
)

func NewOperationModel(db *gorm.DB, suffix string) OperationModel {
	return &defaultOperationModel{
		table: OperationTableNamePrefix + suffix,
		DB:    db,
	}
}

func (m *defaultOperationModel) TableName() string {
	return m.table
}

func (m *defaultOperationModel) CreateOperationTable() error {
	return m.DB.Table(m.table).AutoMigrate(Operation{})
}

func (m *defaultOperationModel) DropOperationTable() error {
	return m.DB.Migrator().DropTable(m.table)
}

func (m *defaultOperationModel) CreateOperations(ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	dbTx := m.DB.Table(m.table).Create(ops)
	if dbTx.Error != nil {
		return dbTx.Error
	}
	return nil
}

func (m *defaultOperationModel) GetOperationsByHeight(height int64) (ops []Operation, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("height = ?", height).Order("sequence asc").Find(&ops)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return ops, nil
}

func (m *defaultOperationModel) GetAppliedOperationCount() (count int64, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("status = ?", StatusApplied).Count(&count)
	if dbTx.Error != nil {
		return 0, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	return count, nil
}

// GetRowCounts returns the total, applied and rejected operation counts.
func (m *defaultOperationModel) GetRowCounts() (counts []int64, err error) {
	var count int64
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Count(&count)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	counts = append(counts, count)
	for _, status := range []int64{StatusApplied, StatusRejected} {
		var statusCount int64
		dbTx = m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("status = ?", status).Count(&statusCount)
		if dbTx.Error != nil {
			return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
		}
		counts = append(counts, statusCount)
	}
	return counts, nil
}

func NewHolderModel(db *gorm.DB, suffix string) HolderModel {
	return &defaultHolderModel{
		table: HolderTableNamePrefix + suffix,
		DB:    db,
	}
}

func (m *defaultHolderModel) TableName() string {
	return m.table
}

func (m *defaultHolderModel) CreateHolderTable() error {
	return m.DB.Table(m.table).AutoMigrate(Holder{})
}

func (m *defaultHolderModel) DropHolderTable() error {
	return m.DB.Migrator().DropTable(m.table)
}

func (m *defaultHolderModel) UpsertHolders(holders []Holder) error {
	if len(holders) == 0 {
		return nil
	}
	dbTx := m.DB.Table(m.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"shares", "leaf_hash", "updated_at"}),
	}).Create(holders)
	return dbTx.Error
}

func (m *defaultHolderModel) GetHolderByAddress(address string) (holder *Holder, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("address = ?", address).Limit(1).Find(&holder)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return holder, nil
}

func (m *defaultHolderModel) GetHolders(limit int, offset int) (holders []Holder, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Order("holder_index asc").Offset(offset).Limit(limit).Find(&holders)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return holders, nil
}

func (m *defaultHolderModel) GetHolderCount() (count int64, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Count(&count)
	if dbTx.Error != nil {
		return 0, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	}
	return count, nil
}

func NewSnapshotModel(db *gorm.DB, suffix string) SnapshotModel {
	return &defaultSnapshotModel{
		table: SnapshotTableNamePrefix + suffix,
		DB:    db,
	}
}

func (m *defaultSnapshotModel) TableName() string {
	return m.table
}

func (m *defaultSnapshotModel) CreateSnapshotTable() error {
	return m.DB.Table(m.table).AutoMigrate(Snapshot{})
}

func (m *defaultSnapshotModel) DropSnapshotTable() error {
	return m.DB.Migrator().DropTable(m.table)
}

func (m *defaultSnapshotModel) CreateSnapshot(snapshot *Snapshot) error {
	dbTx := m.DB.Table(m.table).Create(snapshot)
	if dbTx.Error != nil {
		return dbTx.Error
	}
	return nil
}

func (m *defaultSnapshotModel) GetLatestSnapshot() (snapshot *Snapshot, err error) {
	var height int64
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Select("height").Order("height desc").Limit(1).Find(&height)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return m.GetSnapshotByHeight(height)
}

func (m *defaultSnapshotModel) GetSnapshotByHeight(height int64) (snapshot *Snapshot, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Where("height = ?", height).Limit(1).Find(&snapshot)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return snapshot, nil
}

func (m *defaultSnapshotModel) GetSnapshots(limit int, offset int) (snapshots []Snapshot, err error) {
	dbTx := m.DB.Clauses(utils.MaxExecutionTimeHint).Table(m.table).Order("height asc").Offset(offset).Limit(limit).Find(&snapshots)
	if dbTx.Error != nil {
		return nil, utils.ConvertMysqlErrToDbErr(dbTx.Error)
	} else if dbTx.RowsAffected == 0 {
		return nil, utils.DbErrNotFound
	}
	return snapshots, nil
}
