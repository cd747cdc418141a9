package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	bsmt "github.com/bnb-chain/zkbnb-smt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vaultlabs/share-vault/src/token"
	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/config"
	"github.com/vaultlabs/share-vault/src/vault/vault"
)

// BatchLocker serialises batches between service instances sharing a
// database.
type BatchLocker interface {
	Lock() error
	Unlock()
}

type redisBatchLocker struct {
	lock *redis.RedisLock
}

func WithRedis(redisType string, redisPass string) redis.Option {
	return func(p *redis.Redis) {
		p.Type = redisType
		p.Pass = redisPass
	}
}

func NewRedisBatchLocker(conn *redis.Redis) BatchLocker {
	return &redisBatchLocker{lock: utils.GetRedisLockByKey(conn, utils.RedisLockKey)}
}

func (l *redisBatchLocker) Lock() error {
	return utils.TryAcquireLock(l.lock)
}

func (l *redisBatchLocker) Unlock() {
	//nolint:errcheck
	l.lock.Release()
}

type nopLocker struct{}

func (nopLocker) Lock() error { return nil }
func (nopLocker) Unlock()     {}

func NewNopLocker() BatchLocker {
	return nopLocker{}
}

// OpenDatabase opens the mysql journal with a quiet gorm logger.
func OpenDatabase(dataSource string) (*gorm.DB, error) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             60 * time.Second,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(mysql.Open(dataSource), &gorm.Config{
		Logger: newLogger,
	})
}

// Service replays operation batches against a vault, journaling every
// operation and committing holder balances, the holder tree root and a
// snapshot per batch.
type Service struct {
	config         *config.Config
	db             *gorm.DB
	operationModel OperationModel
	holderModel    HolderModel
	snapshotModel  SnapshotModel
	holderTree     bsmt.SparseMerkleTree
	publisher      EventPublisher
	locker         BatchLocker

	asset         *token.MintableERC20
	vault         *vault.Vault
	holderIndexes map[common.Address]uint32
	height        int64
	processedOps  int64
}

func NewService(db *gorm.DB, holderTree bsmt.SparseMerkleTree, cfg *config.Config,
	publisher EventPublisher, locker BatchLocker) (*Service, error) {
	vaultAddress, err := utils.ParseAddress(cfg.Vault.Address)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = &MemoryEventPublisher{}
	}
	if locker == nil {
		locker = NewNopLocker()
	}
	asset := token.NewMintableERC20(cfg.Asset.Name, cfg.Asset.Symbol, cfg.Asset.Decimals)
	v, err := vault.NewVault(asset, vault.Options{
		Address:        vaultAddress,
		Name:           cfg.Vault.Name,
		Symbol:         cfg.Vault.Symbol,
		DecimalsOffset: cfg.Vault.DecimalsOffset,
		Sink:           publisher,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		config:         cfg,
		db:             db,
		operationModel: NewOperationModel(db, cfg.DbSuffix),
		holderModel:    NewHolderModel(db, cfg.DbSuffix),
		snapshotModel:  NewSnapshotModel(db, cfg.DbSuffix),
		holderTree:     holderTree,
		publisher:      publisher,
		locker:         locker,
		asset:          asset,
		vault:          v,
		holderIndexes:  make(map[common.Address]uint32),
		height:         -1,
	}, nil
}

func (s *Service) Vault() *vault.Vault               { return s.vault }
func (s *Service) Asset() *token.MintableERC20       { return s.asset }
func (s *Service) Height() int64                     { return s.height }
func (s *Service) ProcessedOps() int64               { return s.processedOps }
func (s *Service) HolderTree() bsmt.SparseMerkleTree { return s.holderTree }

func (s *Service) CreateTables() error {
	if err := s.operationModel.CreateOperationTable(); err != nil {
		return err
	}
	if err := s.holderModel.CreateHolderTable(); err != nil {
		return err
	}
	return s.snapshotModel.CreateSnapshotTable()
}

// Run applies every operation of ops that a previous run has not processed
// yet.
func (s *Service) Run(ctx context.Context, ops []utils.OperationRow) error {
	if err := s.CreateTables(); err != nil {
		return err
	}
	if err := s.Restore(); err != nil {
		return err
	}
	if s.processedOps >= int64(len(ops)) {
		logx.Infow("all operations already applied",
			logx.Field("height", s.height), logx.Field("processed", s.processedOps))
		return nil
	}
	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = utils.DefaultBatchSize
	}
	for start := s.processedOps; start < int64(len(ops)); start += int64(batchSize) {
		end := start + int64(batchSize)
		if end > int64(len(ops)) {
			end = int64(len(ops))
		}
		if err := s.runBatch(ctx, ops[start:end]); err != nil {
			return err
		}
	}
	logx.Infow("vault service run finished",
		logx.Field("height", s.height),
		logx.Field("totalAssets", utils.AmountToString(s.vault.TotalAssets())),
		logx.Field("totalSupply", utils.AmountToString(s.vault.TotalSupply())),
		logx.Field("holderTreeRoot", hex.EncodeToString(s.holderTree.Root())))
	return nil
}

// Restore loads the latest snapshot, or the genesis state when there is
// none, and brings the holder tree to the matching version.
func (s *Service) Restore() error {
	var latest *Snapshot
	var err error
	for {
		latest, err = s.snapshotModel.GetLatestSnapshot()
		if err == utils.DbErrQueryInterrupted || err == utils.DbErrQueryTimeout {
			logx.Errorf("get latest snapshot timeout, retry...: %s", err.Error())
			time.Sleep(1 * time.Second)
			continue
		}
		break
	}
	if err != nil && err != utils.DbErrNotFound {
		return err
	}
	if err == utils.DbErrNotFound {
		return s.restoreGenesis()
	}
	snapshot, err := utils.DecodeVaultSnapshot(latest.SnapshotData)
	if err != nil {
		return err
	}
	if err = s.asset.Restore(snapshot.Asset); err != nil {
		return err
	}
	if err = s.vault.RestoreShares(snapshot.Shares); err != nil {
		return err
	}
	s.holderIndexes = make(map[common.Address]uint32, len(snapshot.HolderIndexes))
	for _, entry := range snapshot.HolderIndexes {
		holder, err := utils.ParseAddress(entry.Holder)
		if err != nil {
			return err
		}
		s.holderIndexes[holder] = entry.Index
	}
	s.height = snapshot.Height
	s.processedOps = snapshot.ProcessedOps
	logx.Infow("restored vault snapshot",
		logx.Field("height", s.height), logx.Field("processed", s.processedOps))

	if err = s.syncHolderTree(bsmt.Version(snapshot.TreeVersion)); err != nil {
		return err
	}
	if !bytes.Equal(s.holderTree.Root(), snapshot.HolderTreeRoot) {
		return fmt.Errorf("holder tree root %x does not match snapshot %d root %x",
			s.holderTree.Root(), snapshot.Height, snapshot.HolderTreeRoot)
	}
	return nil
}

func (s *Service) restoreGenesis() error {
	s.height = -1
	s.processedOps = 0
	empty := utils.LedgerState{TotalSupply: "0"}
	if err := s.asset.Restore(empty); err != nil {
		return err
	}
	if err := s.vault.RestoreShares(empty); err != nil {
		return err
	}
	s.holderIndexes = make(map[common.Address]uint32)
	if s.holderTree.LatestVersion() > 0 {
		if err := s.holderTree.Rollback(0); err != nil {
			return fmt.Errorf("rollback holder tree: %w", err)
		}
	}
	for _, mint := range s.config.Genesis {
		holder, err := utils.ParseAddress(mint.Holder)
		if err != nil {
			return err
		}
		amount, err := utils.ParseAmount(mint.Amount, s.asset.Decimals())
		if err != nil {
			return err
		}
		if err = s.asset.Mint(holder, amount); err != nil {
			return err
		}
	}
	logx.Infow("starting from genesis", logx.Field("mints", len(s.config.Genesis)))
	return nil
}

// syncHolderTree rolls a persisted tree back to version, or rebuilds the
// leaves from the restored share ledger when the tree is behind.
func (s *Service) syncHolderTree(version bsmt.Version) error {
	latest := s.holderTree.LatestVersion()
	if latest > version {
		if err := s.holderTree.Rollback(version); err != nil {
			return fmt.Errorf("rollback holder tree to %d: %w", version, err)
		}
		logx.Infof("rollback holder tree to %x", s.holderTree.Root())
		return nil
	}
	if latest == version {
		logx.Info("normal starting...")
		return nil
	}
	logx.Infow("rebuilding holder tree", logx.Field("treeVersion", latest), logx.Field("snapshotVersion", version))
	type leaf struct {
		index uint32
		hash  []byte
	}
	holders := s.sortedHolders()
	leaves := make([]leaf, len(holders))
	workers := 1
	if runtime.NumCPU() > 2 {
		workers = runtime.NumCPU() - 2
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, holder := range holders {
		i, holder := i, holder
		g.Go(func() error {
			leaves[i] = leaf{
				index: s.holderIndexes[holder],
				hash:  utils.HolderLeafHash(holder, s.vault.BalanceOf(holder)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, l := range leaves {
		if err := s.holderTree.Set(uint64(l.index), l.hash); err != nil {
			return err
		}
	}
	if _, err := s.holderTree.Commit(nil); err != nil {
		return err
	}
	return nil
}

func (s *Service) sortedHolders() []common.Address {
	holders := make([]common.Address, 0, len(s.holderIndexes))
	for holder := range s.holderIndexes {
		holders = append(holders, holder)
	}
	sort.Slice(holders, func(i, j int) bool {
		return s.holderIndexes[holders[i]] < s.holderIndexes[holders[j]]
	})
	return holders
}

func (s *Service) runBatch(ctx context.Context, rows []utils.OperationRow) error {
	if err := s.lockBatch(ctx); err != nil {
		return err
	}
	defer s.locker.Unlock()

	height := s.height + 1
	latest, err := s.snapshotModel.GetLatestSnapshot()
	if err != nil && err != utils.DbErrNotFound {
		return err
	}
	if err == nil && latest.Height >= height {
		return fmt.Errorf("batch %d was committed by another instance", latest.Height)
	}
	treeVersion := s.holderTree.LatestVersion()
	touched := make(map[common.Address]struct{})
	ops := make([]Operation, len(rows))
	applied := 0
	for i, row := range rows {
		ops[i] = s.applyOperation(height, s.processedOps+int64(i), row, touched)
		if ops[i].Status == StatusApplied {
			applied++
		}
	}

	holders, err := s.updateHolderTree(touched)
	if err != nil {
		return s.rewind(treeVersion, err)
	}
	newVersion, err := s.holderTree.Commit(nil)
	if err != nil {
		return s.rewind(treeVersion, err)
	}

	processed := s.processedOps + int64(len(rows))
	snapshotData, err := utils.EncodeVaultSnapshot(s.buildSnapshot(height, processed, newVersion))
	if err != nil {
		return s.rewind(treeVersion, err)
	}
	snapshot := Snapshot{
		Height:         height,
		HolderTreeRoot: hex.EncodeToString(s.holderTree.Root()),
		TotalAssets:    utils.AmountToString(s.vault.TotalAssets()),
		TotalSupply:    utils.AmountToString(s.vault.TotalSupply()),
		SnapshotData:   snapshotData,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := NewOperationModel(tx, s.config.DbSuffix).CreateOperations(ops); err != nil {
			return err
		}
		if err := NewHolderModel(tx, s.config.DbSuffix).UpsertHolders(holders); err != nil {
			return err
		}
		return NewSnapshotModel(tx, s.config.DbSuffix).CreateSnapshot(&snapshot)
	})
	if err != nil {
		return s.rewind(treeVersion, fmt.Errorf("persist batch %d: %w", height, err))
	}
	s.height = height
	s.processedOps = processed

	published, err := s.publisher.Flush(ctx)
	if err != nil {
		return fmt.Errorf("publish events of batch %d: %w", height, err)
	}
	logx.Infow("batch committed",
		logx.Field("height", height),
		logx.Field("operations", len(rows)),
		logx.Field("applied", applied),
		logx.Field("events", published),
		logx.Field("holderTreeRoot", snapshot.HolderTreeRoot))
	return nil
}

// rewind drops the effects of a batch that was not persisted: its events,
// its holder tree changes and the ledger state, which is reloaded from the
// latest stored snapshot.
func (s *Service) rewind(version bsmt.Version, cause error) error {
	s.publisher.Discard()
	s.holderTree.Reset()
	if s.holderTree.LatestVersion() > version {
		if err := s.holderTree.Rollback(version); err != nil {
			return errors.Join(cause, fmt.Errorf("rollback holder tree to %d: %w", version, err))
		}
	}
	if err := s.Restore(); err != nil {
		return errors.Join(cause, fmt.Errorf("restore after failed batch: %w", err))
	}
	logx.Errorf("batch %d rewound: %s", s.height+1, cause.Error())
	return cause
}

func (s *Service) lockBatch(ctx context.Context) error {
	for {
		err := s.locker.Lock()
		if !errors.Is(err, utils.GetRedisLockFailed) {
			return err
		}
		logx.Info("get redis lock failed, retry...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// applyOperation executes one row. Rejected rows leave the vault untouched
// and are journaled with the reason.
func (s *Service) applyOperation(height int64, sequence int64, row utils.OperationRow, touched map[common.Address]struct{}) Operation {
	op := Operation{
		OperationId: uuid.NewString(),
		Height:      height,
		Sequence:    sequence,
		Kind:        strings.TrimSpace(row.Op),
		Caller:      strings.TrimSpace(row.Caller),
		Receiver:    strings.TrimSpace(row.Receiver),
		Owner:       strings.TrimSpace(row.Owner),
		Amount:      strings.TrimSpace(row.Amount),
		Status:      StatusApplied,
	}
	assets, shares, changed, err := s.execute(row)
	if err != nil {
		op.Status = StatusRejected
		op.Reason = err.Error()
		return op
	}
	if assets != nil {
		op.Assets = utils.AmountToString(assets)
	}
	if shares != nil {
		op.Shares = utils.AmountToString(shares)
	}
	for _, holder := range changed {
		touched[holder] = struct{}{}
	}
	return op
}

func (s *Service) execute(row utils.OperationRow) (assets *uint256.Int, shares *uint256.Int, changed []common.Address, err error) {
	kind := utils.OperationKind(strings.TrimSpace(row.Op))
	if !kind.Valid() {
		return nil, nil, nil, fmt.Errorf("unknown operation %q", row.Op)
	}
	caller, err := utils.ParseAddress(row.Caller)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("caller: %w", err)
	}
	receiver := caller
	if strings.TrimSpace(row.Receiver) != "" {
		if receiver, err = utils.ParseAddress(row.Receiver); err != nil {
			return nil, nil, nil, fmt.Errorf("receiver: %w", err)
		}
	}
	owner := caller
	if strings.TrimSpace(row.Owner) != "" {
		if owner, err = utils.ParseAddress(row.Owner); err != nil {
			return nil, nil, nil, fmt.Errorf("owner: %w", err)
		}
	}

	decimals := s.vault.Decimals()
	switch kind {
	case utils.OperationDeposit, utils.OperationWithdraw, utils.OperationApproveAsset:
		decimals = s.asset.Decimals()
	}
	var amount *uint256.Int
	if (kind == utils.OperationApprove || kind == utils.OperationApproveAsset) && strings.TrimSpace(row.Amount) == "max" {
		amount = new(uint256.Int).Set(utils.MaxUint256)
	} else if amount, err = utils.ParseAmount(row.Amount, decimals); err != nil {
		return nil, nil, nil, err
	}

	switch kind {
	case utils.OperationDeposit:
		shares, err = s.vault.Deposit(caller, amount, receiver)
		return amount, shares, []common.Address{receiver}, err
	case utils.OperationMint:
		assets, err = s.vault.Mint(caller, amount, receiver)
		return assets, amount, []common.Address{receiver}, err
	case utils.OperationWithdraw:
		shares, err = s.vault.Withdraw(caller, amount, receiver, owner)
		return amount, shares, []common.Address{owner}, err
	case utils.OperationRedeem:
		assets, err = s.vault.Redeem(caller, amount, receiver, owner)
		return assets, amount, []common.Address{owner}, err
	case utils.OperationApprove:
		return nil, amount, nil, s.vault.Approve(caller, receiver, amount)
	case utils.OperationApproveAsset:
		return amount, nil, nil, s.asset.Approve(caller, s.vault.Address(), amount)
	case utils.OperationTransfer:
		return nil, amount, []common.Address{caller, receiver}, s.vault.Transfer(caller, receiver, amount)
	}
	return nil, nil, nil, fmt.Errorf("unknown operation %q", row.Op)
}

// updateHolderTree writes the leaves of every holder whose share balance
// changed and returns the rows to persist. New holders get the next free
// index.
func (s *Service) updateHolderTree(touched map[common.Address]struct{}) ([]Holder, error) {
	addresses := make([]common.Address, 0, len(touched))
	for holder := range touched {
		addresses = append(addresses, holder)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Hex() < addresses[j].Hex()
	})
	holders := make([]Holder, 0, len(addresses))
	for _, holder := range addresses {
		index, ok := s.holderIndexes[holder]
		if !ok {
			if len(s.holderIndexes) >= 1<<utils.HolderTreeDepth {
				return nil, errors.New("holder tree is full")
			}
			index = uint32(len(s.holderIndexes))
			s.holderIndexes[holder] = index
		}
		balance := s.vault.BalanceOf(holder)
		leafHash := utils.HolderLeafHash(holder, balance)
		if err := s.holderTree.Set(uint64(index), leafHash); err != nil {
			return nil, err
		}
		holders = append(holders, Holder{
			Address:     holder.Hex(),
			HolderIndex: index,
			Shares:      utils.AmountToString(balance),
			LeafHash:    hex.EncodeToString(leafHash),
		})
	}
	return holders, nil
}

func (s *Service) buildSnapshot(height int64, processed int64, treeVersion bsmt.Version) *utils.VaultSnapshot {
	snapshot := &utils.VaultSnapshot{
		Height:         height,
		ProcessedOps:   processed,
		Asset:          s.asset.Export(),
		Shares:         s.vault.ExportShares(),
		HolderTreeRoot: s.holderTree.Root(),
		TreeVersion:    uint64(treeVersion),
	}
	for _, holder := range s.sortedHolders() {
		snapshot.HolderIndexes = append(snapshot.HolderIndexes, utils.HolderIndex{
			Holder: holder.Hex(),
			Index:  s.holderIndexes[holder],
		})
	}
	return snapshot
}
