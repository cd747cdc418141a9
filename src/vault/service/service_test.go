package service

import (
	"context"
	"encoding/hex"
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
	"github.com/vaultlabs/share-vault/src/vault/config"
	"github.com/vaultlabs/share-vault/src/vault/vault"
)

const (
	vaultHex = "0x000000000000000000000000000000000000a4a7"
	aliceHex = "0x00000000000000000000000000000000000a11ce"
	bobHex   = "0x0000000000000000000000000000000000000b0b"
	carolHex = "0x00000000000000000000000000000000000ca201"
)

var (
	alice = common.HexToAddress(aliceHex)
	bob   = common.HexToAddress(bobHex)
	carol = common.HexToAddress(carolHex)
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testConfig(batchSize int) *config.Config {
	return &config.Config{
		DbSuffix:  "test",
		BatchSize: batchSize,
		Vault: config.VaultConf{
			Address: vaultHex,
			Name:    "Share Vault",
			Symbol:  "sVLT",
		},
		Asset: config.AssetConf{
			Name:   "Mock USD",
			Symbol: "mUSD",
		},
		Genesis: []config.GenesisMint{
			{Holder: aliceHex, Amount: "1000"},
			{Holder: bobHex, Amount: "1000"},
		},
	}
}

func scenarioOps() []utils.OperationRow {
	return []utils.OperationRow{
		{Op: "approve_asset", Caller: aliceHex, Amount: "max"},
		{Op: "deposit", Caller: aliceHex, Receiver: aliceHex, Amount: "100"},
		{Op: "redeem", Caller: aliceHex, Receiver: aliceHex, Owner: aliceHex, Amount: "40"},
		{Op: "approve_asset", Caller: bobHex, Amount: "250"},
		{Op: "mint", Caller: bobHex, Receiver: bobHex, Amount: "200"},
		{Op: "approve", Caller: bobHex, Receiver: aliceHex, Amount: "50"},
		{Op: "withdraw", Caller: aliceHex, Receiver: aliceHex, Owner: bobHex, Amount: "25"},
		{Op: "transfer", Caller: bobHex, Receiver: carolHex, Amount: "10"},
		{Op: "redeem", Caller: carolHex, Receiver: carolHex, Owner: carolHex, Amount: "100"},
		{Op: "deposit", Caller: carolHex, Receiver: carolHex, Amount: "5"},
	}
}

func newTestService(t *testing.T, db *gorm.DB, cfg *config.Config) (*Service, *MemoryEventPublisher) {
	tree, err := utils.NewHolderTree("memory", "")
	require.NoError(t, err)
	publisher := &MemoryEventPublisher{}
	s, err := NewService(db, tree, cfg, publisher, NewNopLocker())
	require.NoError(t, err)
	return s, publisher
}

func TestServiceRun(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(3)
	s, publisher := newTestService(t, db, cfg)
	require.NoError(t, s.Run(context.Background(), scenarioOps()))

	v := s.Vault()
	assert.Equal(t, uint64(60), v.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(165), v.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(10), v.BalanceOf(carol).Uint64())
	assert.Equal(t, uint64(25), v.Allowance(bob, alice).Uint64())
	assert.Equal(t, uint64(965), s.Asset().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(800), s.Asset().BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(235), v.TotalSupply().Uint64())
	assert.True(t, v.TotalAssets().Eq(s.Asset().BalanceOf(v.Address())))
	assert.Equal(t, uint64(235), v.TotalAssets().Uint64())
	assert.Equal(t, int64(3), s.Height())
	assert.Equal(t, int64(10), s.ProcessedOps())
	assert.Len(t, publisher.Published(), 10)

	counts, err := NewOperationModel(db, cfg.DbSuffix).GetRowCounts()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 8, 2}, counts)

	lastBatch, err := NewOperationModel(db, cfg.DbSuffix).GetOperationsByHeight(3)
	require.NoError(t, err)
	require.Len(t, lastBatch, 1)
	assert.Equal(t, int64(StatusRejected), lastBatch[0].Status)
	assert.Contains(t, lastBatch[0].Reason, utils.ErrInsufficientAllowanceOrBalance.Error())

	deposits, err := NewOperationModel(db, cfg.DbSuffix).GetOperationsByHeight(0)
	require.NoError(t, err)
	require.Len(t, deposits, 3)
	assert.Equal(t, "100", deposits[1].Assets)
	assert.Equal(t, "100", deposits[1].Shares)
	assert.Equal(t, "40", deposits[2].Assets)

	snapshot, err := NewSnapshotModel(db, cfg.DbSuffix).GetLatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(3), snapshot.Height)
	assert.Equal(t, "235", snapshot.TotalAssets)
	assert.Equal(t, "235", snapshot.TotalSupply)
	assert.Equal(t, hex.EncodeToString(s.HolderTree().Root()), snapshot.HolderTreeRoot)

	holder, err := NewHolderModel(db, cfg.DbSuffix).GetHolderByAddress(alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, "60", holder.Shares)
	proof, err := s.HolderTree().GetProof(uint64(holder.HolderIndex))
	require.NoError(t, err)
	leaf := utils.HolderLeafHash(alice, uint256.NewInt(60))
	assert.Equal(t, hex.EncodeToString(leaf), holder.LeafHash)
	assert.True(t, utils.VerifyMerkleProof(s.HolderTree().Root(), holder.HolderIndex, proof, leaf))

	holderCount, err := NewHolderModel(db, cfg.DbSuffix).GetHolderCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), holderCount)
}

func TestServiceResume(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(2)
	ops := scenarioOps()

	first, _ := newTestService(t, db, cfg)
	require.NoError(t, first.Run(context.Background(), ops[:5]))
	assert.Equal(t, int64(2), first.Height())
	assert.Equal(t, int64(5), first.ProcessedOps())
	rootAfterFirst := append([]byte{}, first.HolderTree().Root()...)

	// a fresh memory tree is rebuilt from the snapshot
	second, publisher := newTestService(t, db, cfg)
	require.NoError(t, second.Restore())
	assert.Equal(t, rootAfterFirst, second.HolderTree().Root())
	assert.Equal(t, uint64(200), second.Vault().BalanceOf(bob).Uint64())

	require.NoError(t, second.Run(context.Background(), ops))
	assert.Equal(t, int64(10), second.ProcessedOps())
	assert.Equal(t, uint64(60), second.Vault().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(165), second.Vault().BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(235), second.Vault().TotalAssets().Uint64())
	// approve, withdraw and transfer events only
	assert.Len(t, publisher.Published(), 4)

	counts, err := NewOperationModel(db, cfg.DbSuffix).GetRowCounts()
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts[0])

	// nothing left to apply
	third, _ := newTestService(t, db, cfg)
	require.NoError(t, third.Run(context.Background(), ops))
	assert.Equal(t, second.Height(), third.Height())
	assert.Equal(t, second.HolderTree().Root(), third.HolderTree().Root())
}

func TestServiceRewindsFailedBatch(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(10)
	ops := scenarioOps()
	ctx := context.Background()
	s, publisher := newTestService(t, db, cfg)
	require.NoError(t, s.Run(ctx, ops[:3]))
	published := len(publisher.Published())
	root := append([]byte{}, s.HolderTree().Root()...)

	operationModel := NewOperationModel(db, cfg.DbSuffix)
	require.NoError(t, operationModel.DropOperationTable())
	err := s.runBatch(ctx, ops[3:5])
	require.Error(t, err)

	assert.Equal(t, int64(0), s.Height())
	assert.Equal(t, int64(3), s.ProcessedOps())
	assert.True(t, s.Vault().BalanceOf(bob).IsZero())
	assert.Equal(t, uint64(1000), s.Asset().BalanceOf(bob).Uint64())
	assert.True(t, s.Asset().Allowance(bob, s.Vault().Address()).IsZero())
	assert.Equal(t, uint64(60), s.Vault().TotalSupply().Uint64())
	assert.Equal(t, root, s.HolderTree().Root())
	assert.Len(t, s.holderIndexes, 1)
	assert.Len(t, publisher.Published(), published)

	// the same service carries on once the database is back
	require.NoError(t, s.Run(ctx, ops))
	assert.Equal(t, int64(1), s.Height())
	assert.Equal(t, uint64(60), s.Vault().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(165), s.Vault().BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(10), s.Vault().BalanceOf(carol).Uint64())
	assert.Equal(t, uint64(235), s.Vault().TotalAssets().Uint64())
	holder, err := NewHolderModel(db, cfg.DbSuffix).GetHolderByAddress(bob.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), holder.HolderIndex)
	snapshot, err := NewSnapshotModel(db, cfg.DbSuffix).GetLatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(s.HolderTree().Root()), snapshot.HolderTreeRoot)
}

func TestServiceRewindsFailedFirstBatch(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(10)
	s, publisher := newTestService(t, db, cfg)
	require.NoError(t, s.CreateTables())
	require.NoError(t, s.Restore())
	require.NoError(t, NewOperationModel(db, cfg.DbSuffix).DropOperationTable())

	require.Error(t, s.runBatch(context.Background(), scenarioOps()[:2]))
	assert.Equal(t, int64(-1), s.Height())
	assert.True(t, s.Vault().TotalSupply().IsZero())
	// genesis is minted once, not again on top of the failed batch
	assert.Equal(t, uint64(1000), s.Asset().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(2000), s.Asset().TotalSupply().Uint64())
	assert.Empty(t, s.holderIndexes)
	assert.Empty(t, publisher.Published())
}

func TestServiceRejectsMalformedRows(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(10)
	s, publisher := newTestService(t, db, cfg)
	ops := []utils.OperationRow{
		{Op: "swap", Caller: aliceHex, Amount: "1"},
		{Op: "deposit", Caller: "alice", Amount: "1"},
		{Op: "deposit", Caller: aliceHex, Amount: "1.5"},
		{Op: "deposit", Caller: aliceHex, Amount: "0"},
		{Op: "mint", Caller: aliceHex, Receiver: aliceHex, Amount: "10"},
	}
	require.NoError(t, s.Run(context.Background(), ops))

	journal, err := NewOperationModel(db, cfg.DbSuffix).GetOperationsByHeight(0)
	require.NoError(t, err)
	require.Len(t, journal, 5)
	for _, op := range journal {
		assert.Equal(t, int64(StatusRejected), op.Status, op.Kind)
		assert.NotEmpty(t, op.Reason)
	}
	assert.Contains(t, journal[3].Reason, utils.ErrZeroAmount.Error())
	assert.Contains(t, journal[4].Reason, utils.ErrInsufficientAllowanceOrBalance.Error())
	assert.True(t, s.Vault().TotalSupply().IsZero())
	assert.Empty(t, publisher.Published())

	_, err = NewHolderModel(db, cfg.DbSuffix).GetHolders(10, 0)
	assert.ErrorIs(t, err, utils.DbErrNotFound)
}

func TestMemoryEventPublisher(t *testing.T) {
	p := &MemoryEventPublisher{}
	p.Emit(vault.Event{Kind: vault.EventDeposit})
	p.Discard()
	p.Emit(vault.Event{Kind: vault.EventWithdraw})
	n, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, vault.EventWithdraw, p.Published()[0].Kind)
}
