package utils

type OperationKind string

const (
	OperationDeposit  OperationKind = "deposit"
	OperationMint     OperationKind = "mint"
	OperationWithdraw OperationKind = "withdraw"
	OperationRedeem   OperationKind = "redeem"
	// share allowance from caller to receiver
	OperationApprove OperationKind = "approve"
	// asset allowance from caller to the vault
	OperationApproveAsset OperationKind = "approve_asset"
	// share transfer from caller to receiver
	OperationTransfer OperationKind = "transfer"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OperationDeposit, OperationMint, OperationWithdraw, OperationRedeem,
		OperationApprove, OperationApproveAsset, OperationTransfer:
		return true
	}
	return false
}

// OperationRow is one line of an operation batch file. Amount is written in
// whole tokens: assets for deposit, withdraw and approve_asset, shares for
// the rest. Approvals also accept "max".
type OperationRow struct {
	Op       string `csv:"op"`
	Caller   string `csv:"caller"`
	Receiver string `csv:"receiver"`
	Owner    string `csv:"owner"`
	Amount   string `csv:"amount"`
}

// HolderBalanceRow is the export format of dbtool -export_balances.
type HolderBalanceRow struct {
	HolderIndex uint32 `csv:"holder_index"`
	Address     string `csv:"address"`
	Shares      string `csv:"shares"`
	LeafHash    string `csv:"leaf_hash"`
}

// SnapshotRow is the export format of dbtool -export_snapshots.
type SnapshotRow struct {
	Height         int64  `csv:"height"`
	HolderTreeRoot string `csv:"holder_tree_root"`
	TotalAssets    string `csv:"total_assets"`
	TotalSupply    string `csv:"total_supply"`
}

// Amounts in snapshots are decimal strings of base units.
type LedgerEntry struct {
	Holder string
	Amount string
}

type AllowanceEntry struct {
	Owner   string
	Spender string
	Amount  string
}

type LedgerState struct {
	TotalSupply string
	Balances    []LedgerEntry
	Allowances  []AllowanceEntry
}

type HolderIndex struct {
	Holder string
	Index  uint32
}

type VaultSnapshot struct {
	Height         int64
	ProcessedOps   int64
	TreeVersion    uint64
	Asset          LedgerState
	Shares         LedgerState
	HolderIndexes  []HolderIndex
	HolderTreeRoot []byte
}
