package service

import (
	"io"

	"github.com/gocarina/gocsv"

	"github.com/vaultlabs/share-vault/src/utils"
)

const exportPageSize = 1000

// ExportHolderBalances writes every holder row as CSV ordered by holder
// index and returns the number of rows written.
func ExportHolderBalances(model HolderModel, w io.Writer) (int, error) {
	rows := []*utils.HolderBalanceRow{}
	for offset := 0; ; offset += exportPageSize {
		holders, err := model.GetHolders(exportPageSize, offset)
		if err == utils.DbErrNotFound {
			break
		}
		if err != nil {
			return 0, err
		}
		for _, h := range holders {
			rows = append(rows, &utils.HolderBalanceRow{
				HolderIndex: h.HolderIndex,
				Address:     h.Address,
				Shares:      h.Shares,
				LeafHash:    h.LeafHash,
			})
		}
		if len(holders) < exportPageSize {
			break
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ExportSnapshots writes the root and totals of every snapshot as CSV
// ordered by height.
func ExportSnapshots(model SnapshotModel, w io.Writer) (int, error) {
	rows := []*utils.SnapshotRow{}
	for offset := 0; ; offset += exportPageSize {
		snapshots, err := model.GetSnapshots(exportPageSize, offset)
		if err == utils.DbErrNotFound {
			break
		}
		if err != nil {
			return 0, err
		}
		for _, s := range snapshots {
			rows = append(rows, &utils.SnapshotRow{
				Height:         s.Height,
				HolderTreeRoot: s.HolderTreeRoot,
				TotalAssets:    s.TotalAssets,
				TotalSupply:    s.TotalSupply,
			})
		}
		if len(snapshots) < exportPageSize {
			break
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return 0, err
	}
	return len(rows), nil
}
