package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultlabs/share-vault/src/utils"
)

func TestExportHolderBalances(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(3)
	s, _ := newTestService(t, db, cfg)

	var empty bytes.Buffer
	require.NoError(t, s.CreateTables())
	n, err := ExportHolderBalances(NewHolderModel(db, cfg.DbSuffix), &empty)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Run(context.Background(), scenarioOps()))
	var buf bytes.Buffer
	n, err = ExportHolderBalances(NewHolderModel(db, cfg.DbSuffix), &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, strings.HasPrefix(buf.String(), "holder_index,address,shares,leaf_hash"))

	rows := []*utils.HolderBalanceRow{}
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, uint32(0), rows[0].HolderIndex)
	assert.Equal(t, alice.Hex(), rows[0].Address)
	assert.Equal(t, "60", rows[0].Shares)
	assert.Equal(t, bob.Hex(), rows[1].Address)
	assert.Equal(t, "165", rows[1].Shares)
	assert.Equal(t, carol.Hex(), rows[2].Address)
}

func TestExportSnapshots(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig(3)
	s, _ := newTestService(t, db, cfg)
	require.NoError(t, s.Run(context.Background(), scenarioOps()))

	var buf bytes.Buffer
	n, err := ExportSnapshots(NewSnapshotModel(db, cfg.DbSuffix), &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows := []*utils.SnapshotRow{}
	require.NoError(t, gocsv.UnmarshalString(buf.String(), &rows))
	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.Equal(t, int64(i), row.Height)
	}
	assert.Equal(t, "60", rows[0].TotalAssets)
	assert.Equal(t, "235", rows[3].TotalSupply)
}
