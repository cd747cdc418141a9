package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/zeromicro/go-zero/core/conf"

	"github.com/vaultlabs/share-vault/src/dbtool/config"
	"github.com/vaultlabs/share-vault/src/holderproof/model"
	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/service"
)

type vaultSummary struct {
	Height         int64
	ProcessedOps   int64
	TotalAssets    string
	TotalSupply    string
	HolderTreeRoot string
	Holders        int
}

func main() {
	configFile := flag.String("config", "config/config.json", "the config file")
	onlyFlushKvrocks := flag.Bool("only_delete_kvrocks", false, "only delete the holder tree store")
	onlyFlushQueue := flag.Bool("only_flush_queue", false, "only delete the vault event queue")
	deleteAllData := flag.Bool("delete_all", false, "delete kvrocks, event queue and mysql data")
	checkStatus := flag.Bool("check_status", false, "check vault journal status")
	remotePasswdConfig := flag.String("remote_password_config", "", "fetch password from aws secretsmanager")
	exportBalances := flag.String("export_balances", "", "export holder share balances to a csv file")
	exportSnapshots := flag.String("export_snapshots", "", "export snapshot roots to a csv file")
	queryVault := flag.Bool("query_vault", false, "query the latest vault state")
	flag.Parse()

	dbtoolConfig := &config.Config{}
	conf.MustLoad(*configFile, dbtoolConfig, conf.UseEnv())

	if *remotePasswdConfig != "" {
		s, err := utils.GetMysqlSource(dbtoolConfig.MysqlDataSource, *remotePasswdConfig)
		if err != nil {
			panic(err.Error())
		}
		dbtoolConfig.MysqlDataSource = s
	}
	needDB := *deleteAllData || *checkStatus || *exportBalances != "" || *exportSnapshots != "" || *queryVault
	if !needDB && !*onlyFlushKvrocks && !*onlyFlushQueue {
		flag.Usage()
		return
	}

	operationModel, holderModel, snapshotModel, holderProofModel := openModels(dbtoolConfig, needDB)

	if *deleteAllData {
		err := operationModel.DropOperationTable()
		if err != nil {
			fmt.Println("drop operation table failed")
			panic(err.Error())
		}
		fmt.Println("drop operation table successfully")

		err = holderModel.DropHolderTable()
		if err != nil {
			fmt.Println("drop holder table failed")
			panic(err.Error())
		}
		fmt.Println("drop holder table successfully")

		err = snapshotModel.DropSnapshotTable()
		if err != nil {
			fmt.Println("drop snapshot table failed")
			panic(err.Error())
		}
		fmt.Println("drop snapshot table successfully")

		err = holderProofModel.DropHolderProofTable()
		if err != nil {
			fmt.Println("drop holder proof table failed")
			panic(err.Error())
		}
		fmt.Println("drop holder proof table successfully")
	}

	if *deleteAllData || *onlyFlushKvrocks {
		if dbtoolConfig.TreeDB.Driver != "redis" {
			fmt.Println("holder tree is kept in memory, nothing to delete")
		} else {
			client := service.NewRedisClient(dbtoolConfig.TreeDB.Option.Addr, "")
			err := client.FlushAll(context.Background()).Err()
			client.Close()
			if err != nil {
				panic(err.Error())
			}
			fmt.Println("kvrocks data drop successfully")
		}
	}

	if *deleteAllData || *onlyFlushQueue {
		if dbtoolConfig.Redis.Host == "" {
			fmt.Println("no redis configured, nothing to flush")
		} else {
			client := service.NewRedisClient(dbtoolConfig.Redis.Host, dbtoolConfig.Redis.Password)
			n, err := client.Del(context.Background(), dbtoolConfig.EventQueue).Result()
			client.Close()
			if err != nil {
				panic(err.Error())
			}
			fmt.Printf("event queue %s deleted (%d keys)\n", dbtoolConfig.EventQueue, n)
		}
	}

	if *checkStatus {
		counts, err := operationModel.GetRowCounts()
		if err != nil {
			panic(err.Error())
		}
		fmt.Printf("Total operation item %d, Applied item %d, Rejected item %d\n", counts[0], counts[1], counts[2])
		holderCount, err := holderModel.GetHolderCount()
		if err != nil {
			panic(err.Error())
		}
		proofCount, err := holderProofModel.GetHolderProofCount()
		if err != nil {
			panic(err.Error())
		}
		fmt.Printf("Total holder %d, holder proofs %d\n", holderCount, proofCount)
		latest, err := snapshotModel.GetLatestSnapshot()
		if err == utils.DbErrNotFound {
			fmt.Println("no snapshot committed yet")
		} else if err != nil {
			panic(err.Error())
		} else {
			fmt.Printf("Latest snapshot height %d, holder tree root %s\n", latest.Height, latest.HolderTreeRoot)
		}
		if dbtoolConfig.Redis.Host != "" {
			client := service.NewRedisClient(dbtoolConfig.Redis.Host, dbtoolConfig.Redis.Password)
			pending, err := client.LLen(context.Background(), dbtoolConfig.EventQueue).Result()
			client.Close()
			if err != nil {
				panic(err.Error())
			}
			fmt.Printf("Pending events in %s: %d\n", dbtoolConfig.EventQueue, pending)
		}
	}

	if *exportBalances != "" {
		f, err := os.Create(*exportBalances)
		if err != nil {
			panic(err.Error())
		}
		n, err := service.ExportHolderBalances(holderModel, f)
		f.Close()
		if err != nil {
			panic(err.Error())
		}
		fmt.Printf("export %d holder balances to %s\n", n, *exportBalances)
	}

	if *exportSnapshots != "" {
		f, err := os.Create(*exportSnapshots)
		if err != nil {
			panic(err.Error())
		}
		n, err := service.ExportSnapshots(snapshotModel, f)
		f.Close()
		if err != nil {
			panic(err.Error())
		}
		fmt.Printf("export %d snapshots to %s\n", n, *exportSnapshots)
	}

	if *queryVault {
		latest, err := snapshotModel.GetLatestSnapshot()
		if err != nil {
			panic(err.Error())
		}
		snapshot, err := utils.DecodeVaultSnapshot(latest.SnapshotData)
		if err != nil {
			panic(err.Error())
		}
		summary := vaultSummary{
			Height:         snapshot.Height,
			ProcessedOps:   snapshot.ProcessedOps,
			TotalAssets:    latest.TotalAssets,
			TotalSupply:    latest.TotalSupply,
			HolderTreeRoot: latest.HolderTreeRoot,
			Holders:        len(snapshot.HolderIndexes),
		}
		summaryBytes, _ := json.Marshal(summary)
		fmt.Println(string(summaryBytes))
	}
}

func openModels(c *config.Config, needDB bool) (service.OperationModel, service.HolderModel, service.SnapshotModel, model.HolderProofModel) {
	if !needDB {
		return nil, nil, nil, nil
	}
	db, err := service.OpenDatabase(c.MysqlDataSource)
	if err != nil {
		panic(err.Error())
	}
	return service.NewOperationModel(db, c.DbSuffix),
		service.NewHolderModel(db, c.DbSuffix),
		service.NewSnapshotModel(db, c.DbSuffix),
		model.NewHolderProofModel(db, c.DbSuffix)
}
