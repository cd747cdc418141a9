package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	bsmt "github.com/bnb-chain/zkbnb-smt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/vaultlabs/share-vault/src/holderproof/config"
	"github.com/vaultlabs/share-vault/src/holderproof/model"
	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/service"
)

type Job struct {
	holder service.Holder
	leaf   []byte
	proof  [][]byte
}

func main() {
	configFile := flag.String("config", "config/config.json", "the config file")
	memoryTreeFlag := flag.Bool("memory_tree", false, "construct memory merkle tree from the holder table")
	remotePasswdConfig := flag.String("remote_password_config", "", "fetch password from aws secretsmanager")
	exportAddress := flag.String("export", "", "write the proof of this holder to export_file once proofs are generated")
	exportFile := flag.String("export_file", "config/holder_config.json", "the holder proof file written by -export")
	flag.Parse()
	proofConfig := &config.Config{}
	conf.MustLoad(*configFile, proofConfig, conf.UseEnv())
	if *remotePasswdConfig != "" {
		s, err := utils.GetMysqlSource(proofConfig.MysqlDataSource, *remotePasswdConfig)
		if err != nil {
			panic(err.Error())
		}
		proofConfig.MysqlDataSource = s
	}
	db, err := service.OpenDatabase(proofConfig.MysqlDataSource)
	if err != nil {
		panic(err.Error())
	}
	holderModel := service.NewHolderModel(db, proofConfig.DbSuffix)
	snapshotModel := service.NewSnapshotModel(db, proofConfig.DbSuffix)

	holders := LoadHolders(holderModel)
	fmt.Println("total holders num", len(holders))
	if *memoryTreeFlag {
		ComputeHolderRootHash(holders)
		return
	}

	var latest *service.Snapshot
	for {
		latest, err = snapshotModel.GetLatestSnapshot()
		if err == utils.DbErrQueryInterrupted || err == utils.DbErrQueryTimeout {
			fmt.Println("get latest snapshot timeout, retry...:", err.Error())
			time.Sleep(1 * time.Second)
			continue
		}
		break
	}
	if err != nil {
		panic(err.Error())
	}
	holderTree, err := utils.NewHolderTree(proofConfig.TreeDB.Driver, proofConfig.TreeDB.Option.Addr)
	if err != nil {
		panic(err.Error())
	}
	root := hex.EncodeToString(holderTree.Root())
	if root != latest.HolderTreeRoot {
		fmt.Println("holder tree root actual:expected", root, latest.HolderTreeRoot)
		panic("holder tree is not at the latest snapshot")
	}

	proofModel := model.NewHolderProofModel(db, proofConfig.DbSuffix)
	if err = proofModel.CreateHolderProofTable(); err != nil {
		panic(err.Error())
	}
	generated, err := GenerateProofs(holderTree, holders, proofModel, latest.Height, proofConfig.Workers)
	if err != nil {
		panic(err.Error())
	}
	fmt.Println("generated", generated, "holder proofs at height", latest.Height)
	if *exportAddress != "" {
		if err = ExportHolderConfig(proofModel, latest.Height, *exportAddress, *exportFile); err != nil {
			panic(err.Error())
		}
		fmt.Println("holder proof of", *exportAddress, "written to", *exportFile)
	}
	fmt.Println("holderproof service run finished...")
}

// PendingHolders drops the holders whose proof is already stored.
func PendingHolders(holders []service.Holder, stored []uint32) []service.Holder {
	done := make(map[uint32]struct{}, len(stored))
	for _, idx := range stored {
		done[idx] = struct{}{}
	}
	pending := make([]service.Holder, 0, len(holders))
	for _, h := range holders {
		if _, ok := done[h.HolderIndex]; !ok {
			pending = append(pending, h)
		}
	}
	return pending
}

// GenerateProofs stores the proof of every holder that has none at height
// yet and returns how many were written.
func GenerateProofs(holderTree bsmt.SparseMerkleTree, holders []service.Holder, proofModel model.HolderProofModel,
	height int64, workers int) (int, error) {
	stored, err := proofModel.GetHolderProofIndexesByHeight(height)
	if err != nil {
		return 0, err
	}
	pending := PendingHolders(holders, stored)
	fmt.Println("proofs already generated at height", height, len(stored), "pending", len(pending))
	if len(pending) == 0 {
		return 0, nil
	}

	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan Job, 1000)
	nums := make(chan int, workers)
	results := make(chan *model.HolderProof, 1000)
	for i := 0; i < workers; i++ {
		go worker(jobs, results, nums, height, holderTree.Root())
	}
	quit := make(chan int, 1)
	go WriteDB(results, proofModel, quit, len(stored))

	var jobErr error
	for _, h := range pending {
		leaf, err := holderTree.Get(uint64(h.HolderIndex), nil)
		if err != nil {
			jobErr = err
			break
		}
		proof, err := holderTree.GetProof(uint64(h.HolderIndex))
		if err != nil {
			jobErr = err
			break
		}
		jobs <- Job{holder: h, leaf: leaf, proof: proof}
	}
	close(jobs)
	totalCounts := 0
	for i := 0; i < workers; i++ {
		totalCounts += <-nums
	}
	close(results)
	<-quit
	if jobErr != nil {
		return totalCounts, jobErr
	}
	if totalCounts != len(pending) {
		return totalCounts, fmt.Errorf("generated %d proofs, expected %d", totalCounts, len(pending))
	}
	return totalCounts, nil
}

// ExportHolderConfig writes the stored proof config of address at height to
// path, in the form the verifier reads with -holder.
func ExportHolderConfig(proofModel model.HolderProofModel, height int64, address string, path string) error {
	holder, err := utils.ParseAddress(address)
	if err != nil {
		return err
	}
	p, err := proofModel.GetHolderProofByAddress(height, holder.Hex())
	if err != nil {
		return fmt.Errorf("holder %s at height %d: %w", holder.Hex(), height, err)
	}
	return os.WriteFile(path, []byte(p.Config), 0o644)
}

// LoadHolders reads the holder table ordered by holder index.
func LoadHolders(holderModel service.HolderModel) []service.Holder {
	var holders []service.Holder
	pageSize := 1000
	for offset := 0; ; offset += pageSize {
		page, err := holderModel.GetHolders(pageSize, offset)
		if err == utils.DbErrNotFound {
			break
		}
		if err != nil {
			panic(err.Error())
		}
		holders = append(holders, page...)
		if len(page) < pageSize {
			break
		}
	}
	return holders
}

func ComputeHolderRootHash(holders []service.Holder) {
	holderTree, err := utils.NewHolderTree("memory", "")
	if err != nil {
		panic(err.Error())
	}
	fmt.Printf("empty holder tree root is %x\n", holderTree.Root())
	startTime := time.Now().UnixMilli()
	for _, h := range holders {
		leaf, err := hex.DecodeString(h.LeafHash)
		if err != nil {
			panic(err.Error())
		}
		if err = holderTree.Set(uint64(h.HolderIndex), leaf); err != nil {
			panic(err.Error())
		}
	}
	if _, err = holderTree.Commit(nil); err != nil {
		panic(err.Error())
	}
	endTime := time.Now().UnixMilli()
	logx.Infow("holder tree generated", logx.Field("holders", len(holders)), logx.Field("costMs", endTime-startTime))
	fmt.Printf("holder tree root %x\n", holderTree.Root())
}

func WriteDB(results <-chan *model.HolderProof, proofModel model.HolderProofModel, quit chan<- int, currentCounts int) {
	index := 0
	proofs := make([]model.HolderProof, 100)
	num := currentCounts
	for proof := range results {
		proofs[index] = *proof
		index += 1
		if index%100 == 0 {
			err := proofModel.CreateHolderProofs(proofs)
			if err != nil {
				panic(err.Error())
			}
			num += 100
			if num%100000 == 0 {
				fmt.Println("write ", num, "proof to db")
			}
			index = 0
		}
	}
	proofs = proofs[:index]
	if index > 0 {
		fmt.Println("write ", len(proofs), "proofs to db")
		if err := proofModel.CreateHolderProofs(proofs); err != nil {
			panic(err.Error())
		}
		num += index
	}
	fmt.Println("total write ", num)
	quit <- 0
}

func worker(jobs <-chan Job, results chan<- *model.HolderProof, nums chan<- int, height int64, root []byte) {
	num := 0
	for job := range jobs {
		shares, err := utils.AmountFromString(job.holder.Shares)
		if err != nil {
			panic(err.Error())
		}
		holderProof, err := model.NewHolderProof(height, job.holder.HolderIndex,
			common.HexToAddress(job.holder.Address), shares, job.leaf, job.proof, root)
		if err != nil {
			panic(err.Error())
		}
		results <- holderProof
		num += 1
	}
	nums <- num
}
