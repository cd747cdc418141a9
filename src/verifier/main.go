package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon"
	"github.com/gocarina/gocsv"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/vaultlabs/share-vault/src/holderproof/model"
	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/verifier/config"
)

func main() {
	holderFlag := flag.Bool("holder", false, "flag which indicates holder proof verification")
	hashFlag := flag.Bool("hash", false, "flag which indicates hash command")
	configFile := flag.String("config", "config/verifier_config.json", "the verifier config file")
	holderConfigFile := flag.String("holder_config", "config/holder_config.json", "the holder proof file")
	flag.Parse()
	if *holderFlag {
		holderConfig := &model.HolderConfig{}
		content, err := os.ReadFile(*holderConfigFile)
		if err != nil {
			panic(err.Error())
		}
		err = json.Unmarshal(content, holderConfig)
		if err != nil {
			panic(err.Error())
		}
		holder, err := utils.ParseAddress(holderConfig.Address)
		if err != nil {
			panic(err.Error())
		}
		shares, err := utils.AmountFromString(holderConfig.Shares)
		if err != nil {
			panic(err.Error())
		}
		leafHash := utils.HolderLeafHash(holder, shares)
		fmt.Println("holder merkle leave hash base64 encode: ", base64.StdEncoding.EncodeToString(leafHash))
		fmt.Printf("holder merkle leave hash hex encode: %x\n", leafHash)
		verifyFlag, err := holderConfig.Verify()
		if err != nil {
			panic(err.Error())
		}
		if verifyFlag {
			fmt.Println("verify pass!!!")
		} else {
			fmt.Println("verify failed...")
		}
	} else if *hashFlag {
		args := flag.Args()
		if len(args) != 2 {
			panic("invalid hash command, it needs two arguments")
		}
		res, err := HashNodes(args[0], args[1])
		if err != nil {
			panic(err.Error())
		}
		fmt.Printf("hash result base64 encode: %s\n", base64.StdEncoding.EncodeToString(res))
		fmt.Printf("hash result hex encode: %x\n", res)
	} else {
		verifierConfig := &config.Config{}
		content, err := os.ReadFile(*configFile)
		if err != nil {
			panic(err.Error())
		}
		err = json.Unmarshal(content, verifierConfig)
		if err != nil {
			panic(err.Error())
		}
		snapshots := []*utils.SnapshotRow{}
		if err = unmarshalCsvFile(verifierConfig.SnapshotTable, &snapshots); err != nil {
			panic(err.Error())
		}
		balances := []*utils.HolderBalanceRow{}
		if err = unmarshalCsvFile(verifierConfig.BalanceTable, &balances); err != nil {
			panic(err.Error())
		}
		root, err := VerifyBalances(snapshots, balances)
		if err != nil {
			fmt.Println("verify failed:", err.Error())
			os.Exit(1)
		}
		fmt.Printf("holder merkle tree root is %x\n", root)
		fmt.Println("All balances verify passed!!!")
	}
}

func unmarshalCsvFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.UnmarshalFile(f, out)
}

// HashNodes hashes two base64 encoded tree nodes the way inner nodes of the
// holder tree are built.
func HashNodes(left string, right string) ([]byte, error) {
	p0, err := base64.StdEncoding.DecodeString(left)
	if err != nil {
		return nil, errors.New("invalid hash command, the first argument is not base64 encoded")
	}
	p1, err := base64.StdEncoding.DecodeString(right)
	if err != nil {
		return nil, errors.New("invalid hash command, the second argument is not base64 encoded")
	}
	hasher := poseidon.NewPoseidon()
	hasher.Write(p0)
	hasher.Write(p1)
	return hasher.Sum(nil), nil
}

// VerifyBalances checks an exported holder balance table against the last
// exported snapshot: every leaf hash must match its holder and balance, the
// balances must add up to the share supply and the rebuilt tree must have
// the committed root.
func VerifyBalances(snapshots []*utils.SnapshotRow, balances []*utils.HolderBalanceRow) ([]byte, error) {
	if len(snapshots) == 0 {
		return nil, errors.New("no snapshot")
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Height < snapshots[j].Height })
	for i, s := range snapshots {
		if s.Height != int64(i) {
			return nil, fmt.Errorf("snapshot height %d missing", i)
		}
		if _, err := utils.AmountFromString(s.TotalAssets); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.Height, err)
		}
		if _, err := utils.AmountFromString(s.TotalSupply); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.Height, err)
		}
	}
	final := snapshots[len(snapshots)-1]
	expectedRoot, err := hex.DecodeString(final.HolderTreeRoot)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d root: %w", final.Height, err)
	}

	leaves := make([][]byte, len(balances))
	shares := make([]*uint256.Int, len(balances))
	workers := runtime.NumCPU()
	var g errgroup.Group
	g.SetLimit(workers)
	for i, row := range balances {
		i, row := i, row
		g.Go(func() error {
			holder, err := utils.ParseAddress(row.Address)
			if err != nil {
				return err
			}
			amount, err := utils.AmountFromString(row.Shares)
			if err != nil {
				return fmt.Errorf("holder %s: %w", row.Address, err)
			}
			leaf := utils.HolderLeafHash(holder, amount)
			if hex.EncodeToString(leaf) != row.LeafHash {
				return fmt.Errorf("holder %s leaf hash mismatch", row.Address)
			}
			leaves[i] = leaf
			shares[i] = amount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := new(uint256.Int)
	seen := make(map[uint32]bool, len(balances))
	tree, err := utils.NewHolderTree("memory", "")
	if err != nil {
		return nil, err
	}
	for i, row := range balances {
		if seen[row.HolderIndex] {
			return nil, fmt.Errorf("holder index %d used twice", row.HolderIndex)
		}
		seen[row.HolderIndex] = true
		var overflow bool
		if sum, overflow = new(uint256.Int).AddOverflow(sum, shares[i]); overflow {
			return nil, utils.ErrMathOverflow
		}
		if err = tree.Set(uint64(row.HolderIndex), leaves[i]); err != nil {
			return nil, err
		}
	}
	if _, err = tree.Commit(nil); err != nil {
		return nil, err
	}
	if utils.AmountToString(sum) != final.TotalSupply {
		return nil, fmt.Errorf("holder shares sum to %s, total supply is %s", utils.AmountToString(sum), final.TotalSupply)
	}
	if !bytes.Equal(tree.Root(), expectedRoot) {
		return nil, fmt.Errorf("holder tree root %x does not match snapshot root %x", tree.Root(), expectedRoot)
	}
	return tree.Root(), nil
}
