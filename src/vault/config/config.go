package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/vaultlabs/share-vault/src/utils"
	"github.com/vaultlabs/share-vault/src/vault/vault"
)

// secret entries that are exported to the environment before the config
// file is expanded
var secretEnvNames = map[string]string{
	"project_id":        "PROJECT_ID",
	"private_key":       "PRIVATE_KEY",
	"etherscan_api_key": "ETHERSCAN_API_KEY",
}

type Config struct {
	MysqlDataSource string
	DbSuffix        string `json:",optional"`
	OperationFile   string
	BatchSize       int `json:",default=100"`
	Vault           VaultConf
	Asset           AssetConf
	Genesis         []GenesisMint `json:",optional"`
	TreeDB          struct {
		Driver string `json:",default=memory,options=memory|redis"`
		Option struct {
			Addr string `json:",optional"`
		} `json:",optional"`
	}
	Redis struct {
		Host     string `json:",optional"`
		Type     string `json:",default=node,options=node|cluster"`
		Password string `json:",optional"`
	} `json:",optional"`
	EventQueue string `json:",default=vault_events"`
	Log        logx.LogConf
	NetworksConf
}

type VaultConf struct {
	Address        string
	Name           string
	Symbol         string
	DecimalsOffset uint8 `json:",optional"`
}

type AssetConf struct {
	Name     string
	Symbol   string
	Decimals uint8 `json:",default=18"`
}

// GenesisMint seeds the asset ledger on the first run. Amount is in whole
// tokens.
type GenesisMint struct {
	Holder string
	Amount string
}

type NetworkConf struct {
	Name        string
	ChainId     uint64
	Url         string
	PrivateKeys []string `json:",optional"`
}

type NetworksConf struct {
	DefaultNetwork string                 `json:",default=localhost"`
	Networks       []NetworkConf `json:",optional"`
	Explorer       struct {
		ApiKey string `json:",optional"`
	} `json:",optional"`
}

// Load reads a config file, expanding ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := conf.Load(path, c, conf.UseEnv()); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadNetworks reads only the network section of a config file.
func LoadNetworks(path string) (*NetworksConf, error) {
	c := &NetworksConf{}
	if err := conf.Load(path, c, conf.UseEnv()); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ExportSecrets puts credentials fetched from the secret manager into the
// environment so that Load can expand them.
func ExportSecrets(secrets map[string]string) error {
	for key, env := range secretEnvNames {
		value, ok := secrets[key]
		if !ok {
			continue
		}
		if err := os.Setenv(env, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size %d", c.BatchSize)
	}
	if _, err := utils.ParseAddress(c.Vault.Address); err != nil {
		return fmt.Errorf("vault address: %w", err)
	}
	if c.Vault.DecimalsOffset > vault.MaxDecimalsOffset {
		return fmt.Errorf("vault decimals offset %d exceeds %d", c.Vault.DecimalsOffset, vault.MaxDecimalsOffset)
	}
	if c.Asset.Decimals > utils.MaxAssetDecimals {
		return fmt.Errorf("asset decimals %d exceeds %d", c.Asset.Decimals, utils.MaxAssetDecimals)
	}
	for i, mint := range c.Genesis {
		if _, err := utils.ParseAddress(mint.Holder); err != nil {
			return fmt.Errorf("genesis %d: %w", i, err)
		}
		if _, err := utils.ParseAmount(mint.Amount, c.Asset.Decimals); err != nil {
			return fmt.Errorf("genesis %d: %w", i, err)
		}
	}
	if c.TreeDB.Driver == "redis" && c.TreeDB.Option.Addr == "" {
		return errors.New("redis tree db needs an address")
	}
	return c.NetworksConf.Validate()
}

func (c *NetworksConf) Validate() error {
	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return errors.New("network without a name")
		}
		if seen[n.Name] {
			return fmt.Errorf("network %s configured twice", n.Name)
		}
		seen[n.Name] = true
		if _, err := n.SignerAddresses(); err != nil {
			return fmt.Errorf("network %s: %w", n.Name, err)
		}
	}
	if len(c.Networks) > 0 && !seen[c.DefaultNetwork] {
		return fmt.Errorf("default network %q is not configured", c.DefaultNetwork)
	}
	return nil
}

// Network looks up a profile by name.
func (c *NetworksConf) Network(name string) (NetworkConf, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return NetworkConf{}, false
}

func (c *NetworksConf) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for _, n := range c.Networks {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}

// SignerAddresses derives the account address of every configured private
// key. Empty keys, as left by an unset environment variable, are skipped.
func (n NetworkConf) SignerAddresses() ([]common.Address, error) {
	var addresses []common.Address
	for i, key := range n.PrivateKeys {
		key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
		if key == "" {
			continue
		}
		privateKey, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		addresses = append(addresses, crypto.PubkeyToAddress(privateKey.PublicKey))
	}
	return addresses, nil
}
