package cmd

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/TEENet-io/vault-policy/compiler"
)

const (
	ENV_CONFIG_FILE_PATH = "VAULT_POLICY_CONFIG"

	DEFAULT_HTTP_SERVER_IP   = "127.0.0.1"
	DEFAULT_HTTP_SERVER_PORT = "8080"
)

// Everything the binaries read from the config file.
type PolicyConfig struct {
	BtcChainConfig *chaincfg.Params // regtest, testnet, mainnet, signet
	LogLevel       string           // see logconfig.ConfigLogger
	Limits         compiler.Limits  // zero fields keep the P2WSH standardness defaults

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080

	// Vault side
	Policy     string                      // policy text, pk() may use names from Keys
	Keys       map[string]*btcec.PublicKey // name -> public key, viper folds names to lower case
	SignerWifs []string                    // private keys the vault flow signs with
	AssetAfter uint32                      // block height or time the spender can wait for, 0 = none
	AssetOlder uint32                      // relative lock the spender can wait for, 0 = none
	Receiver   string                      // where the vault flow sends funds, empty = first signer's P2WPKH
}

// PreparePolicyConfig reads configuration variables from v.
func PreparePolicyConfig(v *viper.Viper) (*PolicyConfig, error) {
	keys, err := ParseKeys(v.GetStringMapString("KEYS"))
	if err != nil {
		return nil, err
	}

	cfg := &PolicyConfig{
		BtcChainConfig: ParseChainConfig(v.GetString("BTC_CHAIN_CONFIG")),
		LogLevel:       v.GetString("LOG_LEVEL"),
		Limits: compiler.Limits{
			MaxScriptSize:   v.GetInt("MAX_SCRIPT_SIZE"),
			MaxOps:          v.GetInt("MAX_OPS"),
			MaxWitnessItems: v.GetInt("MAX_WITNESS_ITEMS"),
			MaxDepth:        v.GetInt("MAX_DEPTH"),
		},
		HttpIp:     v.GetString("HTTP_SERVER_IP"),
		HttpPort:   v.GetString("HTTP_SERVER_PORT"),
		Policy:     v.GetString("POLICY"),
		Keys:       keys,
		SignerWifs: v.GetStringSlice("SIGNER_WIFS"),
		AssetAfter: v.GetUint32("ASSET_AFTER"),
		AssetOlder: v.GetUint32("ASSET_OLDER"),
		Receiver:   v.GetString("RECEIVER_ADDR"),
	}
	if cfg.HttpIp == "" {
		cfg.HttpIp = DEFAULT_HTTP_SERVER_IP
	}
	if cfg.HttpPort == "" {
		cfg.HttpPort = DEFAULT_HTTP_SERVER_PORT
	}
	if cfg.Limits.MaxScriptSize < 0 || cfg.Limits.MaxOps < 0 || cfg.Limits.MaxWitnessItems < 0 || cfg.Limits.MaxDepth < 0 {
		return nil, fmt.Errorf("negative compiler limit in %+v", cfg.Limits)
	}
	return cfg, nil
}
