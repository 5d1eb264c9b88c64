package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Read the config file named by the env var envConfigFilePath into v.
// Environment variables with the same key names still win over the file.
func LoadConfigFile(v *viper.Viper, envConfigFilePath string) error {
	v.AutomaticEnv()

	_config_file := v.GetString(envConfigFilePath)
	if _config_file == "" {
		return fmt.Errorf("%s is not set", envConfigFilePath)
	}
	if !FileExists(_config_file) {
		return fmt.Errorf("configuration file not found: %s", _config_file)
	}

	v.SetConfigFile(_config_file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading configuration file %s: %w", _config_file, err)
	}
	return nil
}

// Parse the BTC chain config (e.g., "regtest", "testnet", or "mainnet").
// Anything else falls back to regtest.
func ParseChainConfig(name string) *chaincfg.Params {
	switch name {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "mainnet":
		return &chaincfg.MainNetParams
	case "signet":
		return &chaincfg.SigNetParams
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// Turn a name -> hex pubkey table into the form pk() names resolve against.
func ParseKeys(named map[string]string) (map[string]*btcec.PublicKey, error) {
	keys := make(map[string]*btcec.PublicKey, len(named))
	for name, keyHex := range named {
		raw, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("key %s is not hex: %w", name, err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", name, err)
		}
		keys[name] = pub
	}
	return keys, nil
}
