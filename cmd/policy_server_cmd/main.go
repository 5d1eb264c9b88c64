package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/TEENet-io/vault-policy/cmd"
	"github.com/TEENet-io/vault-policy/logconfig"
)

func main() {
	// Read the configuration file named by VAULT_POLICY_CONFIG.
	if err := cmd.LoadConfigFile(viper.GetViper(), cmd.ENV_CONFIG_FILE_PATH); err != nil {
		fmt.Printf("Error loading policy server configuration: %s\n", err)
		return
	}

	cfg, err := cmd.PreparePolicyConfig(viper.GetViper())
	if err != nil {
		fmt.Printf("Error preparing policy server configuration: %s\n", err)
		return
	}
	if err := logconfig.ConfigLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Error configuring logger: %s\n", err)
		return
	}

	fmt.Printf("Starting policy server on %s:%s... press Ctrl+C to kill the server\n", cfg.HttpIp, cfg.HttpPort)
	// Start server and block.
	cmd.StartPolicyServerAndWait(cfg)
}
