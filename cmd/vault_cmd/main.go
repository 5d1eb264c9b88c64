package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/TEENet-io/vault-policy/cmd"
	"github.com/TEENet-io/vault-policy/logconfig"
)

func main() {
	// Read the configuration file named by VAULT_POLICY_CONFIG.
	if err := cmd.LoadConfigFile(viper.GetViper(), cmd.ENV_CONFIG_FILE_PATH); err != nil {
		fmt.Printf("Error loading vault configuration: %s\n", err)
		return
	}

	cfg, err := cmd.PreparePolicyConfig(viper.GetViper())
	if err != nil {
		fmt.Printf("Error preparing vault configuration: %s\n", err)
		return
	}
	if err := logconfig.ConfigLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Error configuring logger: %s\n", err)
		return
	}

	vf, err := cmd.NewVaultFlow(cfg)
	if err != nil {
		fmt.Printf("Error creating vault flow: %s\n", err)
		return
	}

	receiver, err := vf.Receiver()
	if err != nil {
		fmt.Printf("Error picking receiver: %s\n", err)
		return
	}

	fmt.Println(strings.Repeat("=", 30))
	fmt.Printf("Policy: %s\n", vf.MyCompiled.Policy)

	report, err := vf.Run(receiver)
	if err != nil {
		fmt.Printf("Vault spend failed: %s\n", err)
		return
	}

	fmt.Printf("Vault address: %s\n", report.Address)
	fmt.Printf("Deposit tx: %s\n", report.DepositTxID)
	fmt.Printf("Spent leaves: %v (locktime %d, sequence %d, witness cost %d)\n",
		report.Plan.Leaves, report.Plan.RequiredLockTime, report.Plan.RequiredSequence, report.Plan.WitnessCost)
	fmt.Printf("Spend tx: %s\n", report.SpendTxID)
	fmt.Printf("Raw tx: %s\n", report.RawTx)
}
