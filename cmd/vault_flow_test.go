package cmd_test

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/vault-policy/cmd"
	"github.com/TEENet-io/vault-policy/compiler"
	"github.com/TEENet-io/vault-policy/planner"
	"github.com/TEENet-io/vault-policy/signer"
)

const (
	p1_legacy_priv_key_str = "cNSHjGk52rQ6iya8jdNT9VJ8dvvQ8kPAq5pcFHsYBYdDqahWuneH"
	p1_legacy_addr_str     = "mkVXZnqaaKt4puQNr4ovPHYg48mjguFCnT"

	p2_legacy_priv_key_str = "cQthTMaKUU9f6br1hMXdGFXHwGaAfFFerNkn632BpGE6KXhTMmGY"

	vaultPolicy = "or(pk(emergency),and(pk(unvault),after(1311208)))"
	unvaultAt   = 1311208
)

func pubKeyOf(t *testing.T, wif string) *btcec.PublicKey {
	s, err := signer.NewLocalSigner(wif, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return s.PubKey
}

func vaultConfig(t *testing.T, wifs ...string) *cmd.PolicyConfig {
	return &cmd.PolicyConfig{
		BtcChainConfig: &chaincfg.RegressionNetParams,
		Limits:         compiler.DefaultLimits(),
		Policy:         vaultPolicy,
		Keys: map[string]*btcec.PublicKey{
			"emergency": pubKeyOf(t, p1_legacy_priv_key_str),
			"unvault":   pubKeyOf(t, p2_legacy_priv_key_str),
		},
		SignerWifs: wifs,
		Receiver:   p1_legacy_addr_str,
	}
}

func TestVaultFlowEmergencyPath(t *testing.T) {
	vf, err := cmd.NewVaultFlow(vaultConfig(t, p1_legacy_priv_key_str, p2_legacy_priv_key_str))
	require.NoError(t, err)

	report, err := vf.Run(p1_legacy_addr_str)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, report.Plan.Leaves)
	assert.Zero(t, report.Plan.RequiredLockTime)
	assert.Len(t, report.Witness, 4)
	assert.NotEmpty(t, report.RawTx)
	assert.NotEqual(t, report.DepositTxID, report.SpendTxID)

	addr, err := vf.MyCompiled.Address(&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	assert.Equal(t, addr.EncodeAddress(), report.Address)
}

func TestVaultFlowUnvaultPath(t *testing.T) {
	cfg := vaultConfig(t, p2_legacy_priv_key_str)
	cfg.AssetAfter = unvaultAt
	vf, err := cmd.NewVaultFlow(cfg)
	require.NoError(t, err)

	report, err := vf.Run(p1_legacy_addr_str)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, report.Plan.Leaves)
	assert.Equal(t, uint32(unvaultAt), report.Plan.RequiredLockTime)

	raw, err := hex.DecodeString(report.RawTx)
	require.NoError(t, err)
	tx, err := btcutil.NewTxFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(unvaultAt), tx.MsgTx().LockTime)
	assert.Less(t, tx.MsgTx().TxIn[0].Sequence, uint32(wire.MaxTxInSequenceNum))
}

func TestVaultFlowUnsatisfiable(t *testing.T) {
	// the unvault key alone has to wait for the timelock
	vf, err := cmd.NewVaultFlow(vaultConfig(t, p2_legacy_priv_key_str))
	require.NoError(t, err)

	_, err = vf.Run(p1_legacy_addr_str)
	assert.ErrorIs(t, err, planner.ErrUnsatisfiable)
}

func TestVaultFlowConfigErrors(t *testing.T) {
	cfg := vaultConfig(t, p1_legacy_priv_key_str)
	cfg.BtcChainConfig = &chaincfg.MainNetParams
	_, err := cmd.NewVaultFlow(cfg)
	assert.Error(t, err)

	cfg = vaultConfig(t)
	cfg.Policy = ""
	_, err = cmd.NewVaultFlow(cfg)
	assert.Error(t, err)

	cfg = vaultConfig(t)
	cfg.Policy = "or(pk(emergency),pk(nobody))"
	_, err = cmd.NewVaultFlow(cfg)
	var parseErr *compiler.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestVaultFlowReceiver(t *testing.T) {
	cfg := vaultConfig(t, p2_legacy_priv_key_str)
	cfg.Receiver = ""
	vf, err := cmd.NewVaultFlow(cfg)
	require.NoError(t, err)

	receiver, err := vf.Receiver()
	require.NoError(t, err)
	want, err := vf.MySigners[0].P2WPKH()
	require.NoError(t, err)
	assert.Equal(t, want.EncodeAddress(), receiver)

	vf, err = cmd.NewVaultFlow(vaultConfig(t))
	require.NoError(t, err)
	vf.MyConfig.Receiver = ""
	_, err = vf.Receiver()
	assert.Error(t, err)
}

func TestPreparePolicyConfig(t *testing.T) {
	emergency := hex.EncodeToString(pubKeyOf(t, p1_legacy_priv_key_str).SerializeCompressed())
	unvault := hex.EncodeToString(pubKeyOf(t, p2_legacy_priv_key_str).SerializeCompressed())

	content := "BTC_CHAIN_CONFIG: regtest\n" +
		"LOG_LEVEL: debug\n" +
		"MAX_DEPTH: 12\n" +
		"HTTP_SERVER_PORT: \"9090\"\n" +
		"POLICY: \"" + vaultPolicy + "\"\n" +
		"KEYS:\n" +
		"  emergency: " + emergency + "\n" +
		"  unvault: " + unvault + "\n" +
		"SIGNER_WIFS:\n" +
		"  - " + p2_legacy_priv_key_str + "\n" +
		"ASSET_AFTER: 1311208\n"
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(cmd.ENV_CONFIG_FILE_PATH, path)

	v := viper.New()
	require.NoError(t, cmd.LoadConfigFile(v, cmd.ENV_CONFIG_FILE_PATH))
	cfg, err := cmd.PreparePolicyConfig(v)
	require.NoError(t, err)

	assert.Equal(t, chaincfg.RegressionNetParams.Name, cfg.BtcChainConfig.Name)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 12, cfg.Limits.MaxDepth)
	assert.Zero(t, cfg.Limits.MaxOps)
	assert.Equal(t, cmd.DEFAULT_HTTP_SERVER_IP, cfg.HttpIp)
	assert.Equal(t, "9090", cfg.HttpPort)
	assert.Equal(t, vaultPolicy, cfg.Policy)
	require.Len(t, cfg.Keys, 2)
	assert.True(t, cfg.Keys["unvault"].IsEqual(pubKeyOf(t, p2_legacy_priv_key_str)))
	assert.Equal(t, []string{p2_legacy_priv_key_str}, cfg.SignerWifs)
	assert.Equal(t, uint32(unvaultAt), cfg.AssetAfter)

	// the loaded config drives the unvault path end to end
	vf, err := cmd.NewVaultFlow(cfg)
	require.NoError(t, err)
	report, err := vf.Run(p1_legacy_addr_str)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, report.Plan.Leaves)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Setenv(cmd.ENV_CONFIG_FILE_PATH, "")
	assert.Error(t, cmd.LoadConfigFile(viper.New(), cmd.ENV_CONFIG_FILE_PATH))

	t.Setenv(cmd.ENV_CONFIG_FILE_PATH, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, cmd.LoadConfigFile(viper.New(), cmd.ENV_CONFIG_FILE_PATH))

	_, err := cmd.ParseKeys(map[string]string{"bad": "zz"})
	assert.Error(t, err)
	_, err = cmd.ParseKeys(map[string]string{"bad": "02abcd"})
	assert.Error(t, err)

	assert.Equal(t, chaincfg.TestNet3Params.Name, cmd.ParseChainConfig("testnet").Name)
	assert.Equal(t, chaincfg.RegressionNetParams.Name, cmd.ParseChainConfig("").Name)
}

func TestNewPolicyServer(t *testing.T) {
	cfg := vaultConfig(t)
	cfg.HttpIp, cfg.HttpPort = "127.0.0.1", "0"
	router := cmd.NewPolicyServer(cfg).SetupRouter()
	assert.NotEmpty(t, router.Routes())
}
