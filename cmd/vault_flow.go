// VaultFlow presents a vault owner that
// 1) Holds the vault policy and the signers' credentials (priv keys)
// 2) Locks funds to the policy and spends them again along a planned path.
// 3) Checks the spend with the script engine before anything leaves the machine.
// Nothing is broadcast: the flow produces a raw transaction for the caller.

package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/assembler"
	"github.com/TEENet-io/vault-policy/assets"
	"github.com/TEENet-io/vault-policy/compiler"
	"github.com/TEENet-io/vault-policy/planner"
	"github.com/TEENet-io/vault-policy/signer"
	"github.com/TEENet-io/vault-policy/spend"
)

const (
	VAULT_DEPOSIT_SATOSHI = 0.01 * 1e8   // 0.01 btc locked by the policy
	VAULT_FEE_SATOSHI     = 0.0001 * 1e8 // 0.0001 btc = 10,000 satoshi
)

type VaultFlow struct {
	MyConfig    *PolicyConfig
	MyAssembler *assembler.Assembler
	MySigners   []*signer.LocalSigner
	MyCompiled  *compiler.Compiled
	MyPlanner   *planner.Planner
}

// What one run of the flow produced.
type SpendReport struct {
	Address     string // P2WSH address of the policy
	DepositTxID string
	Plan        *planner.Plan
	SpendTxID   string
	Witness     wire.TxWitness
	RawTx       string // hex, ready to broadcast
}

func NewVaultFlow(cfg *PolicyConfig) (*VaultFlow, error) {
	if cfg.Policy == "" {
		return nil, fmt.Errorf("no policy configured")
	}

	signers := make([]*signer.LocalSigner, 0, len(cfg.SignerWifs))
	for idx, wif := range cfg.SignerWifs {
		s, err := signer.NewLocalSigner(wif, cfg.BtcChainConfig)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", idx, err)
		}
		signers = append(signers, s)
	}

	compiled, err := compiler.Compile(cfg.Policy, compiler.WithKeys(cfg.Keys), compiler.WithLimits(cfg.Limits))
	if err != nil {
		return nil, err
	}

	return &VaultFlow{
		MyConfig:    cfg,
		MyAssembler: assembler.NewAssembler(cfg.BtcChainConfig),
		MySigners:   signers,
		MyCompiled:  compiled,
		MyPlanner:   planner.New(compiled.Tree),
	}, nil
}

// Receiver is the configured receiver or the first signer's segwit address.
func (vf *VaultFlow) Receiver() (string, error) {
	if vf.MyConfig.Receiver != "" {
		return vf.MyConfig.Receiver, nil
	}
	if len(vf.MySigners) == 0 {
		return "", fmt.Errorf("no receiver configured and no signer to fall back to")
	}
	addr, err := vf.MySigners[0].P2WPKH()
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// Assets is what the configured signers and timelocks can discharge.
func (vf *VaultFlow) Assets() (*assets.Set, error) {
	set, err := assets.NewSet()
	if err != nil {
		return nil, err
	}
	for _, s := range vf.MySigners {
		if err := set.Add(assets.Key(s.PubKey)); err != nil {
			return nil, err
		}
	}
	if vf.MyConfig.AssetAfter != 0 {
		if err := set.Add(assets.After(vf.MyConfig.AssetAfter)); err != nil {
			return nil, err
		}
	}
	if vf.MyConfig.AssetOlder != 0 {
		if err := set.Add(assets.Older(vf.MyConfig.AssetOlder)); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Deposit locks VAULT_DEPOSIT_SATOSHI to the policy.
// The funding outpoint is derived from the script hash, so a dry run is
// reproducible.
func (vf *VaultFlow) Deposit() (*wire.MsgTx, *assembler.UTXO, error) {
	funding := chainhash.Hash(vf.MyCompiled.ScriptHash())
	tx := vf.MyAssembler.MakeDepositTx(wire.NewOutPoint(&funding, 0), vf.MyCompiled.PkScript, VAULT_DEPOSIT_SATOSHI)
	u, err := assembler.FindOutput(tx, vf.MyCompiled.PkScript)
	if err != nil {
		return nil, nil, err
	}
	return tx, u, nil
}

// Spend moves a vault UTXO to dst_addr along the cheapest path set allows.
// Every signer is asked to sign. Only those the plan names add a signature.
func (vf *VaultFlow) Spend(u *assembler.UTXO, set *assets.Set, dst_addr string) (*SpendReport, error) {
	plan, err := vf.MyPlanner.Plan(set)
	if err != nil {
		return nil, err
	}

	packet, err := vf.MyAssembler.MakeSpendPacket(
		[]*assembler.UTXO{u}, dst_addr, u.Amount-VAULT_FEE_SATOSHI, dst_addr, VAULT_FEE_SATOSHI,
	)
	if err != nil {
		return nil, err
	}
	if err := spend.Apply(packet, 0, plan); err != nil {
		return nil, err
	}

	// Round trip through the wire format, the way the packet would travel
	// to a remote signer.
	packet, err = roundTrip(packet)
	if err != nil {
		return nil, err
	}
	for _, s := range vf.MySigners {
		if _, err := s.SignInput(packet, 0); err != nil {
			return nil, err
		}
	}

	witness, err := spend.Finalize(packet, 0, vf.MyCompiled.Tree)
	if err != nil {
		return nil, err
	}
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}
	if err := assembler.VerifyInput(tx, 0, []*assembler.UTXO{u}); err != nil {
		return nil, fmt.Errorf("spend rejected by script engine: %w", err)
	}

	var raw bytes.Buffer
	if err := tx.Serialize(&raw); err != nil {
		return nil, err
	}
	report := &SpendReport{
		Plan:      plan,
		SpendTxID: tx.TxHash().String(),
		Witness:   witness,
		RawTx:     hex.EncodeToString(raw.Bytes()),
	}
	logger.WithFields(logger.Fields{
		"txid":     report.SpendTxID,
		"leaves":   plan.Leaves,
		"locktime": plan.RequiredLockTime,
		"sequence": plan.RequiredSequence,
	}).Info("vault spend verified")
	return report, nil
}

// Run walks the whole flow once with the configured assets: compile,
// deposit, plan, apply, sign, finalize, extract and verify.
func (vf *VaultFlow) Run(dst_addr string) (*SpendReport, error) {
	addr, err := vf.MyCompiled.Address(vf.MyConfig.BtcChainConfig)
	if err != nil {
		return nil, err
	}
	deposit, u, err := vf.Deposit()
	if err != nil {
		return nil, err
	}
	logger.WithFields(logger.Fields{
		"address": addr.EncodeAddress(),
		"txid":    u.TxID,
		"amount":  u.AmountHuman(),
	}).Info("vault deposit prepared")

	set, err := vf.Assets()
	if err != nil {
		return nil, err
	}
	report, err := vf.Spend(u, set, dst_addr)
	if err != nil {
		return nil, err
	}
	report.Address = addr.EncodeAddress()
	report.DepositTxID = deposit.TxHash().String()
	return report, nil
}

func roundTrip(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}
	return psbt.NewFromRawBytes(&buf, false)
}
