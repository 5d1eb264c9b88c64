package assembler

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

type Assembler struct {
	ChainConfig *chaincfg.Params // which BTC chain it is on. (mainnet, testnet, regtest)
}

func NewAssembler(chain_config *chaincfg.Params) *Assembler {
	return &Assembler{ChainConfig: chain_config}
}

// Make a Tx that locks amount to a policy output script.
// The Tx spends prevOutput, whatever locks it; funding and signing that
// input belongs to the wallet that owns it.
func (myAss *Assembler) MakeDepositTx(
	prevOutput *wire.OutPoint, // output that funds the deposit
	pkScript []byte, // locking script of the policy
	amount int64, // satoshi to lock
) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(prevOutput, nil, nil))
	return AppendPayToScript(tx, pkScript, amount)
}

// Create the outputs of a spend, to transfer money to a single receiver.
// This type of locking sends funds to dst_addr and keep the change to change_addr.
// The change_amount is implied by:
// sum(utxo) = dst_amount + fee_amount + change_amount
func (myAss *Assembler) craftTransferOutOutput(
	tx *wire.MsgTx,
	prevOutputs []*UTXO, // UTXO(s) to spend from.
	dst_addr string, // receiver
	dst_amount int64, // btc amount to receiver in satoshi
	change_addr string, // receiver to receive the change
	fee_amount int64, // amount of mining fee in satoshi
) (*wire.MsgTx, error) {
	var sum int64
	for _, item := range prevOutputs {
		sum += item.Amount
	}
	// Calc change_amount
	change_amount := sum - dst_amount - fee_amount
	if change_amount < 0 {
		return nil, fmt.Errorf("change_amount < 0, sum: %d, dst_amount: %d, fee_amount: %d", sum, dst_amount, fee_amount)
	}

	// 1st output: to the dst receiver
	tx, err := AppendPayToAddress(tx, myAss.ChainConfig, dst_addr, dst_amount)
	if err != nil {
		return nil, err
	}

	// 2nd output: to the change receiver (if change > 0)
	// if change == 0 no need to add this clause.
	if change_amount > 0 {
		tx, err = AppendPayToAddress(tx, myAss.ChainConfig, change_addr, change_amount)
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Make an unsigned spend of prevOutputs wrapped in a PSBT.
// Every input carries its witness UTXO so signers and the finalizer can
// compute segwit sighashes. Plans are applied to the inputs afterwards.
func (myAss *Assembler) MakeSpendPacket(
	prevOutputs []*UTXO,
	dst_addr string,
	dst_amount int64,
	change_addr string,
	fee_amount int64,
) (*psbt.Packet, error) {
	// Version 2 so relative timelocks can be used by any plan.
	tx := wire.NewMsgTx(2)

	tx, err := myAss.craftTransferOutOutput(tx, prevOutputs, dst_addr, dst_amount, change_addr, fee_amount)
	if err != nil {
		return nil, err
	}
	for _, item := range prevOutputs {
		tx.AddTxIn(wire.NewTxIn(item.OutPoint(), nil, nil))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	for idx, item := range prevOutputs {
		packet.Inputs[idx].WitnessUtxo = item.TxOut()
	}
	return packet, nil
}
