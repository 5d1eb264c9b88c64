package spend

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func checkIndex(packet *psbt.Packet, index int) error {
	if packet == nil || packet.UnsignedTx == nil ||
		index < 0 || index >= len(packet.Inputs) || index >= len(packet.UnsignedTx.TxIn) {
		return ErrInputIndex
	}
	return nil
}

func isFinalized(input *psbt.PInput) bool {
	return len(input.FinalScriptWitness) > 0 || len(input.FinalScriptSig) > 0
}

// SpentOutput returns the output an input spends, from its witness UTXO or
// from the full previous transaction. It is nil when neither is attached.
func SpentOutput(packet *psbt.Packet, index int) *wire.TxOut {
	input := &packet.Inputs[index]
	if input.WitnessUtxo != nil {
		return input.WitnessUtxo
	}
	if input.NonWitnessUtxo != nil {
		prev := packet.UnsignedTx.TxIn[index].PreviousOutPoint
		if int(prev.Index) < len(input.NonWitnessUtxo.TxOut) {
			return input.NonWitnessUtxo.TxOut[prev.Index]
		}
	}
	return nil
}

// PrevOutFetcher serves every spent output attached to the packet.
func PrevOutFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		if i >= len(packet.Inputs) {
			break
		}
		if out := SpentOutput(packet, i); out != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, out)
		}
	}
	return fetcher
}

// P2WSHScript is the output script paying to a witness script.
func P2WSHScript(witnessScript []byte) ([]byte, error) {
	hash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().AddOp(txscript.OP_0).AddData(hash[:]).Script()
}

// SigHashType is the sighash an input is signed with.
func SigHashType(input *psbt.PInput) txscript.SigHashType {
	if input.SighashType == 0 {
		return txscript.SigHashAll
	}
	return input.SighashType
}
