package assembler

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// VerifyInput runs input idx of a signed tx through the script engine with
// the standard verification flags, the same checks a relaying node applies.
// prevOutputs must hold the outputs spent by every input, in input order.
func VerifyInput(tx *wire.MsgTx, idx int, prevOutputs []*UTXO) error {
	if idx < 0 || idx >= len(tx.TxIn) || len(prevOutputs) != len(tx.TxIn) {
		return fmt.Errorf("cannot verify input %d: tx has %d inputs, %d spent outputs given", idx, len(tx.TxIn), len(prevOutputs))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, item := range prevOutputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, item.TxOut())
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	spent := prevOutputs[idx]
	vm, err := txscript.NewEngine(spent.PkScript, tx, idx, txscript.StandardVerifyFlags, nil, sigHashes, spent.Amount, fetcher)
	if err != nil {
		return err
	}
	return vm.Execute()
}
