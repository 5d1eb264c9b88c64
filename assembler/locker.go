package assembler

/*
This file adds outputs ("locking" clauses) to a Tx.

Since locking scripts do not require any prior knowledge of private keys,
they are universal to every spending policy.
*/

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Add a pay-to-any-type-of-address clause to Tx.
func AppendPayToAddress(tx *wire.MsgTx, dst_chain_cfg *chaincfg.Params, dst_addr string, amount int64) (*wire.MsgTx, error) {
	btcDstAddress, err := btcutil.DecodeAddress(dst_addr, dst_chain_cfg)
	if err != nil {
		return nil, err
	}

	txOutScript, err := txscript.PayToAddrScript(btcDstAddress)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount, txOutScript))
	return tx, nil
}

// Add a clause paying to a raw output script, eg. the P2WSH of a policy.
func AppendPayToScript(tx *wire.MsgTx, pkScript []byte, amount int64) *wire.MsgTx {
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))
	return tx
}
