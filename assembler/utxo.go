/*
This file contains the output types the spend flow moves around.
  - UTXO, an unspent output locked to a vault policy or a plain address.
*/
package assembler

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var ErrOutputNotFound = errors.New("no output pays to the given script")

// Represents the unspent transaction output (UTXO)
// in our program
type UTXO struct {
	TxID     string          // Identifier, human readable
	TxHash   *chainhash.Hash // Identifier, used for tx search
	Vout     uint32          // exact index of the Tx's outputs to be spent
	Amount   int64           // in satoshi
	PkScript []byte          // Locking Script itself
}

// Return a human-readable amount in BTC
// eg. 1e8 (satoshi) = 1.0 (BTC)
func (u *UTXO) AmountHuman() float64 {
	return float64(u.Amount) / 1e8
}

func (u *UTXO) OutPoint() *wire.OutPoint {
	return wire.NewOutPoint(u.TxHash, u.Vout)
}

func (u *UTXO) TxOut() *wire.TxOut {
	return wire.NewTxOut(u.Amount, u.PkScript)
}

// FindOutput locates the first output of tx locked by pkScript.
func FindOutput(tx *wire.MsgTx, pkScript []byte) (*UTXO, error) {
	hash := tx.TxHash()
	for vout, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return &UTXO{
				TxID:     hash.String(),
				TxHash:   &hash,
				Vout:     uint32(vout),
				Amount:   out.Value,
				PkScript: out.PkScript,
			}, nil
		}
	}
	return nil, ErrOutputNotFound
}
