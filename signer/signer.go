// Implements the external signer of a vault policy spend.
// 1) Uses a local private key as backbone.
// 2) Answers the sign requests a plan left on a PSBT input.

package signer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/spend"
)

var ErrNoWitnessScript = errors.New("input has no witness script, apply a plan first")

// DecodeWIF decodes a string private key to *btcutil.WIF
func DecodeWIF(privKeyStr string) (*btcutil.WIF, error) {
	decoded := base58.Decode(privKeyStr)
	if len(decoded) == 0 {
		return nil, errors.New("invalid private key string (cannot pass base58 decode)")
	}

	wif, err := btcutil.DecodeWIF(privKeyStr)
	if err != nil {
		return nil, err
	}

	return wif, nil
}

// Basic single private key signer
type LocalSigner struct {
	ChainConfig *chaincfg.Params  // which BTC chain it is on. (mainnet, testnet, regtest)
	PrivKey     *btcec.PrivateKey // private key
	PubKey      *btcec.PublicKey  // public key accordingly
}

// Recover a signer from
// private key string (aka wallet-import-format, WIF)
// This is the standard private key string that bitcoin-core software exports.
func NewLocalSigner(priv_key_wif_str string, chain_config *chaincfg.Params) (*LocalSigner, error) {
	priv_key_wif, err := DecodeWIF(priv_key_wif_str)
	if err != nil {
		return nil, err
	}
	if !priv_key_wif.IsForNet(chain_config) {
		return nil, fmt.Errorf("private key is not for network %s", chain_config.Name)
	}
	return &LocalSigner{chain_config, priv_key_wif.PrivKey, priv_key_wif.PrivKey.PubKey()}, nil
}

// P2WPKH is the segwit address of the key, handy as a change receiver.
func (ls *LocalSigner) P2WPKH() (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(ls.PubKey.SerializeCompressed()), ls.ChainConfig)
}

// SignInput adds a partial signature for every pending sign request that
// names this key. It returns how many signatures were added.
func (ls *LocalSigner) SignInput(packet *psbt.Packet, idx int) (int, error) {
	if idx < 0 || idx >= len(packet.Inputs) {
		return 0, spend.ErrInputIndex
	}
	input := &packet.Inputs[idx]
	requests, err := spend.SignRequests(input)
	if err != nil {
		return 0, err
	}

	signed := 0
	for _, req := range requests {
		if !req.PubKey.IsEqual(ls.PubKey) {
			continue
		}
		if input.WitnessScript == nil {
			return signed, ErrNoWitnessScript
		}
		prevOut := spend.SpentOutput(packet, idx)
		if prevOut == nil {
			return signed, spend.ErrMissingUtxo
		}

		sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, spend.PrevOutFetcher(packet))
		sig, err := txscript.RawTxInWitnessSignature(
			packet.UnsignedTx, sigHashes, idx, prevOut.Value,
			input.WitnessScript, spend.SigHashType(input), ls.PrivKey,
		)
		if err != nil {
			return signed, err
		}
		input.PartialSigs = append(input.PartialSigs, &psbt.PartialSig{
			PubKey:    ls.PubKey.SerializeCompressed(),
			Signature: sig,
		})
		signed++

		logger.WithFields(logger.Fields{
			"input": idx,
			"leaf":  req.LeafID,
		}).Debug("signed vault policy input")
	}
	return signed, nil
}
