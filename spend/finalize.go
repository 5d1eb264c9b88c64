package spend

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/condition"
	"github.com/TEENet-io/vault-policy/planner"
)

// Finalize checks that the data in input index discharges tree and writes
// the final witness. Signatures are verified against the transaction, so
// a signature that does not commit to this spend counts as missing.
func Finalize(packet *psbt.Packet, index int, tree *condition.Condition) (wire.TxWitness, error) {
	if err := checkIndex(packet, index); err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, planner.ErrNilTree
	}
	input := &packet.Inputs[index]
	if isFinalized(input) {
		return nil, ErrAlreadyFinalized
	}

	script, err := tree.Script()
	if err != nil {
		return nil, err
	}
	if input.WitnessScript != nil && !bytes.Equal(input.WitnessScript, script) {
		return nil, ErrScriptMismatch
	}
	spent := SpentOutput(packet, index)
	if spent == nil {
		return nil, ErrMissingUtxo
	}
	pkScript, err := P2WSHScript(script)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(spent.PkScript, pkScript) {
		return nil, ErrScriptMismatch
	}
	planned, err := plannedLeaves(input)
	if err != nil {
		return nil, err
	}

	data := &concreteData{
		tx:        packet.UnsignedTx,
		index:     index,
		sigs:      verifiedSignatures(packet, index, input, script, spent.Value),
		preimages: preimages(input),
	}

	sol, ok := planner.Search(tree, data, false)
	if !ok {
		return nil, unsatisfied(tree, data, planned)
	}

	items := witnessItems(tree, sol.Leaves, data)
	witness := make(wire.TxWitness, 0, len(items)+1)
	for i := len(items) - 1; i >= 0; i-- {
		witness = append(witness, items[i])
	}
	witness = append(witness, script)

	if err := checkWitness(packet, index, spent, witness); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return nil, err
	}
	input.FinalScriptWitness = buf.Bytes()
	input.PartialSigs = nil
	input.SighashType = 0
	input.WitnessScript = nil
	input.RedeemScript = nil
	input.Bip32Derivation = nil
	input.Unknowns = dropOwnedUnknowns(input.Unknowns)

	logger.WithFields(logger.Fields{
		"input":  index,
		"leaves": sol.Leaves,
		"items":  len(witness),
	}).Debug("input finalized")
	return witness, nil
}

// concreteData grants a leaf only on evidence found in the transaction.
type concreteData struct {
	tx        *wire.MsgTx
	index     int
	sigs      map[string][]byte
	preimages map[string][]byte
}

func (d *concreteData) Available(_ int, leaf *condition.Condition) bool {
	switch leaf.Kind() {
	case condition.KindKey:
		_, ok := d.sigs[string(leaf.KeyBytes())]
		return ok
	case condition.KindHash:
		_, ok := d.preimages[string(preimageKey(leaf.HashAlgo(), leaf.Digest()))]
		return ok
	case condition.KindAfter:
		lock := d.tx.LockTime
		return d.tx.TxIn[d.index].Sequence != wire.MaxTxInSequenceNum &&
			condition.SameAbsoluteUnit(lock, leaf.Lock()) && lock >= leaf.Lock()
	case condition.KindOlder:
		seq := d.tx.TxIn[d.index].Sequence
		return d.tx.Version >= 2 &&
			seq&wire.SequenceLockTimeDisabled == 0 &&
			condition.SameRelativeUnit(seq, leaf.Lock()) &&
			condition.SequenceValue(seq) >= condition.SequenceValue(leaf.Lock())
	}
	return false
}

// verifiedSignatures keeps the partial signatures that verify for their key
// under the input's sighash. The map is keyed by compressed public key.
func verifiedSignatures(packet *psbt.Packet, index int, input *psbt.PInput, script []byte, amount int64) map[string][]byte {
	hashType := SigHashType(input)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, PrevOutFetcher(packet))
	digest, err := txscript.CalcWitnessSigHash(script, sigHashes, hashType, packet.UnsignedTx, index, amount)
	if err != nil {
		logger.WithField("input", index).Debugf("cannot compute sighash: %v", err)
		return nil
	}

	valid := make(map[string][]byte)
	for _, partial := range input.PartialSigs {
		if len(partial.Signature) < 2 || txscript.SigHashType(partial.Signature[len(partial.Signature)-1]) != hashType {
			continue
		}
		pub, err := btcec.ParsePubKey(partial.PubKey)
		if err != nil {
			continue
		}
		sig, err := ecdsa.ParseDERSignature(partial.Signature[:len(partial.Signature)-1])
		if err != nil {
			continue
		}
		// Relay policy (LOW_S) rejects a high-S signature even though it verifies.
		if s := sig.S(); s.IsOverHalfOrder() {
			logger.WithField("input", index).Debugf("signature for %x has a high S value", partial.PubKey)
			continue
		}
		if !sig.Verify(digest, pub) {
			logger.WithField("input", index).Debugf("signature for %x does not verify", partial.PubKey)
			continue
		}
		valid[string(pub.SerializeCompressed())] = partial.Signature
	}
	return valid
}

// checkWitness executes the assembled witness against the spent output with
// the standard verification flags on a copy of the transaction.
func checkWitness(packet *psbt.Packet, index int, spent *wire.TxOut, witness wire.TxWitness) error {
	tx := packet.UnsignedTx.Copy()
	tx.TxIn[index].Witness = witness

	fetcher := PrevOutFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	vm, err := txscript.NewEngine(spent.PkScript, tx, index, txscript.StandardVerifyFlags, nil, sigHashes, spent.Value, fetcher)
	if err == nil {
		err = vm.Execute()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWitnessRejected, err)
	}
	return nil
}

// unsatisfied finds the leaf to blame: the first one the data does not
// discharge on the cheapest path that would work if every planned leaf
// were discharged. Without a plan every leaf counts as planned.
func unsatisfied(tree *condition.Condition, data *concreteData, planned map[int]bool) error {
	hypothetical := planner.ProviderFunc(func(leafID int, leaf *condition.Condition) bool {
		return planned == nil || planned[leafID] || data.Available(leafID, leaf)
	})
	sol, ok := planner.Search(tree, hypothetical, false)
	if !ok {
		everything := planner.ProviderFunc(func(int, *condition.Condition) bool { return true })
		sol, _ = planner.Search(tree, everything, false)
	}

	leaves := tree.Leaves()
	for _, id := range sol.Leaves {
		if !data.Available(id, leaves[id]) {
			return &UnsatisfiedConditionError{LeafID: id, Leaf: leaves[id]}
		}
	}
	// unreachable: a path with every leaf available would have been found
	return &UnsatisfiedConditionError{LeafID: sol.Leaves[0], Leaf: leaves[sol.Leaves[0]]}
}
