/*
Package spend moves a plan into a PSBT input and turns the signed input
back into a final witness.

Apply writes what the plan needs (sign requests, preimages and the
transaction's timelock fields) without touching other inputs or outputs.
Finalize ignores the plan and re-derives satisfaction from the signatures
and preimages actually present, so a hand-edited or partially signed input
can never produce a witness the script would reject.
*/
package spend

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/planner"
)

// Apply annotates input index of packet with plan. Applying again replaces
// the annotations of the earlier plan.
func Apply(packet *psbt.Packet, index int, plan *planner.Plan) error {
	if err := checkIndex(packet, index); err != nil {
		return err
	}
	if plan == nil || plan.Tree == nil {
		return planner.ErrNilTree
	}
	input := &packet.Inputs[index]
	tx := packet.UnsignedTx
	if isFinalized(input) {
		return ErrAlreadyFinalized
	}

	script, err := plan.Tree.Script()
	if err != nil {
		return err
	}
	if input.WitnessScript != nil && !bytes.Equal(input.WitnessScript, script) {
		return ErrScriptMismatch
	}
	if out := SpentOutput(packet, index); out != nil {
		pkScript, err := P2WSHScript(script)
		if err != nil {
			return err
		}
		if !bytes.Equal(out.PkScript, pkScript) {
			return ErrScriptMismatch
		}
	}
	if plan.RequiredLockTime != 0 && tx.LockTime != 0 && tx.LockTime != plan.RequiredLockTime {
		return &planner.ConflictingTimelockError{
			LockTimes: []uint32{min(tx.LockTime, plan.RequiredLockTime), max(tx.LockTime, plan.RequiredLockTime)},
		}
	}

	input.WitnessScript = script
	if input.SighashType == 0 {
		input.SighashType = txscript.SigHashAll
	}

	unknowns := dropOwnedUnknowns(input.Unknowns)
	for _, step := range plan.Steps {
		switch step.Action {
		case planner.ActionSign:
			unknowns = append(unknowns, &psbt.Unknown{
				Key:   signRequestKey(step.PubKey),
				Value: encodeLeafIDs(step.LeafID),
			})
		case planner.ActionRevealPreimage:
			key := preimageKey(step.HashAlgo, step.Digest)
			if !hasUnknown(unknowns, key) {
				unknowns = append(unknowns, &psbt.Unknown{
					Key:   key,
					Value: append([]byte(nil), step.Preimage...),
				})
			}
		}
	}
	unknowns = append(unknowns, &psbt.Unknown{
		Key:   proprietaryPrefix(subtypePlannedLeaves),
		Value: encodeLeafIDs(plan.Leaves...),
	})
	input.Unknowns = unknowns

	txIn := tx.TxIn[index]
	if plan.RequiredSequence != 0 {
		if tx.Version < 2 {
			tx.Version = 2
		}
		txIn.Sequence = plan.RequiredSequence
	}
	if plan.RequiredLockTime != 0 {
		tx.LockTime = plan.RequiredLockTime
		if txIn.Sequence == wire.MaxTxInSequenceNum {
			txIn.Sequence = wire.MaxTxInSequenceNum - 1
		}
	}

	logger.WithFields(logger.Fields{
		"input":    index,
		"leaves":   plan.Leaves,
		"locktime": tx.LockTime,
		"sequence": txIn.Sequence,
	}).Debug("plan applied")
	return nil
}

func hasUnknown(unknowns []*psbt.Unknown, key []byte) bool {
	for _, u := range unknowns {
		if bytes.Equal(u.Key, key) {
			return true
		}
	}
	return false
}
