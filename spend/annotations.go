package spend

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/TEENet-io/vault-policy/condition"
)

// Proprietary PSBT input fields: 0xFC, the identifier and a subtype.
const (
	proprietaryType = 0xfc
	identifier      = "vaultpolicy"

	subtypeSignRequest   = 0x00
	subtypePlannedLeaves = 0x01
)

// BIP-174 input types carrying hash preimages. Key data is the digest.
var preimageTypes = map[condition.HashAlgo]byte{
	condition.Ripemd160: 0x0a,
	condition.Sha256:    0x0b,
	condition.Hash160:   0x0c,
	condition.Hash256:   0x0d,
}

func proprietaryPrefix(subtype byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(proprietaryType)
	_ = wire.WriteVarInt(&buf, 0, uint64(len(identifier)))
	buf.WriteString(identifier)
	_ = wire.WriteVarInt(&buf, 0, uint64(subtype))
	return buf.Bytes()
}

func signRequestKey(pub *btcec.PublicKey) []byte {
	return append(proprietaryPrefix(subtypeSignRequest), pub.SerializeCompressed()...)
}

func encodeLeafIDs(ids ...int) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		_ = wire.WriteVarInt(&buf, 0, uint64(id))
	}
	return buf.Bytes()
}

func decodeLeafIDs(value []byte) ([]int, error) {
	r := bytes.NewReader(value)
	var ids []int
	for r.Len() > 0 {
		id, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadAnnotation, err)
		}
		ids = append(ids, int(id))
	}
	return ids, nil
}

func preimageKey(algo condition.HashAlgo, digest []byte) []byte {
	return append([]byte{preimageTypes[algo]}, digest...)
}

// isOwnedUnknown reports fields written by Apply.
func isOwnedUnknown(u *psbt.Unknown) bool {
	if bytes.HasPrefix(u.Key, proprietaryPrefix(subtypeSignRequest)) ||
		bytes.HasPrefix(u.Key, proprietaryPrefix(subtypePlannedLeaves)) {
		return true
	}
	_, ok := preimageAlgo(u)
	return ok
}

func preimageAlgo(u *psbt.Unknown) (condition.HashAlgo, bool) {
	if len(u.Key) == 0 {
		return 0, false
	}
	for algo, typ := range preimageTypes {
		if u.Key[0] == typ && len(u.Key) == 1+algo.DigestLen() {
			return algo, true
		}
	}
	return 0, false
}

func dropOwnedUnknowns(unknowns []*psbt.Unknown) []*psbt.Unknown {
	var kept []*psbt.Unknown
	for _, u := range unknowns {
		if !isOwnedUnknown(u) {
			kept = append(kept, u)
		}
	}
	return kept
}

// SignRequest asks the holder of PubKey to sign for leaf LeafID.
type SignRequest struct {
	LeafID int
	PubKey *btcec.PublicKey
}

// SignRequests lists the signatures an applied plan still needs, in leaf
// order. Keys that already have a partial signature are left out.
func SignRequests(input *psbt.PInput) ([]SignRequest, error) {
	prefix := proprietaryPrefix(subtypeSignRequest)
	signed := make(map[string]bool, len(input.PartialSigs))
	for _, sig := range input.PartialSigs {
		signed[string(sig.PubKey)] = true
	}

	var requests []SignRequest
	for _, u := range input.Unknowns {
		if !bytes.HasPrefix(u.Key, prefix) {
			continue
		}
		keyData := u.Key[len(prefix):]
		pub, err := btcec.ParsePubKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("%w: sign request key: %v", ErrBadAnnotation, err)
		}
		ids, err := decodeLeafIDs(u.Value)
		if err != nil {
			return nil, err
		}
		if len(ids) != 1 {
			return nil, fmt.Errorf("%w: sign request carries %d leaf ids", ErrBadAnnotation, len(ids))
		}
		if signed[string(keyData)] {
			continue
		}
		requests = append(requests, SignRequest{LeafID: ids[0], PubKey: pub})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].LeafID < requests[j].LeafID })
	return requests, nil
}

// plannedLeaves returns the leaves the applied plan uses, or nil when the
// input was never annotated.
func plannedLeaves(input *psbt.PInput) (map[int]bool, error) {
	prefix := proprietaryPrefix(subtypePlannedLeaves)
	for _, u := range input.Unknowns {
		if !bytes.Equal(u.Key, prefix) {
			continue
		}
		ids, err := decodeLeafIDs(u.Value)
		if err != nil {
			return nil, err
		}
		planned := make(map[int]bool, len(ids))
		for _, id := range ids {
			planned[id] = true
		}
		return planned, nil
	}
	return nil, nil
}

// preimages collects the preimage fields that hash to their digest.
func preimages(input *psbt.PInput) map[string][]byte {
	found := make(map[string][]byte)
	for _, u := range input.Unknowns {
		algo, ok := preimageAlgo(u)
		if !ok || len(u.Value) != condition.PreimageLen {
			continue
		}
		if bytes.Equal(algo.Sum(u.Value), u.Key[1:]) {
			found[string(u.Key)] = u.Value
		}
	}
	return found
}
