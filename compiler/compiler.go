/*
Package compiler turns policy text into a condition tree and its canonical
P2WSH witness script, and turns such scripts back into trees.
*/
package compiler

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-policy/condition"
)

type options struct {
	keys   map[string]*btcec.PublicKey
	limits Limits
}

type Option func(*options)

// WithKeys lets pk() refer to keys by name.
func WithKeys(keys map[string]*btcec.PublicKey) Option {
	return func(o *options) {
		if o.keys == nil {
			o.keys = make(map[string]*btcec.PublicKey, len(keys))
		}
		for name, pub := range keys {
			o.keys[name] = pub
		}
	}
}

// WithLimits overrides the standardness limits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l.withDefaults()
	}
}

func newOptions(opts []Option) *options {
	o := &options{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compiled is a policy ready to receive funds.
type Compiled struct {
	Policy        string               // canonical policy text
	Tree          *condition.Condition // normalised tree
	WitnessScript []byte
	PkScript      []byte // P2WSH output script
}

// ScriptHash is the sha256 of the witness script, the P2WSH witness program.
func (c *Compiled) ScriptHash() [32]byte {
	return sha256.Sum256(c.WitnessScript)
}

// Address is the bech32 P2WSH address of the policy on the given chain.
func (c *Compiled) Address(params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	hash := c.ScriptHash()
	return btcutil.NewAddressWitnessScriptHash(hash[:], params)
}

// Compile parses, normalises and encodes policy text.
func Compile(text string, opts ...Option) (*Compiled, error) {
	tree, err := Parse(text, opts...)
	if err != nil {
		return nil, err
	}
	return CompileTree(tree, opts...)
}

// CompileTree normalises and encodes an already built tree.
func CompileTree(tree *condition.Condition, opts ...Option) (*Compiled, error) {
	o := newOptions(opts)
	if tree == nil {
		return nil, compileErr(ConstraintLayout, "nil condition tree")
	}
	tree = Normalize(tree)

	if err := checkTree(tree, o.limits); err != nil {
		return nil, err
	}
	script, err := tree.Script()
	if err != nil {
		return nil, err
	}
	if err := checkScript(script, o.limits); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(script)
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
	if err != nil {
		return nil, err
	}

	compiled := &Compiled{
		Policy:        tree.String(),
		Tree:          tree,
		WitnessScript: script,
		PkScript:      pkScript,
	}
	logger.WithFields(logger.Fields{
		"leaves":      tree.NumLeaves(),
		"depth":       tree.Depth(),
		"script_size": len(script),
		"ops":         countOps(script),
	}).Debug("policy compiled")
	return compiled, nil
}

// Decompile recovers the policy behind a witness script produced by Compile.
func Decompile(witnessScript []byte, opts ...Option) (*Compiled, error) {
	// Bound the decoder's recursion by the size limit before decoding.
	if limit := newOptions(opts).limits.MaxScriptSize; len(witnessScript) > limit {
		return nil, compileErr(ConstraintScriptSize, "script is %d bytes, limit %d", len(witnessScript), limit)
	}
	tree, err := condition.FromScript(witnessScript)
	if err != nil {
		return nil, err
	}
	compiled, err := CompileTree(tree, opts...)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(compiled.WitnessScript, witnessScript) {
		return nil, compileErr(ConstraintLayout, "script nests and/or combinators that compile flattens")
	}
	return compiled, nil
}
