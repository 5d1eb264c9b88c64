package condition

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// Every node has two encodings:
//   - B form leaves exactly one item on the stack, true iff satisfied.
//   - V form consumes its witness items, leaves nothing and aborts the
//     script when unsatisfied.
//
// A threshold needing all n children is the concatenation V(c1)..V(cn-1)
// followed by B(cn) (or V(cn) in V form). Any other threshold wraps each
// child as IF V(c) 1 ELSE 0 ENDIF and sums the results through the alt stack:
//
//	W(c1) TOALTSTACK W(c2) FROMALTSTACK ADD ... <k> EQUAL
//
// so every child costs one selector item in the witness.

// hashSizeCheck is the preimage length enforced by OP_SIZE.
const hashSizeCheck = PreimageLen

// Script returns the canonical witness script for the tree.
func (c *Condition) Script() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	c.build(b, false)
	return b.Script()
}

func (c *Condition) build(b *txscript.ScriptBuilder, verify bool) {
	switch c.kind {
	case KindKey:
		b.AddData(c.key)
		if verify {
			b.AddOp(txscript.OP_CHECKSIGVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKSIG)
		}

	case KindAfter, KindOlder:
		b.AddInt64(int64(c.lock))
		if c.kind == KindAfter {
			b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
		} else {
			b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
		}
		if verify {
			b.AddOp(txscript.OP_DROP)
		}

	case KindHash:
		b.AddOp(txscript.OP_SIZE)
		b.AddInt64(hashSizeCheck)
		b.AddOp(txscript.OP_EQUALVERIFY)
		b.AddOp(c.algo.opcode())
		b.AddData(c.digest)
		addEqual(b, verify)

	case KindThreshold:
		n := len(c.children)
		if n == 1 {
			c.children[0].build(b, verify)
			return
		}
		if c.k == n {
			for i, child := range c.children {
				child.build(b, verify || i < n-1)
			}
			return
		}
		for i, child := range c.children {
			if i > 0 {
				b.AddOp(txscript.OP_TOALTSTACK)
			}
			b.AddOp(txscript.OP_IF)
			child.build(b, true)
			b.AddOp(txscript.OP_1)
			b.AddOp(txscript.OP_ELSE)
			b.AddOp(txscript.OP_0)
			b.AddOp(txscript.OP_ENDIF)
			if i > 0 {
				b.AddOp(txscript.OP_FROMALTSTACK)
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(c.k))
		addEqual(b, verify)
	}
}

func addEqual(b *txscript.ScriptBuilder, verify bool) {
	if verify {
		b.AddOp(txscript.OP_EQUALVERIFY)
	} else {
		b.AddOp(txscript.OP_EQUAL)
	}
}

type scriptToken struct {
	op   byte
	data []byte
}

// FromScript decodes a witness script produced by Script. Scripts that
// parse but would not re-encode to the same bytes are rejected, which
// makes Script(FromScript(s)) == s for every accepted s.
func FromScript(script []byte) (*Condition, error) {
	tokens, err := tokenize(script)
	if err != nil {
		return nil, err
	}
	p := &scriptParser{tokens: tokens}
	cond, verify, err := p.parseSeq()
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, nonCanonical(p.pos, "no condition found")
	}
	if verify {
		return nil, nonCanonical(p.pos, "script leaves no result on the stack")
	}
	if p.pos != len(p.tokens) {
		return nil, nonCanonical(p.pos, "unexpected trailing opcode 0x%02x", p.tokens[p.pos].op)
	}

	reencoded, err := cond.Script()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reencoded, script) {
		return nil, nonCanonical(0, "script does not use the canonical encoding")
	}
	return cond, nil
}

func tokenize(script []byte) ([]scriptToken, error) {
	var tokens []scriptToken
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		tokens = append(tokens, scriptToken{
			op:   tokenizer.Opcode(),
			data: tokenizer.Data(),
		})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, nonCanonical(len(tokens), "%v", err)
	}
	return tokens, nil
}

type scriptParser struct {
	tokens []scriptToken
	pos    int
}

func (p *scriptParser) peek(offset int) (scriptToken, bool) {
	i := p.pos + offset
	if i >= len(p.tokens) {
		return scriptToken{}, false
	}
	return p.tokens[i], true
}

func (p *scriptParser) expect(op byte) error {
	tok, ok := p.peek(0)
	if !ok {
		return nonCanonical(p.pos, "expected opcode 0x%02x, got end of script", op)
	}
	if tok.op != op {
		return nonCanonical(p.pos, "expected opcode 0x%02x, got 0x%02x", op, tok.op)
	}
	p.pos++
	return nil
}

// parseSeq reads consecutive items. All but the last must be in V form;
// more than one item is an and(). The returned flag reports whether the
// last item was in V form.
func (p *scriptParser) parseSeq() (*Condition, bool, error) {
	var (
		items  []*Condition
		verify bool
	)
	for {
		item, itemVerify, ok, err := p.parseItem()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		if len(items) > 0 && !verify {
			return nil, false, nonCanonical(p.pos, "result left on the stack before another condition")
		}
		items = append(items, item)
		verify = itemVerify
	}
	switch len(items) {
	case 0:
		return nil, false, nil
	case 1:
		return items[0], verify, nil
	}
	cond, err := And(items...)
	if err != nil {
		return nil, false, err
	}
	return cond, verify, nil
}

// parseItem reads one leaf or one selector threshold. ok is false when the
// next token does not start an item.
func (p *scriptParser) parseItem() (*Condition, bool, bool, error) {
	tok, ok := p.peek(0)
	if !ok {
		return nil, false, false, nil
	}
	next, hasNext := p.peek(1)

	switch {
	case tok.op == txscript.OP_DATA_33 && hasNext &&
		(next.op == txscript.OP_CHECKSIG || next.op == txscript.OP_CHECKSIGVERIFY):
		pub, err := btcec.ParsePubKey(tok.data)
		if err != nil {
			return nil, false, false, nonCanonical(p.pos, "invalid public key: %v", err)
		}
		cond, err := NewKey(pub)
		if err != nil {
			return nil, false, false, err
		}
		p.pos += 2
		return cond, next.op == txscript.OP_CHECKSIGVERIFY, true, nil

	case isNumber(tok) && hasNext &&
		(next.op == txscript.OP_CHECKLOCKTIMEVERIFY || next.op == txscript.OP_CHECKSEQUENCEVERIFY):
		lock, err := p.number()
		if err != nil {
			return nil, false, false, err
		}
		var cond *Condition
		if next.op == txscript.OP_CHECKLOCKTIMEVERIFY {
			cond, err = NewAfter(lock)
		} else {
			cond, err = NewOlder(lock)
		}
		if err != nil {
			return nil, false, false, err
		}
		p.pos++
		verify := false
		if drop, ok := p.peek(0); ok && drop.op == txscript.OP_DROP {
			p.pos++
			verify = true
		}
		return cond, verify, true, nil

	case tok.op == txscript.OP_SIZE:
		cond, verify, err := p.parseHash()
		return cond, verify, err == nil, err

	case tok.op == txscript.OP_IF:
		cond, verify, err := p.parseSelectorThreshold()
		return cond, verify, err == nil, err
	}
	return nil, false, false, nil
}

func (p *scriptParser) parseHash() (*Condition, bool, error) {
	if err := p.expect(txscript.OP_SIZE); err != nil {
		return nil, false, err
	}
	size, err := p.number()
	if err != nil {
		return nil, false, err
	}
	if size != hashSizeCheck {
		return nil, false, nonCanonical(p.pos, "preimage size check %d, want %d", size, hashSizeCheck)
	}
	if err := p.expect(txscript.OP_EQUALVERIFY); err != nil {
		return nil, false, err
	}
	tok, ok := p.peek(0)
	if !ok {
		return nil, false, nonCanonical(p.pos, "missing hash opcode")
	}
	algo, ok := hashAlgoByOpcode(tok.op)
	if !ok {
		return nil, false, nonCanonical(p.pos, "unknown hash opcode 0x%02x", tok.op)
	}
	p.pos++
	digest, ok := p.peek(0)
	if !ok || digest.data == nil {
		return nil, false, nonCanonical(p.pos, "missing digest push")
	}
	p.pos++
	cond, err := NewHash(algo, digest.data)
	if err != nil {
		return nil, false, err
	}
	verify, err := p.equal()
	if err != nil {
		return nil, false, err
	}
	return cond, verify, nil
}

func (p *scriptParser) parseSelectorThreshold() (*Condition, bool, error) {
	var children []*Condition
	child, err := p.parseSelector()
	if err != nil {
		return nil, false, err
	}
	children = append(children, child)
	for {
		tok, ok := p.peek(0)
		if !ok || tok.op != txscript.OP_TOALTSTACK {
			break
		}
		p.pos++
		child, err := p.parseSelector()
		if err != nil {
			return nil, false, err
		}
		if err := p.expect(txscript.OP_FROMALTSTACK); err != nil {
			return nil, false, err
		}
		if err := p.expect(txscript.OP_ADD); err != nil {
			return nil, false, err
		}
		children = append(children, child)
	}
	k, err := p.number()
	if err != nil {
		return nil, false, err
	}
	verify, err := p.equal()
	if err != nil {
		return nil, false, err
	}
	cond, err := NewThreshold(int(k), children...)
	if err != nil {
		return nil, false, err
	}
	return cond, verify, nil
}

// parseSelector reads IF V(c) 1 ELSE 0 ENDIF.
func (p *scriptParser) parseSelector() (*Condition, error) {
	if err := p.expect(txscript.OP_IF); err != nil {
		return nil, err
	}
	child, verify, err := p.parseSeq()
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, nonCanonical(p.pos, "empty selector branch")
	}
	if !verify {
		return nil, nonCanonical(p.pos, "selector branch must end in a verify form")
	}
	for _, op := range []byte{txscript.OP_1, txscript.OP_ELSE, txscript.OP_0, txscript.OP_ENDIF} {
		if err := p.expect(op); err != nil {
			return nil, err
		}
	}
	return child, nil
}

func (p *scriptParser) equal() (bool, error) {
	tok, ok := p.peek(0)
	if !ok {
		return false, nonCanonical(p.pos, "expected EQUAL, got end of script")
	}
	switch tok.op {
	case txscript.OP_EQUAL:
		p.pos++
		return false, nil
	case txscript.OP_EQUALVERIFY:
		p.pos++
		return true, nil
	}
	return false, nonCanonical(p.pos, "expected EQUAL, got 0x%02x", tok.op)
}

// Script numbers used by the layout are at most 5 bytes long, like the
// operands of CHECKLOCKTIMEVERIFY.
const maxNumLen = 5

func isNumber(tok scriptToken) bool {
	if tok.op >= txscript.OP_1 && tok.op <= txscript.OP_16 {
		return true
	}
	return tok.op >= txscript.OP_DATA_1 && tok.op <= txscript.OP_DATA_5
}

func (p *scriptParser) number() (uint32, error) {
	tok, ok := p.peek(0)
	if !ok || !isNumber(tok) {
		return 0, nonCanonical(p.pos, "expected a number")
	}
	p.pos++
	if tok.op >= txscript.OP_1 && tok.op <= txscript.OP_16 {
		return uint32(tok.op-txscript.OP_1) + 1, nil
	}
	num, err := txscript.MakeScriptNum(tok.data, true, maxNumLen)
	if err != nil {
		return 0, nonCanonical(p.pos-1, "%v", err)
	}
	if num < 0 || int64(num) > int64(^uint32(0)) {
		return 0, nonCanonical(p.pos-1, "number %d out of range", int64(num))
	}
	return uint32(num), nil
}
