package compiler

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/TEENet-io/vault-policy/condition"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.'
}

func lex(text string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case isWordByte(c):
			start := i
			for i < len(text) && isWordByte(text[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: text[start:i], pos: start})
		default:
			return nil, &ParseError{Pos: i, Token: string(c), Msg: "unexpected character"}
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(text)}), nil
}

type parser struct {
	tokens   []token
	pos      int
	keys     map[string]*btcec.PublicKey
	maxDepth int
}

// Parse reads policy text into a condition tree without normalising it.
func Parse(text string, opts ...Option) (*condition.Condition, error) {
	o := newOptions(opts)
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, keys: o.keys, maxDepth: o.limits.MaxDepth}
	tree, err := p.expr(1)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "trailing input"}
	}
	return tree, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		if tok.kind == tokEOF {
			return tok, &ParseError{Pos: tok.pos, Msg: "unexpected end of input, expected " + what}
		}
		return tok, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "expected " + what}
	}
	return tok, nil
}

func wrapAt(tok token, err error) error {
	return &ParseError{Pos: tok.pos, Token: tok.text, Msg: err.Error(), Err: err}
}

func (p *parser) expr(depth int) (*condition.Condition, error) {
	if p.maxDepth > 0 && depth > p.maxDepth {
		return nil, compileErr(ConstraintDepth, "nesting deeper than %d", p.maxDepth)
	}
	name, err := p.expect(tokWord, "policy keyword")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}

	var node *condition.Condition
	switch keyword := strings.ToLower(name.text); keyword {
	case "pk":
		node, err = p.key()
	case "after", "older":
		node, err = p.timelock(keyword)
	case "and", "or":
		node, err = p.combinator(name, keyword, depth)
	case "thresh":
		node, err = p.thresh(name, depth)
	default:
		algo, ok := condition.HashAlgoByName(keyword)
		if !ok {
			return nil, &ParseError{Pos: name.pos, Token: name.text, Msg: "unknown policy keyword"}
		}
		node, err = p.hash(algo)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) key() (*condition.Condition, error) {
	tok, err := p.expect(tokWord, "key")
	if err != nil {
		return nil, err
	}
	if pub, ok := p.keys[tok.text]; ok {
		leaf, err := condition.NewKey(pub)
		if err != nil {
			return nil, wrapAt(tok, err)
		}
		return leaf, nil
	}
	if len(tok.text) != 2*btcec.PubKeyBytesLenCompressed {
		return nil, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "unknown key name"}
	}
	raw, err := hex.DecodeString(tok.text)
	if err != nil {
		return nil, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "bad hex in key"}
	}
	leaf, err := condition.NewKeyFromBytes(raw)
	if err != nil {
		return nil, wrapAt(tok, err)
	}
	return leaf, nil
}

func (p *parser) number(what string) (uint32, token, error) {
	tok, err := p.expect(tokWord, what)
	if err != nil {
		return 0, tok, err
	}
	n, err := strconv.ParseUint(tok.text, 10, 32)
	if err != nil {
		return 0, tok, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "non-numeric " + what}
	}
	return uint32(n), tok, nil
}

func (p *parser) timelock(keyword string) (*condition.Condition, error) {
	n, tok, err := p.number("lock value")
	if err != nil {
		return nil, err
	}
	var leaf *condition.Condition
	if keyword == "after" {
		leaf, err = condition.NewAfter(n)
	} else {
		leaf, err = condition.NewOlder(n)
	}
	if err != nil {
		return nil, wrapAt(tok, err)
	}
	return leaf, nil
}

func (p *parser) hash(algo condition.HashAlgo) (*condition.Condition, error) {
	tok, err := p.expect(tokWord, "digest")
	if err != nil {
		return nil, err
	}
	digest, err := hex.DecodeString(tok.text)
	if err != nil {
		return nil, &ParseError{Pos: tok.pos, Token: tok.text, Msg: "bad hex in digest"}
	}
	leaf, err := condition.NewHash(algo, digest)
	if err != nil {
		return nil, wrapAt(tok, err)
	}
	return leaf, nil
}

func (p *parser) children(depth int) ([]*condition.Condition, error) {
	var children []*condition.Condition
	for {
		child, err := p.expr(depth + 1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
		if p.peek().kind != tokComma {
			return children, nil
		}
		p.next()
	}
}

func (p *parser) combinator(name token, keyword string, depth int) (*condition.Condition, error) {
	children, err := p.children(depth)
	if err != nil {
		return nil, err
	}
	if len(children) < 2 {
		return nil, &ParseError{Pos: name.pos, Token: name.text, Msg: keyword + " needs at least two arguments"}
	}
	var node *condition.Condition
	if keyword == "and" {
		node, err = condition.And(children...)
	} else {
		node, err = condition.Or(children...)
	}
	if err != nil {
		return nil, wrapAt(name, err)
	}
	return node, nil
}

func (p *parser) thresh(name token, depth int) (*condition.Condition, error) {
	k, _, err := p.number("threshold")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	children, err := p.children(depth)
	if err != nil {
		return nil, err
	}
	node, err := condition.NewThreshold(int(k), children...)
	if err != nil {
		return nil, wrapAt(name, err)
	}
	return node, nil
}
