package fhirpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse compiles an expression. Parse errors are fatal to profile load,
// so the error carries the full source text.
func Parse(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}
	lx := &lexer{src: src}
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("fhirpath: trailing input at offset %d in %q", p.peek().pos, src)
	}
	return &Expression{source: src, root: root}, nil
}

// MustParse panics on parse errors; for tests and static expressions.
func MustParse(src string) *Expression {
	expr, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return expr
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, fmt.Errorf("fhirpath: expected %s at offset %d in %q", what, t.pos, p.src)
	}
	return p.advance(), nil
}

// Operator precedence, lowest binds weakest.
const (
	precLowest = iota
	precImplies
	precOrXor
	precAnd
	precMembership
	precEquality
	precComparison
	precUnion
	precType
	precAdditive
	precMultiplicative
)

func binaryPrec(t token) (string, int, bool) {
	switch t.kind {
	case tokIdent:
		switch t.text {
		case "implies":
			return t.text, precImplies, true
		case "or", "xor":
			return t.text, precOrXor, true
		case "and":
			return t.text, precAnd, true
		case "in", "contains":
			return t.text, precMembership, true
		case "is", "as":
			return t.text, precType, true
		case "div", "mod":
			return t.text, precMultiplicative, true
		}
		return "", 0, false
	case tokEq, tokNeq, tokEquiv, tokNotEquiv:
		return t.text, precEquality, true
	case tokLt, tokLe, tokGt, tokGe:
		return t.text, precComparison, true
	case tokPipe:
		return "|", precUnion, true
	case tokPlus, tokMinus, tokAmp:
		return t.text, precAdditive, true
	case tokStar, tokSlash:
		return t.text, precMultiplicative, true
	}
	return "", 0, false
}

func (p *parser) parseExpr(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, prec, ok := binaryPrec(p.peek())
		if !ok || prec <= minPrec {
			return left, nil
		}
		p.advance()
		if op == "is" || op == "as" {
			typeName, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			left = typeOpExpr{op: op, operand: left, typeName: typeName}
			continue
		}
		right, err := p.parseExpr(prec)
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, l: left, r: right}
	}
}

func (p *parser) parseTypeName() (string, error) {
	t, err := p.expect(tokIdent, "type name")
	if err != nil {
		return "", err
	}
	name := t.text
	for p.peek().kind == tokDot {
		p.advance()
		part, err := p.expect(tokIdent, "type name")
		if err != nil {
			return "", err
		}
		name += "." + part.text
	}
	return name, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	switch p.peek().kind {
	case tokPlus, tokMinus:
		op := p.advance().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (exprNode, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.advance()
			step, err := p.parseInvocation()
			if err != nil {
				return nil, err
			}
			left = pathExpr{left: left, right: step}
		case tokLBracket:
			p.advance()
			idx, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			left = indexExpr{operand: left, index: idx}
		default:
			return left, nil
		}
	}
}

// parseInvocation parses an identifier or function call after a dot.
func (p *parser) parseInvocation() (exprNode, error) {
	t, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokLParen {
		return p.parseFuncCall(t.text)
	}
	return identExpr{name: t.text}, nil
}

func (p *parser) parseFuncCall(name string) (exprNode, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []exprNode
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return funcExpr{name: name, args: args}, nil
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokDollarThis:
		p.advance()
		return thisExpr{}, nil
	case tokString:
		p.advance()
		return literalExpr{val: String(t.text)}, nil
	case tokNumber:
		p.advance()
		return parseNumberLiteral(t.text)
	case tokDate:
		p.advance()
		return parseDateLiteral(t.text), nil
	case tokPercentVar:
		p.advance()
		// Environment variables (%ucum included) are not supported; yield empty.
		return emptyExpr{}, nil
	case tokIdent:
		switch t.text {
		case "true":
			p.advance()
			return literalExpr{val: Boolean(true)}, nil
		case "false":
			p.advance()
			return literalExpr{val: Boolean(false)}, nil
		}
		p.advance()
		if p.peek().kind == tokLParen {
			return p.parseFuncCall(t.text)
		}
		return identExpr{name: t.text}, nil
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("fhirpath: unexpected end of expression in %q", p.src)
	}
	return nil, fmt.Errorf("fhirpath: unexpected token %q at offset %d in %q", t.text, t.pos, p.src)
}

func parseNumberLiteral(text string) (exprNode, error) {
	if !strings.Contains(text, ".") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return literalExpr{val: Integer(n)}, nil
		}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: invalid number %q", text)
	}
	return literalExpr{val: Decimal(d)}, nil
}

func parseDateLiteral(text string) exprNode {
	if strings.HasPrefix(text, "T") {
		return literalExpr{val: Time(strings.TrimPrefix(text, "T"))}
	}
	if strings.Contains(text, "T") {
		return literalExpr{val: DateTime(text)}
	}
	return literalExpr{val: Date(text)}
}
