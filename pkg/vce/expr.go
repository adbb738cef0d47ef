// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Arithmetic expressions over named float symbols.
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "**" unary ]
//	primary = number | name | name "(" [ expr { "," expr } ] ")" | "(" expr ")"
//
// Names may carry a "Math." prefix, so "Math.sqrt($P)" and "sqrt($P)" are
// the same call.

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenName
	tokenOperator
	tokenLeftParen
	tokenRightParen
	tokenComma
)

type token struct {
	typ tokenType
	val string
	pos int
}

func (t token) String() string {
	if t.typ == tokenEOF {
		return "end of expression"
	}
	return strconv.Quote(t.val)
}

const mathPrefix = "Math."

func isNameStart(c byte) bool {
	return c == '$' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// lex splits input into tokens
func lex(input string) ([]token, error) {
	var tokens []token
	pos := 0

	for pos < len(input) {
		c := input[pos]
		start := pos

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			pos++

		case isDigit(c) || (c == '.' && pos+1 < len(input) && isDigit(input[pos+1])):
			for pos < len(input) && (isDigit(input[pos]) || input[pos] == '.') {
				pos++
			}
			if pos < len(input) && (input[pos] == 'e' || input[pos] == 'E') {
				exp := pos + 1
				if exp < len(input) && (input[exp] == '+' || input[exp] == '-') {
					exp++
				}
				if exp < len(input) && isDigit(input[exp]) {
					pos = exp
					for pos < len(input) && isDigit(input[pos]) {
						pos++
					}
				}
			}
			tokens = append(tokens, token{tokenNumber, input[start:pos], start})

		case isNameStart(c):
			for pos < len(input) && isNameChar(input[pos]) {
				pos++
			}
			// accept a single dotted segment for Math.xxx
			if input[start:pos] == "Math" && pos+1 < len(input) && input[pos] == '.' && isNameStart(input[pos+1]) {
				pos++
				for pos < len(input) && isNameChar(input[pos]) {
					pos++
				}
			}
			tokens = append(tokens, token{tokenName, input[start:pos], start})

		case c == '*' && pos+1 < len(input) && input[pos+1] == '*':
			pos += 2
			tokens = append(tokens, token{tokenOperator, "**", start})

		case strings.IndexByte("+-*/%", c) >= 0:
			pos++
			tokens = append(tokens, token{tokenOperator, string(c), start})

		case c == '(':
			pos++
			tokens = append(tokens, token{tokenLeftParen, "(", start})

		case c == ')':
			pos++
			tokens = append(tokens, token{tokenRightParen, ")", start})

		case c == ',':
			pos++
			tokens = append(tokens, token{tokenComma, ",", start})

		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, c, pos)
		}
	}

	return append(tokens, token{tokenEOF, "", len(input)}), nil
}

// node is a compiled expression tree element evaluated against a scope
type node interface {
	eval(scope []float64) float64
}

type numberNode float64

func (n numberNode) eval([]float64) float64 { return float64(n) }

type slotNode int

func (n slotNode) eval(scope []float64) float64 { return scope[n] }

type negateNode struct{ x node }

func (n negateNode) eval(scope []float64) float64 { return -n.x.eval(scope) }

type binaryNode struct {
	op   byte
	l, r node
}

func (n binaryNode) eval(scope []float64) float64 {
	l, r := n.l.eval(scope), n.r.eval(scope)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	case '%':
		return math.Mod(l, r)
	case '^':
		return math.Pow(l, r)
	}
	return math.NaN()
}

type callNode struct {
	fn   func(args []float64) float64
	args []node
}

func (n callNode) eval(scope []float64) float64 {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		args[i] = a.eval(scope)
	}
	return n.fn(args)
}

// function is a math builtin; arity -1 accepts one or more arguments
type function struct {
	arity int
	fn    func(args []float64) float64
}

func unary(f func(float64) float64) function {
	return function{1, func(a []float64) float64 { return f(a[0]) }}
}

func binary(f func(float64, float64) float64) function {
	return function{2, func(a []float64) float64 { return f(a[0], a[1]) }}
}

var functions = map[string]function{
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"exp":   unary(math.Exp),
	"log":   unary(math.Log),
	"log10": unary(math.Log10),
	"log2":  unary(math.Log2),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"asin":  unary(math.Asin),
	"acos":  unary(math.Acos),
	"atan":  unary(math.Atan),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"trunc": unary(math.Trunc),
	// halves round toward +Inf
	"round": unary(func(x float64) float64 { return math.Floor(x + 0.5) }),
	"pow":   binary(math.Pow),
	"atan2": binary(math.Atan2),
	"hypot": binary(math.Hypot),
	"min": {-1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			if math.IsNaN(v) {
				return v
			}
			m = math.Min(m, v)
		}
		return m
	}},
	"max": {-1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			if math.IsNaN(v) {
				return v
			}
			m = math.Max(m, v)
		}
		return m
	}},
}

var constants = map[string]float64{
	"PI": math.Pi,
	"E":  math.E,
}

// Resolver maps a symbol or parameter name to its scope slot
type Resolver func(name string) (slot int, ok bool)

// Expr is a compiled expression
type Expr struct {
	src  string
	root node
}

// Compile parses src and binds every name through resolve.
// Unknown names and functions are compile errors.
func Compile(src string, resolve Resolver) (*Expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", src, err)
	}

	p := &parser{tokens: tokens, resolve: resolve}
	root, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("%q: %w", src, err)
	}
	if t := p.peek(); t.typ != tokenEOF {
		return nil, fmt.Errorf("%q: %w: unexpected %s at offset %d", src, ErrSyntax, t, t.pos)
	}

	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression; scope must cover every resolved slot
func (e *Expr) Eval(scope []float64) float64 {
	return e.root.eval(scope)
}

func (e *Expr) String() string {
	return e.src
}

type parser struct {
	tokens  []token
	pos     int
	resolve Resolver
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.typ != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType, what string) error {
	if t := p.next(); t.typ != typ {
		return fmt.Errorf("%w: expected %s, got %s at offset %d", ErrSyntax, what, t, t.pos)
	}
	return nil
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokenOperator || (t.val != "+" && t.val != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.val[0], l: left, r: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.typ != tokenOperator || (t.val != "*" && t.val != "/" && t.val != "%") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.val[0], l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.typ == tokenOperator && (t.val == "-" || t.val == "+") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.val == "-" {
			return negateNode{x}, nil
		}
		return x, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ == tokenOperator && t.val == "**" {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: '^', l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()

	switch t.typ {
	case tokenNumber:
		v, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %s at offset %d", ErrSyntax, t, t.pos)
		}
		return numberNode(v), nil

	case tokenLeftParen:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRightParen, `")"`); err != nil {
			return nil, err
		}
		return x, nil

	case tokenName:
		if p.peek().typ == tokenLeftParen {
			return p.parseCall(t)
		}
		return p.parseName(t)
	}

	return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrSyntax, t, t.pos)
}

func (p *parser) parseName(t token) (node, error) {
	if p.resolve != nil {
		if slot, ok := p.resolve(t.val); ok {
			return slotNode(slot), nil
		}
	}
	if v, ok := constants[strings.TrimPrefix(t.val, mathPrefix)]; ok {
		return numberNode(v), nil
	}
	return nil, fmt.Errorf("%w: %q at offset %d", ErrUnknownSymbol, t.val, t.pos)
}

func (p *parser) parseCall(t token) (node, error) {
	name := strings.TrimPrefix(t.val, mathPrefix)
	fn, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q at offset %d", ErrUnknownFunction, t.val, t.pos)
	}
	p.next() // "("

	var args []node
	if p.peek().typ != tokenRightParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().typ != tokenComma {
				break
			}
			p.next()
		}
	}
	if err := p.expect(tokenRightParen, `")"`); err != nil {
		return nil, err
	}

	if (fn.arity >= 0 && len(args) != fn.arity) || (fn.arity < 0 && len(args) == 0) {
		return nil, fmt.Errorf("%w: %s takes %s, got %d", ErrSyntax, name, arityString(fn.arity), len(args))
	}

	return callNode{fn: fn.fn, args: args}, nil
}

func arityString(n int) string {
	switch n {
	case -1:
		return "at least 1 argument"
	case 1:
		return "1 argument"
	default:
		return fmt.Sprintf("%d arguments", n)
	}
}
