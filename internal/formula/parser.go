package formula

import "strconv"

// DefaultMaxDepth bounds expression nesting so later recursive evaluation is
// bounded too. Deeper input is rejected with a ParseError.
const DefaultMaxDepth = 40

type parser struct {
	tokens   []token
	pos      int
	depth    int
	maxDepth int
}

// Parse parses a formula with the default nesting bound.
func Parse(input string) (Node, error) {
	return ParseWithDepth(input, DefaultMaxDepth)
}

// ParseWithDepth parses a formula, rejecting expressions nested deeper than maxDepth.
func ParseWithDepth(input string, maxDepth int) (Node, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, maxDepth: maxDepth}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tk := p.peek(); tk.kind != tokEOF {
		return nil, &ParseError{Pos: tk.pos, Token: tk.text, Msg: "unexpected token after expression"}
	}
	return node, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tk := p.tokens[p.pos]
	if tk.kind != tokEOF {
		p.pos++
	}
	return tk
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		tk := p.peek()
		return &ParseError{Pos: tk.pos, Token: tk.text, Msg: "expression nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind == tokOp && tk.text == "or" || tk.kind == tokIdent && tk.text == "or" {
			p.next()
			right, err := p.parseAnd()
			if err != nil {
				return nil, err
			}
			left = &Binary{Pos: tk.pos, Op: "or", X: left, Y: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind == tokOp && tk.text == "and" || tk.kind == tokIdent && tk.text == "and" {
			p.next()
			right, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			left = &Binary{Pos: tk.pos, Op: "and", X: left, Y: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	tk := p.peek()
	if tk.kind == tokOp {
		switch tk.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &Binary{Pos: tk.pos, Op: tk.text, X: left, Y: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind == tokOp && (tk.text == "+" || tk.text == "-") {
			p.next()
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &Binary{Pos: tk.pos, Op: tk.text, X: left, Y: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tk := p.peek()
		if tk.kind == tokOp && (tk.text == "*" || tk.text == "/") {
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &Binary{Pos: tk.pos, Op: tk.text, X: left, Y: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseUnary() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	tk := p.peek()
	if tk.kind == tokOp && (tk.text == "-" || tk.text == "!") {
		p.next()
		op := tk.text
		if op == "!" {
			op = "not"
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: tk.pos, Op: op, X: x}, nil
	}
	if tk.kind == tokIdent && tk.text == "not" {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: tk.pos, Op: "not", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tk := p.next()
	switch tk.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tk.text, 64)
		if err != nil {
			return nil, &ParseError{Pos: tk.pos, Token: tk.text, Msg: "invalid number literal"}
		}
		return &NumberLit{Pos: tk.pos, Value: v}, nil

	case tokString:
		return &StringLit{Pos: tk.pos, Value: tk.text}, nil

	case tokRef:
		return &Ref{Pos: tk.pos, Field: tk.text}, nil

	case tokIdent:
		switch tk.text {
		case "true":
			return &BoolLit{Pos: tk.pos, Value: true}, nil
		case "false":
			return &BoolLit{Pos: tk.pos, Value: false}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(tk)
		}
		return nil, &ParseError{Pos: tk.pos, Token: tk.text, Msg: "bare identifier; field references use {{id}}"}

	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, &ParseError{Pos: closing.pos, Token: closing.text, Msg: "expected closing parenthesis"}
		}
		return inner, nil

	case tokEOF:
		return nil, &ParseError{Pos: tk.pos, Token: "", Msg: "unexpected end of expression"}
	}
	return nil, &ParseError{Pos: tk.pos, Token: tk.text, Msg: "unexpected token"}
}

func (p *parser) parseCall(name token) (Node, error) {
	p.next() // consume (
	call := &Call{Pos: name.pos, Name: name.text}
	if p.peek().kind == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		tk := p.next()
		if tk.kind == tokComma {
			continue
		}
		if tk.kind == tokRParen {
			return call, nil
		}
		return nil, &ParseError{Pos: tk.pos, Token: tk.text, Msg: "expected , or ) in argument list"}
	}
}
