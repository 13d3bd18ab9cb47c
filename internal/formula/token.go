package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokRef
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes a formula string. It never panics; unknown characters are
// reported as a ParseError at their byte offset.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := input[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		// Field reference {{id}}.
		if strings.HasPrefix(input[i:], "{{") {
			end := strings.Index(input[i+2:], "}}")
			if end < 0 {
				return nil, &ParseError{Pos: i, Token: "{{", Msg: "unterminated field reference"}
			}
			name := strings.TrimSpace(input[i+2 : i+2+end])
			if !validFieldID(name) {
				return nil, &ParseError{Pos: i, Token: name, Msg: "invalid field id in reference"}
			}
			tokens = append(tokens, token{kind: tokRef, text: name, pos: i})
			i += end + 4
			continue
		}

		// String literal.
		if ch == '"' {
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < len(input) {
				c := input[j]
				if c == '\\' && j+1 < len(input) {
					switch input[j+1] {
					case '"':
						sb.WriteByte('"')
					case '\\':
						sb.WriteByte('\\')
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						return nil, &ParseError{Pos: j, Token: input[j : j+2], Msg: "unknown escape sequence"}
					}
					j += 2
					continue
				}
				if c == '"' {
					closed = true
					j++
					break
				}
				sb.WriteByte(c)
				j++
			}
			if !closed {
				return nil, &ParseError{Pos: i, Token: `"`, Msg: "unterminated string literal"}
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: i})
			i = j
			continue
		}

		// Number literal.
		if ch >= '0' && ch <= '9' {
			j := i
			seenDot := false
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.' && !seenDot) {
				if input[j] == '.' {
					seenDot = true
				}
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[i:j], pos: i})
			i = j
			continue
		}

		// Identifier or word operator (and/or/not/true/false, function names).
		if isIdentStart(rune(ch)) {
			j := i
			for j < len(input) && isIdentPart(rune(input[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: input[i:j], pos: i})
			i = j
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case '+', '-', '*', '/':
			tokens = append(tokens, token{kind: tokOp, text: string(ch), pos: i})
			i++
		case '=', '!', '<', '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokOp, text: input[i : i+2], pos: i})
				i += 2
				break
			}
			if ch == '=' {
				return nil, &ParseError{Pos: i, Token: "=", Msg: "use == for comparison"}
			}
			tokens = append(tokens, token{kind: tokOp, text: string(ch), pos: i})
			i++
		case '&', '|':
			if i+1 < len(input) && input[i+1] == ch {
				op := "and"
				if ch == '|' {
					op = "or"
				}
				tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
				i += 2
				break
			}
			return nil, &ParseError{Pos: i, Token: string(ch), Msg: "unexpected character"}
		default:
			return nil, &ParseError{Pos: i, Token: string(ch), Msg: "unexpected character"}
		}
	}
	tokens = append(tokens, token{kind: tokEOF, text: "", pos: len(input)})
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func validFieldID(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if i > 0 && !isIdentPart(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}
