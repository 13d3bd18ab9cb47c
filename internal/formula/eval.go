package formula

import (
	"encoding/json"
	"strconv"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
)

// Eval evaluates a parsed formula against a snapshot. It is pure: same inputs,
// same output, no side effects.
//
// Null semantics: a reference absent from the snapshot evaluates to nil.
// Binary arithmetic with a nil operand yields nil; == and != compare nils
// structurally; ordered comparisons with a nil operand are false; boolean
// operators treat nil as false. Aggregates skip nils and concat renders nil
// as the empty string (see funcs.go).
//
// known, when non-nil, is the set of field ids the schema defines; a reference
// outside it fails with UnresolvedReferenceError instead of going to nil.
func Eval(node Node, snap domain.Snapshot, known map[string]struct{}) (any, error) {
	switch n := node.(type) {
	case *NumberLit:
		return n.Value, nil
	case *StringLit:
		return n.Value, nil
	case *BoolLit:
		return n.Value, nil

	case *Ref:
		if known != nil {
			if _, ok := known[n.Field]; !ok {
				return nil, &UnresolvedReferenceError{Field: n.Field}
			}
		}
		v, ok := snap[n.Field]
		if !ok {
			return nil, nil
		}
		return normalize(v), nil

	case *Unary:
		x, err := Eval(n.X, snap, known)
		if err != nil {
			return nil, err
		}
		return evalUnary(n.Op, x)

	case *Binary:
		x, err := Eval(n.X, snap, known)
		if err != nil {
			return nil, err
		}
		y, err := Eval(n.Y, snap, known)
		if err != nil {
			return nil, err
		}
		return evalBinary(n.Op, x, y)

	case *Call:
		fn, ok := functions[n.Name]
		if !ok {
			return nil, &UnknownFunctionError{Name: n.Name}
		}
		args := make([]any, len(n.Args))
		for i, argNode := range n.Args {
			v, err := Eval(argNode, snap, known)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(args)
	}
	return nil, &TypeMismatchError{Op: "eval", Value: node}
}

func evalUnary(op string, x any) (any, error) {
	switch op {
	case "-":
		if x == nil {
			return nil, nil
		}
		n, ok := asNumber(x)
		if !ok {
			return nil, &TypeMismatchError{Op: "-", Value: x}
		}
		return -n, nil
	case "not":
		b, err := asBool("not", x)
		if err != nil {
			return nil, err
		}
		return !b, nil
	}
	return nil, &TypeMismatchError{Op: op, Value: x}
}

func evalBinary(op string, x, y any) (any, error) {
	switch op {
	case "+", "-", "*", "/":
		// String concatenation via + is deliberate; every other arithmetic
		// operator is numeric only.
		if op == "+" {
			if xs, ok := x.(string); ok {
				ys, ok := y.(string)
				if !ok {
					if y == nil {
						return nil, nil
					}
					return nil, &TypeMismatchError{Op: "+", Value: y}
				}
				return xs + ys, nil
			}
		}
		if x == nil || y == nil {
			return nil, nil
		}
		xn, ok := asNumber(x)
		if !ok {
			return nil, &TypeMismatchError{Op: op, Value: x}
		}
		yn, ok := asNumber(y)
		if !ok {
			return nil, &TypeMismatchError{Op: op, Value: y}
		}
		switch op {
		case "+":
			return xn + yn, nil
		case "-":
			return xn - yn, nil
		case "*":
			return xn * yn, nil
		case "/":
			if yn == 0 {
				return nil, ErrDivisionByZero
			}
			return xn / yn, nil
		}

	case "==":
		return valuesEqual(x, y), nil
	case "!=":
		return !valuesEqual(x, y), nil

	case "<", "<=", ">", ">=":
		if x == nil || y == nil {
			return false, nil
		}
		if xs, ok := x.(string); ok {
			ys, ok := y.(string)
			if !ok {
				return nil, &TypeMismatchError{Op: op, Value: y}
			}
			return compareOrdered(op, stringCompare(xs, ys)), nil
		}
		xn, ok := asNumber(x)
		if !ok {
			return nil, &TypeMismatchError{Op: op, Value: x}
		}
		yn, ok := asNumber(y)
		if !ok {
			return nil, &TypeMismatchError{Op: op, Value: y}
		}
		switch {
		case xn < yn:
			return compareOrdered(op, -1), nil
		case xn > yn:
			return compareOrdered(op, 1), nil
		default:
			return compareOrdered(op, 0), nil
		}

	case "and":
		xb, err := asBool("and", x)
		if err != nil {
			return nil, err
		}
		if !xb {
			return false, nil
		}
		return asBoolResult("and", y)
	case "or":
		xb, err := asBool("or", x)
		if err != nil {
			return nil, err
		}
		if xb {
			return true, nil
		}
		return asBoolResult("or", y)
	}
	return nil, &TypeMismatchError{Op: op, Value: x}
}

func compareOrdered(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// normalize widens snapshot values so arithmetic and comparison see a single
// numeric representation.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		if err == nil {
			return f
		}
		return string(n)
	}
	return v
}

func asNumber(v any) (float64, bool) {
	switch n := normalize(v).(type) {
	case float64:
		return n, true
	}
	return 0, false
}

func asBool(op string, v any) (bool, error) {
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeMismatchError{Op: op, Value: v}
	}
	return b, nil
}

func asBoolResult(op string, v any) (any, error) {
	b, err := asBool(op, v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func valuesEqual(x, y any) bool {
	x, y = normalize(x), normalize(y)
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if xn, ok := asNumber(x); ok {
		if yn, ok := asNumber(y); ok {
			return xn == yn
		}
		return false
	}
	return x == y
}
