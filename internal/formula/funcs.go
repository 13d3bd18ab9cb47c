package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// functions is the fixed library. Adding an entry here is the only way a
// formula can call code.
var functions = map[string]func(args []any) (any, error){
	"sum":          fnSum,
	"min":          fnMin,
	"max":          fnMax,
	"abs":          fnAbs,
	"round":        fnRound,
	"len":          fnLen,
	"concat":       fnConcat,
	"upper":        fnUpper,
	"lower":        fnLower,
	"trim":         fnTrim,
	"if":           fnIf,
	"coalesce":     fnCoalesce,
	"date_add":     fnDateAdd,
	"days_between": fnDaysBetween,
}

// IsFunction reports whether name is in the fixed library.
func IsFunction(name string) bool {
	_, ok := functions[name]
	return ok
}

// sum ignores nulls; an all-null (or empty) argument list sums to 0.
func fnSum(args []any) (any, error) {
	total := 0.0
	for _, a := range args {
		if a == nil {
			continue
		}
		n, ok := asNumber(a)
		if !ok {
			return nil, &TypeMismatchError{Op: "sum", Value: a}
		}
		total += n
	}
	return total, nil
}

func fnMin(args []any) (any, error) {
	return foldNumeric("min", args, func(acc, n float64) float64 { return math.Min(acc, n) })
}

func fnMax(args []any) (any, error) {
	return foldNumeric("max", args, func(acc, n float64) float64 { return math.Max(acc, n) })
}

// foldNumeric skips nulls; with no non-null argument the result is null.
func foldNumeric(op string, args []any, combine func(acc, n float64) float64) (any, error) {
	var acc float64
	seeded := false
	for _, a := range args {
		if a == nil {
			continue
		}
		n, ok := asNumber(a)
		if !ok {
			return nil, &TypeMismatchError{Op: op, Value: a}
		}
		if !seeded {
			acc = n
			seeded = true
			continue
		}
		acc = combine(acc, n)
	}
	if !seeded {
		return nil, nil
	}
	return acc, nil
}

func fnAbs(args []any) (any, error) {
	if err := arity("abs", args, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, &TypeMismatchError{Op: "abs", Value: args[0]}
	}
	return math.Abs(n), nil
}

// round(x) or round(x, places).
func fnRound(args []any) (any, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, &TypeMismatchError{Op: "round", Value: fmt.Sprintf("%d arguments", len(args))}
	}
	if args[0] == nil {
		return nil, nil
	}
	n, ok := asNumber(args[0])
	if !ok {
		return nil, &TypeMismatchError{Op: "round", Value: args[0]}
	}
	places := 0.0
	if len(args) == 2 {
		p, ok := asNumber(args[1])
		if !ok {
			return nil, &TypeMismatchError{Op: "round", Value: args[1]}
		}
		places = p
	}
	scale := math.Pow(10, math.Trunc(places))
	return math.Round(n*scale) / scale, nil
}

func fnLen(args []any) (any, error) {
	if err := arity("len", args, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return float64(0), nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, &TypeMismatchError{Op: "len", Value: args[0]}
	}
	return float64(len([]rune(s))), nil
}

// concat renders nulls as "" and numbers/booleans with their canonical text form.
func fnConcat(args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(FormatValue(a))
	}
	return sb.String(), nil
}

func fnUpper(args []any) (any, error) { return mapString("upper", args, strings.ToUpper) }
func fnLower(args []any) (any, error) { return mapString("lower", args, strings.ToLower) }
func fnTrim(args []any) (any, error)  { return mapString("trim", args, strings.TrimSpace) }

func mapString(op string, args []any, f func(string) string) (any, error) {
	if err := arity(op, args, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, &TypeMismatchError{Op: op, Value: args[0]}
	}
	return f(s), nil
}

// if(cond, then, else). A null condition selects the else branch.
func fnIf(args []any) (any, error) {
	if err := arity("if", args, 3); err != nil {
		return nil, err
	}
	cond, err := asBool("if", args[0])
	if err != nil {
		return nil, err
	}
	if cond {
		return args[1], nil
	}
	return args[2], nil
}

func fnCoalesce(args []any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

// date_add(date, days) shifts an ISO date by a whole number of days.
func fnDateAdd(args []any) (any, error) {
	if err := arity("date_add", args, 2); err != nil {
		return nil, err
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	t, err := asDate("date_add", args[0])
	if err != nil {
		return nil, err
	}
	days, ok := asNumber(args[1])
	if !ok {
		return nil, &TypeMismatchError{Op: "date_add", Value: args[1]}
	}
	return t.AddDate(0, 0, int(math.Trunc(days))).Format(dateLayout), nil
}

// days_between(a, b) is the signed whole-day distance from a to b.
func fnDaysBetween(args []any) (any, error) {
	if err := arity("days_between", args, 2); err != nil {
		return nil, err
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	a, err := asDate("days_between", args[0])
	if err != nil {
		return nil, err
	}
	b, err := asDate("days_between", args[1])
	if err != nil {
		return nil, err
	}
	return math.Round(b.Sub(a).Hours() / 24), nil
}

func asDate(op string, v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, &TypeMismatchError{Op: op, Value: v}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &TypeMismatchError{Op: op, Value: s}
	}
	return t, nil
}

func arity(op string, args []any, want int) error {
	if len(args) != want {
		return &TypeMismatchError{Op: op, Value: fmt.Sprintf("%d arguments, want %d", len(args), want)}
	}
	return nil
}

// FormatValue renders a value the way concat and the CLI display it:
// null as "", numbers without a trailing exponent, booleans as true/false.
func FormatValue(v any) string {
	switch n := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", n)
	}
}
