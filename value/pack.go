package value

import "fmt"

// Pack is an ordered sequence of Values used as method arguments and
// return payloads.
type Pack []Value

// PackOf builds a Pack from Go values. Supported kinds are nil, bool,
// int, int64, float64, string, []byte, Value, and *Tbl; anything else,
// including other numeric types, becomes a handle.
func PackOf(vs ...any) Pack {
	p := make(Pack, 0, len(vs))
	for _, v := range vs {
		p = append(p, Of(v))
	}
	return p
}

// Of converts a single Go value as PackOf does.
func Of(v any) Value {
	switch v := v.(type) {
	case nil:
		return None
	case Value:
		return v
	case *Tbl:
		return Value{kind: KindTable, t: v}
	case bool:
		return Boolean(v)
	case int:
		return Integer(int64(v))
	case int64:
		return Integer(v)
	case float64:
		return Number(v)
	case string:
		return String(v)
	case []byte:
		return String(string(v))
	}
	return Handle(v)
}

// Clone returns a deep copy of the pack.
func (p Pack) Clone() Pack {
	out := make(Pack, len(p))
	for i, v := range p {
		out[i] = v.Clone()
	}
	return out
}

// At returns the i-th element (0-based), or nil if out of range.
func (p Pack) At(i int) Value {
	if i < 0 || i >= len(p) {
		return None
	}
	return p[i]
}

// ArgError reports a guest-supplied argument of the wrong kind. The
// index is 1-based, the way the guest counts.
type ArgError struct {
	Index int
	Want  Kind
	Got   Kind
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("bad argument #%d (%s expected, got %s)", e.Index, e.Want, e.Got)
}

// Scalar is the set of Go types an argument can be extracted as.
type Scalar interface {
	bool | int64 | float64 | string | *Tbl
}

// Arg coerces the argument at index (0-based) to T. Int and Number
// variants convert to either numeric type; all other kinds must match
// exactly.
func Arg[T Scalar](p Pack, index int) (T, error) {
	var zero T
	v := p.At(index)
	got, ok := extract[T](v)
	if !ok {
		return zero, &ArgError{Index: index + 1, Want: wantKind[T](), Got: v.Kind()}
	}
	return got, nil
}

// OptArg is Arg with a default: a missing or nil argument yields def.
func OptArg[T Scalar](p Pack, index int, def T) (T, error) {
	if p.At(index).IsNil() {
		return def, nil
	}
	return Arg[T](p, index)
}

func extract[T Scalar](v Value) (T, bool) {
	var zero T
	switch any(zero).(type) {
	case bool:
		if v.Kind() == KindBool {
			return any(v.Bool()).(T), true
		}
	case int64:
		if v.Kind() == KindInt || v.Kind() == KindNumber {
			return any(v.Int()).(T), true
		}
	case float64:
		if v.Kind() == KindInt || v.Kind() == KindNumber {
			return any(v.Float()).(T), true
		}
	case string:
		if v.Kind() == KindString {
			return any(v.Str()).(T), true
		}
	case *Tbl:
		if v.Kind() == KindTable {
			return any(v.Table()).(T), true
		}
	}
	return zero, false
}

func wantKind[T Scalar]() Kind {
	var zero T
	switch any(zero).(type) {
	case bool:
		return KindBool
	case int64, float64:
		return KindNumber
	case string:
		return KindString
	case *Tbl:
		return KindTable
	}
	return KindNil
}
