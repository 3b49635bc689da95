package value

import (
	"fmt"

	"go.starlark.net/starlark"
)

// ToStarlark converts v to its Starlark representation. Tables become
// dicts; handles are wrapped in an opaque Starlark value.
func ToStarlark(v Value) starlark.Value {
	switch v.Kind() {
	case KindNil:
		return starlark.None
	case KindBool:
		return starlark.Bool(v.Bool())
	case KindInt:
		return starlark.MakeInt64(v.Int())
	case KindNumber:
		return starlark.Float(v.Float())
	case KindString:
		return starlark.String(v.Str())
	case KindTable:
		d := starlark.NewDict(v.Table().Size())
		v.Table().Pairs(func(key, val Value) bool {
			d.SetKey(ToStarlark(key), ToStarlark(val))
			return true
		})
		return d
	case KindHandle:
		return &starHandle{h: v.Handle()}
	}
	return starlark.None
}

// FromStarlark converts a Starlark value to a Value. Lists and tuples
// become tables keyed 1..n.
func FromStarlark(sv starlark.Value) (Value, error) {
	switch sv := sv.(type) {
	case starlark.NoneType:
		return None, nil
	case starlark.Bool:
		return Boolean(bool(sv)), nil
	case starlark.Int:
		i, ok := sv.Int64()
		if !ok {
			return None, fmt.Errorf("integer %v out of range", sv)
		}
		return Integer(i), nil
	case starlark.Float:
		return Number(float64(sv)), nil
	case starlark.String:
		return String(string(sv)), nil
	case starlark.Bytes:
		return String(string(sv)), nil
	case *starlark.Dict:
		v := NewTable()
		for _, kv := range sv.Items() {
			key, err := FromStarlark(kv[0])
			if err != nil {
				return None, err
			}
			val, err := FromStarlark(kv[1])
			if err != nil {
				return None, err
			}
			v.Table().Set(key, val)
		}
		return v, nil
	case *starHandle:
		return Handle(sv.h), nil
	}
	if seq, ok := sv.(starlark.Indexable); ok {
		v := NewTable()
		for i := 0; i < seq.Len(); i++ {
			el, err := FromStarlark(seq.Index(i))
			if err != nil {
				return None, err
			}
			v.Table().Append(el)
		}
		return v, nil
	}
	return None, fmt.Errorf("cannot convert %s to a component value", sv.Type())
}

// Tuple converts the pack to a Starlark tuple.
func (p Pack) Tuple() starlark.Tuple {
	t := make(starlark.Tuple, len(p))
	for i, v := range p {
		t[i] = ToStarlark(v)
	}
	return t
}

// PackFromTuple converts Starlark call arguments to a Pack.
func PackFromTuple(args starlark.Tuple) (Pack, error) {
	p := make(Pack, 0, len(args))
	for i, a := range args {
		v, err := FromStarlark(a)
		if err != nil {
			return nil, fmt.Errorf("argument #%d: %w", i+1, err)
		}
		p = append(p, v)
	}
	return p, nil
}

// starHandle wraps an opaque host object for the guest. The guest can
// hold and pass it back but not inspect it.
type starHandle struct {
	h any
}

func (h *starHandle) String() string       { return fmt.Sprintf("<handle %p>", h.h) }
func (h *starHandle) Type() string         { return "handle" }
func (h *starHandle) Freeze()              {}
func (h *starHandle) Truth() starlark.Bool { return true }
func (h *starHandle) Hash() (uint32, error) {
	return starlark.String(fmt.Sprintf("%p", h)).Hash()
}
