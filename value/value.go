// Package value implements the dynamic values that cross the boundary
// between the host and the guest program: a tagged Value, ordered
// tables, and the Pack argument list used by component methods.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindNumber
	KindString
	KindTable
	KindHandle
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindInt, KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindHandle:
		return "handle"
	}
	return fmt.Sprintf("unknown (%d)", int(k))
}

// Value is a tagged dynamic value. The zero Value is nil.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    *Tbl
	h    any
}

var None = Value{}

func Boolean(b bool) Value   { return Value{kind: KindBool, b: b} }
func Integer(i int64) Value  { return Value{kind: KindInt, i: i} }
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Handle(h any) Value     { return Value{kind: KindHandle, h: h} }

// NewTable returns a Value holding a fresh empty table.
func NewTable() Value { return Value{kind: KindTable, t: &Tbl{}} }

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }
func (v Value) Bool() bool  { return v.b }
func (v Value) Handle() any { return v.h }
func (v Value) Table() *Tbl { return v.t }
func (v Value) Str() string { return v.s }

// Int returns the value as an integer, truncating a Number variant.
func (v Value) Int() int64 {
	if v.kind == KindNumber {
		i, err := safecast.Truncate[int64](v.f)
		if err != nil {
			return int64(v.f)
		}
		return i
	}
	return v.i
}

// Float returns the value as a float, widening an Int variant.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Truth reports the guest truthiness of v: everything except nil and
// false is true.
func (v Value) Truth() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	}
	return true
}

// Equal reports value equality by variant and payload. Tables compare
// by identity, handles by payload identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindNumber:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTable:
		return v.t == o.t
	case KindHandle:
		return v.h == o.h
	}
	return false
}

// Clone returns a deep copy of v. Handles are shared, not copied.
func (v Value) Clone() Value {
	if v.kind != KindTable {
		return v
	}
	t := &Tbl{entries: make([]entry, len(v.t.entries))}
	for i, e := range v.t.entries {
		t.entries[i] = entry{key: e.key.Clone(), val: e.val.Clone()}
	}
	return Value{kind: KindTable, t: t}
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindNumber:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindTable:
		var b strings.Builder
		b.WriteByte('{')
		for i, e := range v.t.entries {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%s", e.key.String(), e.val.String())
		}
		b.WriteByte('}')
		return b.String()
	case KindHandle:
		return fmt.Sprintf("handle(%v)", v.h)
	}
	return "?"
}

// Tbl is an ordered mapping from Value to Value.
type Tbl struct {
	entries []entry
}

type entry struct {
	key, val Value
}

// Get returns the value stored under key, or nil if absent.
func (t *Tbl) Get(key Value) Value {
	for _, e := range t.entries {
		if e.key.Equal(key) {
			return e.val
		}
	}
	return None
}

func (t *Tbl) GetString(key string) Value { return t.Get(String(key)) }
func (t *Tbl) GetIndex(i int64) Value     { return t.Get(Integer(i)) }

func (t *Tbl) Has(key Value) bool {
	for _, e := range t.entries {
		if e.key.Equal(key) {
			return true
		}
	}
	return false
}

// Set stores val under key, replacing any existing entry. Storing nil
// removes the entry.
func (t *Tbl) Set(key, val Value) {
	for i, e := range t.entries {
		if e.key.Equal(key) {
			if val.IsNil() {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
			} else {
				t.entries[i].val = val
			}
			return
		}
	}
	if !val.IsNil() {
		t.entries = append(t.entries, entry{key: key, val: val})
	}
}

func (t *Tbl) SetString(key string, val Value) { t.Set(String(key), val) }
func (t *Tbl) SetIndex(i int64, val Value)     { t.Set(Integer(i), val) }

// Append stores val under the next free 1-based integer index.
func (t *Tbl) Append(val Value) {
	t.SetIndex(t.Len()+1, val)
}

// Len returns the largest n such that integer keys 1..n are all
// present.
func (t *Tbl) Len() int64 {
	var n int64
	for t.Has(Integer(n + 1)) {
		n++
	}
	return n
}

// Size returns the total number of entries.
func (t *Tbl) Size() int { return len(t.entries) }

// Pairs calls fn for each entry in insertion order until fn returns
// false.
func (t *Tbl) Pairs(fn func(key, val Value) bool) {
	for _, e := range t.entries {
		if !fn(e.key, e.val) {
			return
		}
	}
}

// Keys returns the table's keys in insertion order.
func (t *Tbl) Keys() []Value {
	keys := make([]Value, len(t.entries))
	for i, e := range t.entries {
		keys[i] = e.key
	}
	return keys
}

// FromInterface converts a decoded configuration value (maps, slices,
// and scalars) into a Value tree. Map keys are sorted so that the
// result is deterministic.
func FromInterface(x any) Value {
	switch x := x.(type) {
	case nil:
		return None
	case bool:
		return Boolean(x)
	case int:
		return Integer(int64(x))
	case int64:
		return Integer(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		v := NewTable()
		for _, e := range x {
			v.Table().Append(FromInterface(e))
		}
		return v
	case []map[string]any:
		v := NewTable()
		for _, e := range x {
			v.Table().Append(FromInterface(e))
		}
		return v
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		v := NewTable()
		for _, k := range keys {
			v.Table().SetString(k, FromInterface(x[k]))
		}
		return v
	}
	return String(fmt.Sprint(x))
}

// Interface converts a Value tree back to plain Go data: tables whose
// keys form a contiguous 1..n integer prefix become slices, all other
// tables become string-keyed maps. Map entries holding handles are
// dropped; a handle inside a slice becomes a nil element.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindNumber:
		return v.f
	case KindString:
		return v.s
	case KindTable:
		n := v.t.Len()
		if int(n) == v.t.Size() && n > 0 {
			list := make([]any, 0, n)
			for i := int64(1); i <= n; i++ {
				list = append(list, v.t.GetIndex(i).Interface())
			}
			return list
		}
		m := make(map[string]any, v.t.Size())
		v.t.Pairs(func(key, val Value) bool {
			if val.Kind() == KindHandle || val.IsNil() {
				return true
			}
			m[key.String()] = val.Interface()
			return true
		})
		return m
	}
	return nil
}
