package value

import (
	"reflect"
	"testing"
)

func TestTableLen(t *testing.T) {
	for _, c := range []struct {
		name string
		keys []int64
		want int64
	}{
		{"empty", nil, 0},
		{"contiguous", []int64{1, 2, 3}, 3},
		{"hole", []int64{1, 2, 4}, 2},
		{"no prefix", []int64{2, 3}, 0},
		{"single", []int64{1}, 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			v := NewTable()
			for _, k := range c.keys {
				v.Table().SetIndex(k, String("x"))
			}
			if g := v.Table().Len(); g != c.want {
				t.Errorf("Len() == %d, want %d", g, c.want)
			}
		})
	}
}

func TestTableSetRemove(t *testing.T) {
	v := NewTable()
	v.Table().SetString("a", Integer(1))
	v.Table().SetString("a", Integer(2))
	if g := v.Table().GetString("a").Int(); g != 2 {
		t.Errorf("got %d, want 2", g)
	}
	if v.Table().Size() != 1 {
		t.Errorf("Size() == %d, want 1", v.Table().Size())
	}
	v.Table().SetString("a", None)
	if v.Table().Has(String("a")) {
		t.Error("entry not removed by nil store")
	}
}

func TestTableOrder(t *testing.T) {
	v := NewTable()
	for _, k := range []string{"c", "a", "b"} {
		v.Table().SetString(k, Boolean(true))
	}
	var got []string
	for _, k := range v.Table().Keys() {
		got = append(got, k.Str())
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("keys %v, want %v", got, want)
	}
}

func TestEqual(t *testing.T) {
	tab := NewTable()
	for _, c := range []struct {
		a, b Value
		want bool
	}{
		{None, None, true},
		{Boolean(true), Boolean(true), true},
		{Boolean(true), Boolean(false), false},
		{Integer(1), Integer(1), true},
		{Integer(1), Number(1), false}, // variant matters
		{String("a"), String("a"), true},
		{String("a"), String("b"), false},
		{None, Boolean(false), false},
		{tab, tab, true},
		{tab, NewTable(), false},
	} {
		if g := c.a.Equal(c.b); g != c.want {
			t.Errorf("Equal(%v, %v) == %v, want %v", c.a, c.b, g, c.want)
		}
	}
}

func TestClone(t *testing.T) {
	v := NewTable()
	inner := NewTable()
	inner.Table().SetString("x", Integer(1))
	v.Table().SetString("inner", inner)

	cl := v.Clone()
	cl.Table().GetString("inner").Table().SetString("x", Integer(2))
	if g := inner.Table().GetString("x").Int(); g != 1 {
		t.Errorf("clone shares table storage: got %d, want 1", g)
	}
}

func TestInterfaceRoundTrip(t *testing.T) {
	raw := map[string]any{
		"name":    "screen",
		"width":   int64(80),
		"scale":   1.5,
		"enabled": true,
		"entries": []any{"a", "b"},
	}
	v := FromInterface(raw)
	got, ok := v.Interface().(map[string]any)
	if !ok {
		t.Fatalf("Interface() == %T, want map", v.Interface())
	}
	if !reflect.DeepEqual(got, raw) {
		t.Errorf("round trip\n got %#v\nwant %#v", got, raw)
	}
}

func TestInterfaceList(t *testing.T) {
	v := NewTable()
	v.Table().Append(String("a"))
	v.Table().Append(String("b"))
	got, ok := v.Interface().([]any)
	if !ok || len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Interface() == %#v, want [a b]", v.Interface())
	}
}

func TestTruth(t *testing.T) {
	for _, c := range []struct {
		v    Value
		want bool
	}{
		{None, false},
		{Boolean(false), false},
		{Boolean(true), true},
		{Integer(0), true},
		{String(""), true},
	} {
		if g := c.v.Truth(); g != c.want {
			t.Errorf("Truth(%v) == %v, want %v", c.v, g, c.want)
		}
	}
}
