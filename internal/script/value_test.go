package script

import (
	"errors"
	"testing"

	"github.com/dshills/addonhost/internal/frame"
)

func TestValueAccessors(t *testing.T) {
	if !Nil().IsNil() || (Value{}).Kind() != KindNil {
		t.Error("zero value is not nil")
	}
	if n, ok := Number(2.5).AsNumber(); !ok || n != 2.5 {
		t.Errorf("AsNumber() = %v, %v", n, ok)
	}
	if _, ok := String("x").AsNumber(); ok {
		t.Error("string reported as number")
	}
	if s, ok := String("x").AsString(); !ok || s != "x" {
		t.Errorf("AsString() = %q, %v", s, ok)
	}
	if b, ok := Bool(true).AsBool(); !ok || !b {
		t.Errorf("AsBool() = %v, %v", b, ok)
	}
	ref := frame.HandlerRef{Instance: "i", Token: 3}
	if got, ok := Handler(ref).AsHandler(); !ok || got != ref {
		t.Errorf("AsHandler() = %+v, %v", got, ok)
	}
	if !Number(1).Field("x").IsNil() {
		t.Error("Field on non-table should be nil")
	}
}

func TestValueGoValue(t *testing.T) {
	v := Table(map[string]Value{
		"int":     Number(3),
		"float":   Number(1.5),
		"str":     String("s"),
		"bool":    Bool(false),
		"handler": Handler(frame.HandlerRef{Token: 1}),
		"nested":  Table(map[string]Value{"a": Number(-2)}),
	})

	got, ok := v.GoValue().(map[string]any)
	if !ok {
		t.Fatalf("GoValue() = %T", v.GoValue())
	}
	if got["int"] != int64(3) {
		t.Errorf("int = %#v, want int64(3)", got["int"])
	}
	if got["float"] != 1.5 {
		t.Errorf("float = %#v", got["float"])
	}
	if _, ok := got["handler"]; ok {
		t.Error("handler should be dropped")
	}
	nested, _ := got["nested"].(map[string]any)
	if nested["a"] != int64(-2) {
		t.Errorf("nested.a = %#v", nested["a"])
	}
}

func TestFromGo(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Nil()},
		{"int", 7, Number(7)},
		{"int64", int64(-1), Number(-1)},
		{"float", 0.25, Number(0.25)},
		{"string", "a", String("a")},
		{"bool", true, Bool(true)},
		{"map", map[string]any{"k": int64(1)}, Table(map[string]Value{"k": Number(1)})},
		{"slice", []any{"a", "b"}, Table(map[string]Value{"1": String("a"), "2": String("b")})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.in)
			if err != nil {
				t.Fatalf("FromGo() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("FromGo() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := FromGo(struct{}{}); !errors.Is(err, ErrNotPersistable) {
		t.Errorf("FromGo(struct) error = %v, want ErrNotPersistable", err)
	}
	if _, err := FromGo(map[string]any{"bad": []int{1}}); err == nil {
		t.Error("FromGo with nested unsupported type should fail")
	}
}

func TestValueCloneIsDeep(t *testing.T) {
	orig := Table(map[string]Value{"in": Table(map[string]Value{"x": Number(1)})})
	c := orig.Clone()
	inner, _ := c.Field("in").AsTable()
	inner["x"] = Number(2)

	if n, _ := orig.Field("in").Field("x").AsNumber(); n != 1 {
		t.Errorf("original mutated: x = %v", n)
	}
}

func TestValueString(t *testing.T) {
	v := Table(map[string]Value{"b": Number(2), "a": String("x"), "c": Number(0.5)})
	if got, want := v.String(), `{a="x", b=2, c=0.5}`; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}
