package script

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dshills/addonhost/internal/frame"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNil Kind = iota
	KindNumber
	KindString
	KindBool
	KindTable
	KindHandler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindTable:
		return "table"
	case KindHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Value is a script value as seen by the host.
// The zero Value is nil.
type Value struct {
	kind    Kind
	num     float64
	str     string
	boolean bool
	table   map[string]Value
	handler frame.HandlerRef
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Number returns a number value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Table returns a table value. The map is not copied.
func Table(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindTable, table: m}
}

// Handler returns a closure reference value.
func Handler(ref frame.HandlerRef) Value { return Value{kind: KindHandler, handler: ref} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsTable returns the table held by v. The map must not be modified.
func (v Value) AsTable() (map[string]Value, bool) { return v.table, v.kind == KindTable }

// AsHandler returns the closure reference held by v.
func (v Value) AsHandler() (frame.HandlerRef, bool) { return v.handler, v.kind == KindHandler }

// Field returns the value stored under key when v is a table.
func (v Value) Field(key string) Value {
	if v.kind != KindTable {
		return Nil()
	}
	return v.table[key]
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.kind != KindTable {
		return v
	}
	out := make(map[string]Value, len(v.table))
	for k, e := range v.table {
		out[k] = e.Clone()
	}
	return Table(out)
}

// Equal reports whether v and o hold the same data.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.boolean == o.boolean
	case KindHandler:
		return v.handler == o.handler
	case KindTable:
		return maps.EqualFunc(v.table, o.table, Value.Equal)
	default:
		return true
	}
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindHandler:
		return fmt.Sprintf("handler(%s#%d)", v.handler.Instance, v.handler.Token)
	case KindTable:
		keys := slices.Sorted(maps.Keys(v.table))
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v.table[k].String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return "nil"
	}
}

// GoValue converts v to plain Go data suitable for encoders.
// Integral numbers become int64, tables become map[string]any and
// handlers are dropped.
func (v Value) GoValue() any {
	switch v.kind {
	case KindNumber:
		if isIntegral(v.num) {
			return int64(v.num)
		}
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.boolean
	case KindTable:
		out := make(map[string]any, len(v.table))
		for k, e := range v.table {
			if e.kind == KindNil || e.kind == KindHandler {
				continue
			}
			out[k] = e.GoValue()
		}
		return out
	default:
		return nil
	}
}

// FromGo converts decoded Go data into a Value.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Nil(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return Nil(), fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return Table(out), nil
	case map[string]Value:
		return Table(t), nil
	case []any:
		out := make(map[string]Value, len(t))
		for i, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return Nil(), fmt.Errorf("[%d]: %w", i+1, err)
			}
			out[strconv.Itoa(i+1)] = ev
		}
		return Table(out), nil
	default:
		return Nil(), fmt.Errorf("%w: unsupported type %T", ErrNotPersistable, x)
	}
}

// FromGoMap converts a decoded record into a value map.
func FromGoMap(m map[string]any) (map[string]Value, error) {
	v, err := FromGo(m)
	if err != nil {
		return nil, err
	}
	t, _ := v.AsTable()
	return t, nil
}

// ToGoMap converts a value map into plain Go data.
func ToGoMap(m map[string]Value) map[string]any {
	out, _ := Table(m).GoValue().(map[string]any)
	return out
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53
}

func formatNumber(f float64) string {
	if isIntegral(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
