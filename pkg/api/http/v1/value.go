package v1

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	ErrNonFiniteDouble = errors.New("could not encode non-finite double")
	ErrTrailingData    = errors.New("unexpected data after JSON value")
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a dynamically typed JSON value. Integers and doubles are distinct
// variants: Int(1) is not equal to Double(1), and each survives a round trip
// through MarshalJSON/UnmarshalJSON with its variant intact.
//
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}

	return Value{kind: KindArray, arr: items}
}

func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}

	return Value{kind: KindObject, obj: fields}
}

// Ints builds an array of Int values.
func Ints(items ...int64) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, Int(item))
	}

	return Array(out...)
}

// Strings builds an array of String values.
func Strings(items ...string) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		out = append(out, String(item))
	}

	return Array(out...)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsDouble() (float64, bool) { return v.f, v.kind == KindDouble }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the array items. The slice is shared with the Value.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object fields. The map is shared with the Value.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Get looks up a field of an object value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}

	field, ok := v.obj[key]

	return field, ok
}

// Equal reports whether both values hold the same variant and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindDouble:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}

		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}

		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}

		for key, field := range v.obj {
			o, ok := other.obj[key]
			if !ok || !field.Equal(o) {
				return false
			}
		}

		return true
	}

	return false
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<" + err.Error() + ">"
	}

	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	if err := v.write(stream); err != nil {
		return nil, err
	}
	if stream.Error != nil {
		return nil, stream.Error
	}

	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())

	return out, nil
}

func (v Value) write(stream *jsoniter.Stream) error {
	switch v.kind {
	case KindNull:
		stream.WriteNil()
	case KindBool:
		stream.WriteBool(v.b)
	case KindInt:
		stream.WriteInt64(v.i)
	case KindDouble:
		literal, err := formatDouble(v.f)
		if err != nil {
			return err
		}

		stream.WriteRaw(literal)
	case KindString:
		stream.WriteString(v.s)
	case KindArray:
		stream.WriteArrayStart()
		for i, item := range v.arr {
			if i > 0 {
				stream.WriteMore()
			}

			if err := item.write(stream); err != nil {
				return err
			}
		}
		stream.WriteArrayEnd()
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for key := range v.obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		stream.WriteObjectStart()
		for i, key := range keys {
			if i > 0 {
				stream.WriteMore()
			}

			stream.WriteObjectField(key)
			if err := v.obj[key].write(stream); err != nil {
				return err
			}
		}
		stream.WriteObjectEnd()
	default:
		return fmt.Errorf("could not encode value of %v", v.kind)
	}

	return nil
}

// formatDouble always emits a literal that decodes back to a double, so 1.0
// is written as "1.0" rather than "1".
func formatDouble(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFiniteDouble
	}

	literal := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(literal, ".eE") {
		literal += ".0"
	}

	return literal, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

// Parse decodes a single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	v := read(iter)
	if iter.Error != nil {
		return Value{}, iter.Error
	}

	if next := iter.WhatIsNext(); next != jsoniter.InvalidValue {
		return Value{}, ErrTrailingData
	}

	return v, nil
}

func read(iter *jsoniter.Iterator) Value {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()

		return Null()
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool())
	case jsoniter.StringValue:
		return String(iter.ReadString())
	case jsoniter.NumberValue:
		literal := string(iter.ReadNumber())
		if iter.Error != nil {
			return Value{}
		}

		if !strings.ContainsAny(literal, ".eE") {
			if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
				return Int(i)
			}
		}

		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			iter.ReportError("read number", err.Error())

			return Value{}
		}

		return Double(f)
	case jsoniter.ArrayValue:
		items := []Value{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			items = append(items, read(it))

			return it.Error == nil
		})

		return Array(items...)
	case jsoniter.ObjectValue:
		fields := map[string]Value{}
		iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
			fields[key] = read(it)

			return it.Error == nil
		})

		return Object(fields)
	default:
		iter.ReportError("read value", "unexpected token")

		return Value{}
	}
}
