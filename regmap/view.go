package regmap

import (
	"iter"
	"reflect"
)

// View is the decoded content of one register read.
type View struct {
	Register string
	Address  byte
	Raw      []byte

	names  []string
	values map[string]any
}

// Value returns the decoded value of a field.
func (v View) Value(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Uint returns a field value as an unsigned integer; booleans map to 0/1 and
// floats are truncated. Missing fields read as zero.
func (v View) Uint(name string) uint64 {
	rv := reflect.ValueOf(v.values[name])
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() > 0 {
			return uint64(rv.Int())
		}
	case reflect.Float32, reflect.Float64:
		if rv.Float() > 0 {
			return uint64(rv.Float())
		}
	}
	return 0
}

// Float returns a numeric field value as float64.
func (v View) Float(name string) float64 {
	f, err := toFloat(v.values[name])
	if err != nil {
		return 0
	}
	return f
}

func (v View) Bool(name string) bool {
	return v.Uint(name) != 0
}

// RawUint returns the low 64 bits of the raw image.
func (v View) RawUint() uint64 {
	var out uint64
	raw := v.Raw
	if len(raw) > 8 {
		raw = raw[len(raw)-8:]
	}
	for _, b := range raw {
		out = out<<8 | uint64(b)
	}
	return out
}

// Fields iterates over the decoded fields in register declaration order.
func (v View) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, name := range v.names {
			if !yield(name, v.values[name]) {
				return
			}
		}
	}
}

// Map returns a copy of the decoded fields.
func (v View) Map() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
