package regmap

import (
	"fmt"
	"math"
	"math/bits"
	"reflect"
	"slices"
)

// Codec converts between the raw bits of a field, already shifted down to
// bit 0, and the value callers work with. Encode results are masked by the
// owning field, so a codec only has to clamp into its own domain.
type Codec interface {
	Decode(raw uint64) (any, error)
	Encode(value any) (uint64, error)
}

// quantization guard so exact multiples of a step do not floor one short
const floorEpsilon = 1e-9

// Identity passes raw values through unchanged.
type Identity struct{}

func (Identity) Decode(raw uint64) (any, error) { return raw, nil }

func (Identity) Encode(value any) (uint64, error) { return toUint(value) }

// Bool maps single-bit flags to booleans. Any non-zero value encodes to 1.
type Bool struct{}

func (Bool) Decode(raw uint64) (any, error) { return raw != 0, nil }

func (Bool) Encode(value any) (uint64, error) {
	v, err := toUint(value)
	if err != nil {
		return 0, err
	}
	if v != 0 {
		return 1, nil
	}
	return 0, nil
}

// Step is a quantized time base: value = (raw + 1) * Size.
// Encoding floors to the step below and clamps into [0, Max]; Max of zero
// leaves the upper bound to the field mask.
type Step struct {
	Size float64
	Max  uint64
}

func (c Step) Decode(raw uint64) (any, error) {
	return float64(raw+1) * c.Size, nil
}

func (c Step) Encode(value any) (uint64, error) {
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return clampFloor(math.Floor(f/c.Size+floorEpsilon)-1, c.Max), nil
}

// Gain is a power-of-two multiplier: raw 0 is 0.5x, raw n is 2^(n-1)x.
// Requested gains are clamped into [Min, Max] and rounded down to a power of two.
// Bits, when set, caps the raw code to the field width.
type Gain struct {
	Min  float64
	Max  float64
	Bits int
}

func (c Gain) Decode(raw uint64) (any, error) {
	if raw == 0 {
		return 0.5, nil
	}
	return math.Ldexp(1, int(raw)-1), nil
}

func (c Gain) Encode(value any) (uint64, error) {
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	lo := c.Min
	if lo < 0.5 {
		lo = 0.5
	}
	if f < lo {
		f = lo
	}
	if c.Max > 0 && f > c.Max {
		f = c.Max
	}
	top := uint64(math.MaxUint64)
	if c.Bits > 0 && c.Bits < 64 {
		top = 1<<c.Bits - 1
	}
	if math.IsInf(f, 1) {
		if c.Bits == 0 {
			return 0, invalidValue("unbounded gain %v", f)
		}
		return top, nil
	}
	// f = frac * 2^exp with frac in [0.5, 1), so floor(log2 f) + 1 == exp
	_, exp := math.Frexp(f)
	if exp < 0 {
		return 0, nil
	}
	return min(uint64(exp), top), nil
}

// Linear is value = raw * Scale + Offset, used for drive-current steps.
type Linear struct {
	Scale  float64
	Offset float64
	Max    uint64
}

func (c Linear) Decode(raw uint64) (any, error) {
	return float64(raw)*c.Scale + c.Offset, nil
}

func (c Linear) Encode(value any) (uint64, error) {
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return clampFloor(math.Floor((f-c.Offset)/c.Scale+floorEpsilon), c.Max), nil
}

// ByteSwap16 swaps the two bytes of a 16-bit field before handing it to Next.
// Registers are assembled big-endian, so this is how little-endian words are read.
type ByteSwap16 struct {
	Next Codec
}

func (c ByteSwap16) Decode(raw uint64) (any, error) {
	swapped := uint64(bits.ReverseBytes16(uint16(raw)))
	if c.Next == nil {
		return swapped, nil
	}
	return c.Next.Decode(swapped)
}

func (c ByteSwap16) Encode(value any) (uint64, error) {
	var raw uint64
	var err error
	if c.Next == nil {
		raw, err = toUint(value)
	} else {
		raw, err = c.Next.Encode(value)
	}
	if err != nil {
		return 0, err
	}
	if raw > math.MaxUint16 {
		raw = math.MaxUint16
	}
	return uint64(bits.ReverseBytes16(uint16(raw))), nil
}

// Float32 reinterprets 4 packed bytes as an IEEE-754 single.
type Float32 struct{}

func (Float32) Decode(raw uint64) (any, error) {
	return math.Float32frombits(uint32(raw)), nil
}

func (Float32) Encode(value any) (uint64, error) {
	if f, ok := value.(float32); ok {
		return uint64(math.Float32bits(f)), nil
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return uint64(math.Float32bits(float32(f))), nil
}

// Func wraps one-off formulas that do not fit the other codecs.
type Func struct {
	DecodeFunc func(raw uint64) (any, error)
	EncodeFunc func(value any) (uint64, error)
}

func (c Func) Decode(raw uint64) (any, error) {
	if c.DecodeFunc == nil {
		return raw, nil
	}
	return c.DecodeFunc(raw)
}

func (c Func) Encode(value any) (uint64, error) {
	if c.EncodeFunc == nil {
		return toUint(value)
	}
	return c.EncodeFunc(value)
}

// Lookup maps symbolic keys to fixed raw codes.
type Lookup[K comparable] struct {
	table   map[K]uint64
	reverse map[uint64]K
	keys    []K
}

// Enumerator is implemented by codecs with a closed set of keys.
type Enumerator interface {
	Keys() []any
}

func NewLookup[K comparable](table map[K]uint64) *Lookup[K] {
	l := &Lookup[K]{
		table:   make(map[K]uint64, len(table)),
		reverse: make(map[uint64]K, len(table)),
	}
	for k, raw := range table {
		l.table[k] = raw
		l.reverse[raw] = k
		l.keys = append(l.keys, k)
	}
	slices.SortFunc(l.keys, func(a, b K) int {
		ra, rb := l.table[a], l.table[b]
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		}
		return 0
	})
	return l
}

func (l *Lookup[K]) Decode(raw uint64) (any, error) {
	k, ok := l.reverse[raw]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownRawCode, raw)
	}
	return k, nil
}

func (l *Lookup[K]) Encode(value any) (uint64, error) {
	k, ok := convertKey[K](value)
	if !ok {
		return 0, invalidValue("%v (%T) is not a lookup key", value, value)
	}
	raw, ok := l.table[k]
	if !ok {
		return 0, invalidValue("%v is not one of %v", value, l.keys)
	}
	return raw, nil
}

// Keys returns the table keys ordered by raw code.
func (l *Lookup[K]) Keys() []any {
	out := make([]any, len(l.keys))
	for i, k := range l.keys {
		out[i] = k
	}
	return out
}

// Raw returns the code stored for key.
func (l *Lookup[K]) Raw(key K) (uint64, bool) {
	raw, ok := l.table[key]
	return raw, ok
}

// convertKey accepts K itself or a value of another numeric (or string) type
// that converts to K without loss, so Lookup[ChannelMode] takes a plain 12.
func convertKey[K comparable](value any) (K, bool) {
	var zero K
	if k, ok := value.(K); ok {
		return k, true
	}
	kt := reflect.TypeOf(zero)
	rv := reflect.ValueOf(value)
	if kt == nil || !rv.IsValid() {
		return zero, false
	}
	switch {
	case isNumeric(rv.Kind()) && isNumeric(kt.Kind()):
	case rv.Kind() == reflect.String && kt.Kind() == reflect.String:
	default:
		return zero, false
	}
	if !rv.CanConvert(kt) {
		return zero, false
	}
	converted := rv.Convert(kt)
	if !converted.Convert(rv.Type()).Equal(rv) {
		return zero, false
	}
	return converted.Interface().(K), true
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat(value any) (float64, error) {
	rv := reflect.ValueOf(value)
	var f float64
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			f = 1
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	default:
		return 0, invalidValue("%v (%T) is not numeric", value, value)
	}
	if math.IsNaN(f) {
		return 0, invalidValue("NaN")
	}
	return f, nil
}

// toUint clamps negative values to zero and truncates fractions.
func toUint(value any) (uint64, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, nil
		}
		return uint64(rv.Int()), nil
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	return clampFloor(math.Floor(f), 0), nil
}

func clampFloor(f float64, max uint64) uint64 {
	if f <= 0 {
		return 0
	}
	if max > 0 && f >= float64(max) {
		return max
	}
	if f >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(f)
}
