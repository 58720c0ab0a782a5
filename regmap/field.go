package regmap

import (
	"fmt"
	"math/big"
	"math/bits"
)

// Field is a named, masked bit range of a register bound to one codec.
// The mask is relative to the field offset, which is zero for every register
// up to 64 bits wide; wider registers place fields with Shifted.
type Field struct {
	name     string
	mask     uint64
	offset   uint
	codec    Codec
	register *Register
}

type FieldOption func(*Field)

func WithCodec(codec Codec) FieldOption {
	return func(f *Field) {
		f.codec = codec
	}
}

// Shifted moves the mask up by n bits inside the register image.
func Shifted(n uint) FieldOption {
	return func(f *Field) {
		f.offset = n
	}
}

func NewField(name string, mask uint64, opts ...FieldOption) *Field {
	f := &Field{name: name, mask: mask, codec: Identity{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Field) Name() string { return f.name }

func (f *Field) Codec() Codec { return f.codec }

// Register returns the register owning the field, nil until the field is
// attached by NewRegister.
func (f *Field) Register() *Register { return f.register }

// Mask returns the declared mask; Offset the number of bits it is shifted by.
func (f *Field) Mask() uint64 { return f.mask }

func (f *Field) Offset() uint { return f.offset }

// Width is the bit span covered by the mask.
func (f *Field) Width() int {
	if f.mask == 0 {
		return 0
	}
	return bits.Len64(f.mask) - bits.TrailingZeros64(f.mask)
}

func (f *Field) lsb() uint {
	return f.offset + uint(bits.TrailingZeros64(f.mask))
}

// span is the mask in register image coordinates.
func (f *Field) span() *big.Int {
	return new(big.Int).Lsh(new(big.Int).SetUint64(f.mask), f.offset)
}

// Extract returns the field bits of a big-endian register image, shifted down.
func (f *Field) Extract(raw []byte) uint64 {
	if f.mask == 0 {
		return 0
	}
	v := new(big.Int).SetBytes(raw)
	v.Rsh(v, f.lsb())
	v.And(v, new(big.Int).SetUint64(f.mask>>bits.TrailingZeros64(f.mask)))
	return v.Uint64()
}

// Insert returns a copy of raw with the field bits replaced by value. Bits
// outside the mask are left untouched and value bits outside it are dropped.
func (f *Field) Insert(raw []byte, value uint64) []byte {
	img := new(big.Int).SetBytes(raw)
	span := f.span()
	img.AndNot(img, span)
	v := new(big.Int).Lsh(new(big.Int).SetUint64(value), f.lsb())
	v.And(v, span)
	img.Or(img, v)
	// keep the image inside len(raw) bytes
	limit := new(big.Int).Lsh(big.NewInt(1), uint(len(raw))*8)
	img.Mod(img, limit)
	out := make([]byte, len(raw))
	img.FillBytes(out)
	return out
}

// Read decodes the field value out of a register image.
func (f *Field) Read(raw []byte) (any, error) {
	code := f.Extract(raw)
	v, err := f.codec.Decode(code)
	if err != nil {
		return code, fmt.Errorf("regmap: field %s: %w", f.name, err)
	}
	return v, nil
}

// Write encodes value and merges it into a copy of the register image.
func (f *Field) Write(raw []byte, value any) ([]byte, error) {
	code, err := f.codec.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("regmap: field %s: %w", f.name, err)
	}
	return f.Insert(raw, code), nil
}
