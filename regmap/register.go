package regmap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
)

// AnyBank marks registers reachable whatever bank is selected.
const AnyBank = -1

// registerWidths are the supported register sizes in bits: plain registers
// and the 18 slot data blocks (bytes or words).
var registerWidths = []int{8, 16, 32, 18 * 8, 18 * 16}

// Values carries field values keyed by field name for Register.Set.
type Values map[string]any

// Register is an addressed, fixed-width location built from non-overlapping
// fields. It holds no cached value: every Get and Set goes to the transport,
// because status bits and FIFO levels change on the device side.
type Register struct {
	name      string
	address   byte
	width     int
	fields    []*Field
	byName    map[string]*Field
	readOnly  bool
	writeOnly bool
	bank      int
	device    *Device
}

type RegisterOption func(*Register)

// Width sets the register width in bits (default 8).
func Width(bits int) RegisterOption {
	return func(r *Register) {
		r.width = bits
	}
}

func ReadOnly() RegisterOption {
	return func(r *Register) {
		r.readOnly = true
	}
}

// WriteOnly skips the read half of read-modify-write: unnamed fields are
// written as zero.
func WriteOnly() RegisterOption {
	return func(r *Register) {
		r.writeOnly = true
	}
}

// InBank ties the register to a register bank; the device selects that bank
// before touching it.
func InBank(bank uint8) RegisterOption {
	return func(r *Register) {
		r.bank = int(bank)
	}
}

func NewRegister(name string, address byte, fields []*Field, opts ...RegisterOption) *Register {
	r := &Register{
		name:    name,
		address: address,
		width:   8,
		bank:    AnyBank,
		byName:  make(map[string]*Field, len(fields)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, f := range fields {
		f.register = r
		r.fields = append(r.fields, f)
		r.byName[f.name] = f
	}
	return r
}

func (r *Register) Name() string { return r.name }

func (r *Register) Address() byte { return r.address }

// Width returns the register width in bits.
func (r *Register) Width() int { return r.width }

// Size returns the number of bytes moved on the wire.
func (r *Register) Size() int { return (r.width + 7) / 8 }

func (r *Register) ReadOnly() bool { return r.readOnly }

// Bank returns the bank the register lives in, or AnyBank.
func (r *Register) Bank() int { return r.bank }

// Fields returns the fields in declaration order.
func (r *Register) Fields() []*Field {
	out := make([]*Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r *Register) Field(name string) (*Field, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("regmap: %s.%s: %w", r.name, name, ErrUnknownField)
	}
	return f, nil
}

// validate checks the invariants NewDevice relies on.
func (r *Register) validate() error {
	if !slices.Contains(registerWidths, r.width) {
		return fmt.Errorf("%w: %s: width %d", ErrInvalidTable, r.name, r.width)
	}
	if len(r.byName) != len(r.fields) {
		return fmt.Errorf("%w: %s: duplicate field name", ErrInvalidTable, r.name)
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(r.width))
	used := new(big.Int)
	for _, f := range r.fields {
		if f.mask == 0 {
			return fmt.Errorf("%w: %s.%s: empty mask", ErrInvalidTable, r.name, f.name)
		}
		span := f.span()
		if span.Cmp(limit) >= 0 {
			return fmt.Errorf("%w: %s.%s: mask exceeds %d bits", ErrInvalidTable, r.name, f.name, r.width)
		}
		if new(big.Int).And(used, span).Sign() != 0 {
			return fmt.Errorf("%w: %s.%s: mask overlaps another field", ErrInvalidTable, r.name, f.name)
		}
		used.Or(used, span)
	}
	return nil
}

// Fetch reads the raw register image from the device.
func (r *Register) Fetch(ctx context.Context) ([]byte, error) {
	if r.device == nil {
		return nil, fmt.Errorf("regmap: register %s is not attached to a device", r.name)
	}
	return r.device.read(ctx, r)
}

// Get fetches the register and decodes every field.
func (r *Register) Get(ctx context.Context) (View, error) {
	raw, err := r.Fetch(ctx)
	if err != nil {
		return View{}, err
	}
	return r.Decode(raw)
}

// Decode builds a view out of a raw image. Fields whose codes are missing from
// a lookup table keep the raw code as value and are reported in the error;
// the rest of the view stays usable.
func (r *Register) Decode(raw []byte) (View, error) {
	v := View{
		Register: r.name,
		Address:  r.address,
		Raw:      append([]byte(nil), raw...),
		names:    make([]string, 0, len(r.fields)),
		values:   make(map[string]any, len(r.fields)),
	}
	var errs []error
	for _, f := range r.fields {
		val, err := f.Read(raw)
		if err != nil {
			errs = append(errs, err)
		}
		v.names = append(v.names, f.name)
		v.values[f.name] = val
	}
	if len(errs) > 0 {
		return v, fmt.Errorf("regmap: decode %s: %w", r.name, errors.Join(errs...))
	}
	return v, nil
}

// Apply merges values into a copy of raw. Fields not named keep their bits.
func (r *Register) Apply(raw []byte, values Values) ([]byte, error) {
	if err := r.checkNames(values); err != nil {
		return nil, err
	}
	out := append([]byte(nil), raw...)
	var err error
	for _, f := range r.fields {
		val, ok := values[f.name]
		if !ok {
			continue
		}
		out, err = f.Write(out, val)
		if err != nil {
			return nil, fmt.Errorf("regmap: set %s: %w", r.name, err)
		}
	}
	return out, nil
}

// Set performs a read-modify-write of the named fields.
func (r *Register) Set(ctx context.Context, values Values) error {
	if r.readOnly {
		return fmt.Errorf("regmap: set %s: %w", r.name, ErrReadOnlyRegister)
	}
	if r.device == nil {
		return fmt.Errorf("regmap: register %s is not attached to a device", r.name)
	}
	if err := r.checkNames(values); err != nil {
		return err
	}
	var raw []byte
	if r.writeOnly {
		raw = make([]byte, r.Size())
	} else {
		var err error
		raw, err = r.Fetch(ctx)
		if err != nil {
			return err
		}
	}
	raw, err := r.Apply(raw, values)
	if err != nil {
		return err
	}
	return r.device.write(ctx, r, raw)
}

func (r *Register) checkNames(values Values) error {
	for name := range values {
		if _, ok := r.byName[name]; !ok {
			return fmt.Errorf("regmap: %s.%s: %w", r.name, name, ErrUnknownField)
		}
	}
	return nil
}
