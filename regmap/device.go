// Package regmap models bit-packed device registers: codecs convert between
// raw bits and physical units, fields place codecs inside registers and a
// Device moves register images over an injected Transport.
package regmap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type bankAddr struct {
	bank    int
	address byte
}

// Device owns the registers of one part on the bus. It tracks the selected
// register bank so that banked registers are never touched through the wrong
// page. A Device is not safe for concurrent use; callers serialize access.
type Device struct {
	address   byte
	transport Transport
	registers []*Register
	byName    map[string]*Register
	byAddr    map[bankAddr]*Register
	bankSel   *Field
	bank      int
	logger    *slog.Logger
}

type deviceOpts struct {
	logger       *slog.Logger
	bankRegister string
	bankField    string
	initialBank  int
}

type DeviceOption func(*deviceOpts)

func WithLogger(logger *slog.Logger) DeviceOption {
	return func(o *deviceOpts) {
		o.logger = logger
	}
}

// WithBankSelect names the field that switches register banks. The register
// holding it must be reachable from every bank.
func WithBankSelect(register, field string) DeviceOption {
	return func(o *deviceOpts) {
		o.bankRegister = register
		o.bankField = field
	}
}

// WithInitialBank declares the bank known to be selected when the device is
// created. Without it the first banked access always writes the selector.
func WithInitialBank(bank uint8) DeviceOption {
	return func(o *deviceOpts) {
		o.initialBank = int(bank)
	}
}

// NewDevice attaches registers to a device at the 7-bit bus address and checks
// the table: unique names, unique addresses per bank, fields inside the
// register width and no overlapping masks.
func NewDevice(address byte, transport Transport, registers []*Register, opts ...DeviceOption) (*Device, error) {
	o := deviceOpts{initialBank: AnyBank}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if address > 0x7F {
		return nil, fmt.Errorf("%w: bus address %#x is not 7-bit", ErrInvalidTable, address)
	}
	d := &Device{
		address:   address,
		transport: transport,
		byName:    make(map[string]*Register, len(registers)),
		byAddr:    make(map[bankAddr]*Register, len(registers)),
		bank:      o.initialBank,
		logger:    o.logger,
	}
	for _, r := range registers {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if r.device != nil && r.device != d {
			return nil, fmt.Errorf("%w: %s already belongs to another device", ErrInvalidTable, r.name)
		}
		if _, ok := d.byName[r.name]; ok {
			return nil, fmt.Errorf("%w: duplicate register %s", ErrInvalidTable, r.name)
		}
		key := bankAddr{bank: r.bank, address: r.address}
		if other, ok := d.byAddr[key]; ok {
			return nil, fmt.Errorf("%w: %s and %s share address %#02x", ErrInvalidTable, r.name, other.name, r.address)
		}
		d.registers = append(d.registers, r)
		d.byName[r.name] = r
		d.byAddr[key] = r
	}
	if o.bankRegister != "" {
		r, err := d.Register(o.bankRegister)
		if err != nil {
			return nil, fmt.Errorf("%w: bank select: %w", ErrInvalidTable, err)
		}
		if r.bank != AnyBank {
			return nil, fmt.Errorf("%w: bank select register %s is itself banked", ErrInvalidTable, r.name)
		}
		f, err := r.Field(o.bankField)
		if err != nil {
			return nil, fmt.Errorf("%w: bank select: %w", ErrInvalidTable, err)
		}
		d.bankSel = f
	}
	for _, r := range d.registers {
		r.device = d
	}
	return d, nil
}

// Address returns the 7-bit bus address.
func (d *Device) Address() byte { return d.address }

func (d *Device) Register(name string) (*Register, error) {
	r, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("regmap: %s: %w", name, ErrUnknownRegister)
	}
	return r, nil
}

// RegisterAt finds the register answering at address in bank.
func (d *Device) RegisterAt(bank int, address byte) (*Register, error) {
	if r, ok := d.byAddr[bankAddr{bank: bank, address: address}]; ok {
		return r, nil
	}
	if r, ok := d.byAddr[bankAddr{bank: AnyBank, address: address}]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("regmap: bank %d address %#02x: %w", bank, address, ErrUnknownRegister)
}

// Registers returns the registers in table order.
func (d *Device) Registers() []*Register {
	out := make([]*Register, len(d.registers))
	copy(out, d.registers)
	return out
}

func (d *Device) Get(ctx context.Context, name string) (View, error) {
	r, err := d.Register(name)
	if err != nil {
		return View{}, err
	}
	return r.Get(ctx)
}

func (d *Device) Set(ctx context.Context, name string, values Values) error {
	r, err := d.Register(name)
	if err != nil {
		return err
	}
	return r.Set(ctx, values)
}

// Bank returns the selected bank, or AnyBank if it is not known.
func (d *Device) Bank() int { return d.bank }

// InvalidateBank forgets the selected bank, e.g. after a device reset.
func (d *Device) InvalidateBank() {
	d.bank = AnyBank
}

// SelectBank writes the bank select field.
func (d *Device) SelectBank(ctx context.Context, bank uint8) error {
	if d.bankSel == nil {
		return fmt.Errorf("regmap: device has no bank select field")
	}
	err := d.bankSel.register.Set(ctx, Values{d.bankSel.name: bank})
	if err != nil {
		d.bank = AnyBank
		return fmt.Errorf("regmap: select bank %d: %w", bank, err)
	}
	d.logger.Debug("register bank selected", "bank", bank)
	d.bank = int(bank)
	return nil
}

func (d *Device) ensureBank(ctx context.Context, r *Register) error {
	if r.bank == AnyBank || d.bankSel == nil || d.bank == r.bank {
		return nil
	}
	return d.SelectBank(ctx, uint8(r.bank))
}

// Constants enumerates the keys of every lookup-coded field as
// PREFIX_REGISTER_FIELD_KEY names.
func (d *Device) Constants(prefix string) map[string]any {
	out := make(map[string]any)
	for _, r := range d.registers {
		for _, f := range r.fields {
			enum, ok := f.codec.(Enumerator)
			if !ok {
				continue
			}
			for _, key := range enum.Keys() {
				name := fmt.Sprintf("%s_%s_%s_%v", prefix, r.name, f.name, key)
				out[strings.ToUpper(strings.ReplaceAll(name, " ", "_"))] = key
			}
		}
	}
	return out
}

func (d *Device) read(ctx context.Context, r *Register) ([]byte, error) {
	if err := d.ensureBank(ctx, r); err != nil {
		return nil, err
	}
	buf := make([]byte, r.Size())
	d.logger.Debug("register read", "register", r.name, "address", fmt.Sprintf("%#02x", r.address), "size", len(buf))
	if err := d.transport.ReadRegister(ctx, d.address, r.address, buf); err != nil {
		return nil, transportError("read", r, err)
	}
	return buf, nil
}

func (d *Device) write(ctx context.Context, r *Register, raw []byte) error {
	if err := d.ensureBank(ctx, r); err != nil {
		return err
	}
	d.logger.Debug("register write", "register", r.name, "address", fmt.Sprintf("%#02x", r.address), "size", len(raw))
	if err := d.transport.WriteRegister(ctx, d.address, r.address, raw); err != nil {
		return transportError("write", r, err)
	}
	return nil
}
