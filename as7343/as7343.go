// Package as7343 drives the ams AS7343 14-channel spectral sensor through
// its register map.
//
// Typical usage:
//
//	s, err := as7343.Open(ctx, regmap.NewBusTransport(bus), as7343.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	values, err := s.CalibratedValues(ctx, 0)
package as7343

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/spectral/regmap"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	// DefaultSettleDelay is the wait after a soft reset. The register state
	// machine does not answer while resetting so the reset bit is not polled.
	DefaultSettleDelay = 2 * time.Second
	// DefaultTimeout bounds the data-ready wait of CalibratedValues.
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// AS7343 is not safe for concurrent use.
type AS7343 struct {
	dev      *regmap.Device
	clock    clock.Clock
	logger   *slog.Logger
	settle   time.Duration
	poll     time.Duration
	cfg      Config
	channels ChannelMode
}

type options struct {
	address byte
	clock   clock.Clock
	logger  *slog.Logger
	settle  time.Duration
	poll    time.Duration
	cfg     Config
}

type Option func(*options)

func WithAddress(address byte) Option {
	return func(o *options) {
		o.address = address
	}
}

// WithClock replaces the wall clock used for delays and timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		o.settle = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.poll = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConfig sets the configuration Init applies.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// New builds the driver without touching the bus.
func New(transport regmap.Transport, opts ...Option) (*AS7343, error) {
	o := options{
		address: DefaultAddress,
		clock:   clock.New(),
		logger:  slog.Default(),
		settle:  DefaultSettleDelay,
		poll:    DefaultPollInterval,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("as7343: %w", err)
	}
	dev, err := regmap.NewDevice(o.address, transport, registers(),
		regmap.WithBankSelect("CFG0", "REG_BANK"),
		regmap.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("as7343: %w", err)
	}
	return &AS7343{
		dev:      dev,
		clock:    o.clock,
		logger:   o.logger,
		settle:   o.settle,
		poll:     o.poll,
		cfg:      o.cfg,
		channels: o.cfg.Channels,
	}, nil
}

// Open builds the driver and runs the bring-up sequence.
func Open(ctx context.Context, transport regmap.Transport, opts ...Option) (*AS7343, error) {
	s, err := New(transport, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init resets the sensor, powers it on and applies the configuration, leaving
// spectral measurement running.
func (s *AS7343) Init(ctx context.Context) error {
	cfg := s.cfg
	steps := []struct {
		name string
		run  func() error
	}{
		{"soft reset", func() error { return s.SoftReset(ctx) }},
		{"power on", func() error { return s.PowerOn(ctx) }},
		{"bank select", func() error { return s.SelectBank(ctx, 0) }},
		{"channels", func() error { return s.SetChannels(ctx, cfg.Channels) }},
		{"wait time", func() error { return s.SetWaitTime(ctx, cfg.WaitTime) }},
		{"integration time", func() error { return s.SetIntegrationTime(ctx, cfg.ATIME, cfg.ASTEP) }},
		{"gain", func() error {
			if cfg.Gain == 0 {
				return nil
			}
			return s.SetGain(ctx, cfg.Gain)
		}},
		{"led", func() error {
			return s.dev.Set(ctx, "LED", regmap.Values{"LED_ACT": cfg.LED, "LED_DRIVE": cfg.LEDDrive})
		}},
		{"fifo map", func() error { return s.SetFIFOMap(ctx, cfg.FIFOMap) }},
		{"enable", func() error { return s.EnableMeasurement(ctx, true) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("as7343: init %s: %w", step.name, err)
		}
	}
	s.logger.Info("as7343 ready", "channels", cfg.Channels, "wait", cfg.WaitTime, "astep", cfg.ASTEP, "atime", cfg.ATIME)
	return nil
}

// Device exposes the register map for direct access.
func (s *AS7343) Device() *regmap.Device { return s.dev }

// Constants enumerates the symbolic values of lookup-coded fields.
func (s *AS7343) Constants() map[string]any {
	return s.dev.Constants("AS7343")
}

// SoftReset strobes SW_RESET and blocks for the settle delay.
func (s *AS7343) SoftReset(ctx context.Context) error {
	if err := s.dev.Set(ctx, "CONTROL", regmap.Values{"SW_RESET": true}); err != nil {
		return fmt.Errorf("as7343: soft reset: %w", err)
	}
	s.dev.InvalidateBank()
	s.logger.Debug("soft reset issued, settling", "delay", s.settle)
	s.clock.Sleep(s.settle)
	return nil
}

func (s *AS7343) PowerOn(ctx context.Context) error {
	return s.dev.Set(ctx, "ENABLE", regmap.Values{"PON": true})
}

// SelectBank switches REG_BANK; 1 exposes registers below 0x80.
func (s *AS7343) SelectBank(ctx context.Context, bank uint8) error {
	if bank > 1 {
		return fmt.Errorf("as7343: bank %d: %w", bank, ErrInvalidArgument)
	}
	return s.dev.SelectBank(ctx, bank)
}

// SetChannels sets the number of channels the SMUX cycles through.
func (s *AS7343) SetChannels(ctx context.Context, mode ChannelMode) error {
	if !mode.Valid() {
		return fmt.Errorf("as7343: channel count %d, expected 6, 12 or 18: %w", mode, ErrInvalidArgument)
	}
	if err := s.dev.Set(ctx, "CFG20", regmap.Values{"AUTO_SMUX": mode}); err != nil {
		return err
	}
	s.channels = mode
	return nil
}

// Channels returns the channel mode last set through the driver.
func (s *AS7343) Channels() ChannelMode { return s.channels }

// SetGain sets the spectral engine gain, clamped to 0.5x-2048x and rounded
// down to a power of two.
func (s *AS7343) SetGain(ctx context.Context, gain float64) error {
	return s.dev.Set(ctx, "CFG1", regmap.Values{"AGAIN": gain})
}

func (s *AS7343) Gain(ctx context.Context) (float64, error) {
	v, err := s.dev.Get(ctx, "CFG1")
	if err != nil {
		return 0, err
	}
	return v.Float("AGAIN"), nil
}

// SetIntegrationTime programs (atime + 1) integration steps of step length,
// quantized to 2.78us.
func (s *AS7343) SetIntegrationTime(ctx context.Context, atime uint8, step time.Duration) error {
	if err := s.dev.Set(ctx, "ATIME", regmap.Values{"ATIME": atime}); err != nil {
		return err
	}
	return s.dev.Set(ctx, "ASTEP", regmap.Values{"ASTEP": float64(step) / float64(time.Microsecond)})
}

// IntegrationTime returns (ATIME + 1) x ASTEP as configured on the device.
func (s *AS7343) IntegrationTime(ctx context.Context) (time.Duration, error) {
	atime, err := s.dev.Get(ctx, "ATIME")
	if err != nil {
		return 0, err
	}
	astep, err := s.dev.Get(ctx, "ASTEP")
	if err != nil {
		return 0, err
	}
	us := float64(atime.Uint("ATIME")+1) * astep.Float("ASTEP")
	return time.Duration(math.Round(us * float64(time.Microsecond))), nil
}

// SetWaitTime sets the pause between measurements, quantized to 2.78ms.
// Waits above 711.68ms switch on WLONG and are quantized to 44.48ms.
func (s *AS7343) SetWaitTime(ctx context.Context, d time.Duration) error {
	ms := float64(d) / float64(time.Millisecond)
	long := d > 256*waitUnit
	if long {
		ms /= 16
	}
	if err := s.dev.Set(ctx, "CFG0", regmap.Values{"WLONG": long}); err != nil {
		return err
	}
	return s.dev.Set(ctx, "WTIME", regmap.Values{"WTIME": ms})
}

func (s *AS7343) WaitTime(ctx context.Context) (time.Duration, error) {
	cfg0, err := s.dev.Get(ctx, "CFG0")
	if err != nil {
		return 0, err
	}
	wtime, err := s.dev.Get(ctx, "WTIME")
	if err != nil {
		return 0, err
	}
	ms := wtime.Float("WTIME")
	if cfg0.Bool("WLONG") {
		ms *= 16
	}
	return time.Duration(math.Round(ms * float64(time.Millisecond))), nil
}

// SetLED switches the LED driver output.
func (s *AS7343) SetLED(ctx context.Context, on bool) error {
	return s.dev.Set(ctx, "LED", regmap.Values{"LED_ACT": on})
}

// SetLEDCurrent sets the LED drive strength, 4mA to 258mA in 2mA steps.
func (s *AS7343) SetLEDCurrent(ctx context.Context, current physic.ElectricCurrent) error {
	if current < 0 {
		return fmt.Errorf("as7343: led current %s: %w", current, ErrInvalidArgument)
	}
	ma := float64(current) / float64(physic.MilliAmpere)
	return s.dev.Set(ctx, "LED", regmap.Values{"LED_DRIVE": ma})
}

func (s *AS7343) LEDCurrent(ctx context.Context) (physic.ElectricCurrent, error) {
	v, err := s.dev.Get(ctx, "LED")
	if err != nil {
		return 0, err
	}
	return physic.ElectricCurrent(math.Round(v.Float("LED_DRIVE"))) * physic.MilliAmpere, nil
}

// SetFIFOMap selects the words each SMUX cycle writes into the FIFO.
func (s *AS7343) SetFIFOMap(ctx context.Context, m FIFOMap) error {
	return s.dev.Set(ctx, "FIFO_MAP", regmap.Values{
		"FIFO_WRITE_CH5_DATA": m.CH5,
		"FIFO_WRITE_CH4_DATA": m.CH4,
		"FIFO_WRITE_CH3_DATA": m.CH3,
		"FIFO_WRITE_CH2_DATA": m.CH2,
		"FIFO_WRITE_CH1_DATA": m.CH1,
		"FIFO_WRITE_CH0_DATA": m.CH0,
		"FIFO_WRITE_ASTATUS":  m.ASTATUS,
	})
}

// EnableMeasurement starts or stops the spectral engine together with the
// wait timer and the SMUX. Flicker detection is always switched off.
func (s *AS7343) EnableMeasurement(ctx context.Context, enable bool) error {
	return s.dev.Set(ctx, "ENABLE", regmap.Values{
		"FDEN":   false,
		"WEN":    enable,
		"SMUXEN": enable,
		"SP_EN":  enable,
	})
}

// Info identifies the part.
type Info struct {
	ID       uint8 `yaml:"id"`
	Revision uint8 `yaml:"revision"`
	AuxID    uint8 `yaml:"aux_id"`
}

// Info reads the identification registers of bank 1.
func (s *AS7343) Info(ctx context.Context) (Info, error) {
	var info Info
	for _, r := range []struct {
		name string
		dst  *uint8
	}{
		{"ID", &info.ID},
		{"REVID", &info.Revision},
		{"AUXID", &info.AuxID},
	} {
		v, err := s.dev.Get(ctx, r.name)
		if err != nil {
			return Info{}, fmt.Errorf("as7343: info: %w", err)
		}
		*r.dst = uint8(v.Uint(r.name))
	}
	return info, nil
}

// Flicker is the flicker detection state.
type Flicker struct {
	Valid      bool `yaml:"valid"`
	Saturated  bool `yaml:"saturated"`
	Valid100Hz bool `yaml:"valid_100hz"`
	Valid120Hz bool `yaml:"valid_120hz"`
	Hz100      bool `yaml:"hz_100"`
	Hz120      bool `yaml:"hz_120"`
}

func (s *AS7343) Flicker(ctx context.Context) (Flicker, error) {
	v, err := s.dev.Get(ctx, "FD_STATUS")
	if err != nil {
		return Flicker{}, err
	}
	return Flicker{
		Valid:      v.Bool("FD_VALID"),
		Saturated:  v.Bool("FD_SAT"),
		Valid100Hz: v.Bool("FD_100HZ_VALID"),
		Valid120Hz: v.Bool("FD_120HZ_VALID"),
		Hz100:      v.Bool("FD_100HZ"),
		Hz120:      v.Bool("FD_120HZ"),
	}, nil
}

// Read latches and reads the data block for the current channel mode.
func (s *AS7343) Read(ctx context.Context) (Result, error) {
	status, err := s.dev.Get(ctx, "ASTATUS")
	if err != nil {
		return Result{}, err
	}
	data, err := s.dev.Get(ctx, "DATA")
	if err != nil {
		return Result{}, err
	}
	slots := make([]uint16, dataSlots)
	for i := range slots {
		slots[i] = uint16(data.Uint(dataField(i)))
	}
	return newResult(s.channels, slots, []uint8{status.Raw[0]}), nil
}

// CalibratedValues waits for AVALID and returns basic counts. When timeout
// (DefaultTimeout if zero) expires first, the data block is read anyway and
// the result is marked stale.
func (s *AS7343) CalibratedValues(ctx context.Context, timeout time.Duration) (CalibratedValues, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fresh, err := s.waitValid(ctx, timeout)
	if err != nil {
		return CalibratedValues{}, err
	}
	if !fresh {
		s.logger.Warn("data not ready, returning last values", "timeout", timeout)
	}
	res, err := s.Read(ctx)
	if err != nil {
		return CalibratedValues{}, err
	}
	gain, err := s.Gain(ctx)
	if err != nil {
		return CalibratedValues{}, err
	}
	tint, err := s.IntegrationTime(ctx)
	if err != nil {
		return CalibratedValues{}, err
	}
	return calibrate(res, gain, tint, fresh), nil
}

func (s *AS7343) waitValid(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := s.clock.Now().Add(timeout)
	for {
		v, err := s.dev.Get(ctx, "STATUS2")
		if err != nil {
			return false, err
		}
		if v.Bool("AVALID") {
			return true, nil
		}
		if !s.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s.clock.Sleep(s.poll)
	}
}
