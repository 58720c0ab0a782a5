package as7343

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// FIFOMap selects what each SMUX cycle pushes into the FIFO.
type FIFOMap struct {
	ASTATUS bool `yaml:"astatus"`
	CH0     bool `yaml:"ch0"`
	CH1     bool `yaml:"ch1"`
	CH2     bool `yaml:"ch2"`
	CH3     bool `yaml:"ch3"`
	CH4     bool `yaml:"ch4"`
	CH5     bool `yaml:"ch5"`
}

// FIFOMapAll writes all six channels and ASTATUS, 7 words per cycle.
var FIFOMapAll = FIFOMap{ASTATUS: true, CH0: true, CH1: true, CH2: true, CH3: true, CH4: true, CH5: true}

// Words is the number of FIFO entries one SMUX cycle produces.
func (m FIFOMap) Words() int {
	n := 0
	for _, on := range []bool{m.CH0, m.CH1, m.CH2, m.CH3, m.CH4, m.CH5, m.ASTATUS} {
		if on {
			n++
		}
	}
	return n
}

// Config is the bring-up configuration applied by Init.
type Config struct {
	Channels ChannelMode `yaml:"channels"`
	// Gain of 0 keeps the power-on default.
	Gain float64 `yaml:"gain"`
	// ATIME is the number of integration steps minus one.
	ATIME    uint8         `yaml:"atime"`
	ASTEP    time.Duration `yaml:"astep"`
	WaitTime time.Duration `yaml:"wait_time"`
	LED      bool          `yaml:"led"`
	// LEDDrive is the LED drive current in mA.
	LEDDrive float64 `yaml:"led_drive_ma"`
	FIFOMap  FIFOMap `yaml:"fifo_map"`
}

// DefaultConfig returns a 6 channel setup sampling every 500ms with 50ms
// integration steps and the LED off.
func DefaultConfig() Config {
	return Config{
		Channels: Channels6,
		ATIME:    1,
		ASTEP:    50 * time.Millisecond,
		WaitTime: 500 * time.Millisecond,
		LEDDrive: 4,
		FIFOMap:  FIFOMapAll,
	}
}

const (
	stepUnit    = 2780 * time.Nanosecond
	maxASTEP    = 65535 * stepUnit
	waitUnit    = 2780 * time.Microsecond
	maxWaitTime = 256 * waitUnit * 16
	minLEDDrive = 4
	maxLEDDrive = 4 + 2*127
)

// Validate reports every out-of-range setting without changing the config.
func (c Config) Validate() error {
	var err error
	if !c.Channels.Valid() {
		err = multierr.Append(err, fmt.Errorf("%w: channels %d, expected 6, 12 or 18", ErrInvalidArgument, c.Channels))
	}
	if c.Gain != 0 && (c.Gain < 0.5 || c.Gain > 2048) {
		err = multierr.Append(err, fmt.Errorf("%w: gain %v outside 0.5-2048", ErrInvalidArgument, c.Gain))
	}
	if c.ASTEP < stepUnit || c.ASTEP > maxASTEP {
		err = multierr.Append(err, fmt.Errorf("%w: astep %v outside %v-%v", ErrInvalidArgument, c.ASTEP, stepUnit, maxASTEP))
	}
	if c.WaitTime < waitUnit || c.WaitTime > maxWaitTime {
		err = multierr.Append(err, fmt.Errorf("%w: wait time %v outside %v-%v", ErrInvalidArgument, c.WaitTime, waitUnit, maxWaitTime))
	}
	if c.LEDDrive < minLEDDrive || c.LEDDrive > maxLEDDrive {
		err = multierr.Append(err, fmt.Errorf("%w: led drive %vmA outside %d-%dmA", ErrInvalidArgument, c.LEDDrive, minLEDDrive, maxLEDDrive))
	}
	return err
}

// ParseConfig reads YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("as7343: could not parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("as7343: invalid config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("as7343: could not read config: %w", err)
	}
	return ParseConfig(data)
}
