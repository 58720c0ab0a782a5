package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/spectral"
	"github.com/mklimuk/spectral/adapter"
	"github.com/mklimuk/spectral/as7343"
	"github.com/mklimuk/spectral/i2c"
	"github.com/mklimuk/spectral/regmap"
	"github.com/mklimuk/spectral/snsctx"
)

const (
	adapterMCP2221 = "mcp2221"
	adapterGeneric = "generic"
	adapterNanoPi  = "nanopi"
)

// commandContext carries the global flags that affect bus traffic.
func commandContext(c *cli.Context) context.Context {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	if id := c.Int("device"); id >= 0 {
		ctx = snsctx.SetBusID(ctx, id)
	}
	return ctx
}

func busSpeed(c *cli.Context) (physic.Frequency, error) {
	var f physic.Frequency
	if c.String("speed") == "" {
		return 0, nil
	}
	if err := f.Set(c.String("speed")); err != nil {
		return 0, fmt.Errorf("invalid bus speed %q: %w", c.String("speed"), err)
	}
	return f, nil
}

// openBus opens the adapter selected on the command line. The returned func
// releases it.
func openBus(c *cli.Context) (spectral.I2CBus, func(), error) {
	ctx := commandContext(c)
	speed, err := busSpeed(c)
	if err != nil {
		return nil, nil, err
	}
	switch name := c.String("adapter"); name {
	case adapterMCP2221:
		bus := adapter.NewMCP2221(adapter.WithLogger(slog.Default()))
		if speed > 0 {
			if err := bus.SetSpeed(ctx, speed); err != nil {
				return nil, nil, err
			}
		}
		return bus, func() {}, nil
	case adapterGeneric:
		bus, err := i2c.NewGenericBus(c.String("bus"))
		if err != nil {
			return nil, nil, err
		}
		if speed > 0 {
			if err := bus.SetSpeed(speed); err != nil {
				_ = bus.Close()
				return nil, nil, err
			}
		}
		return bus, func() {
			if err := bus.Close(); err != nil {
				slog.Warn("could not close bus", "error", err)
			}
		}, nil
	case adapterNanoPi:
		busNr := -1
		if s := c.String("bus"); s != "" {
			busNr, err = strconv.Atoi(s)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid nanopi bus number %q: %w", s, err)
			}
		}
		if speed > 0 {
			slog.Warn("bus speed is set by the board configuration", "adapter", name)
		}
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, busNr)
		return bus, func() {
			if err := bus.Close(); err != nil {
				slog.Warn("could not close bus connections", "error", err)
			}
			if err := npi.I2cBusAdaptor.Finalize(); err != nil {
				slog.Warn("could not finalize adaptor", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", name)
	}
}

func sensorConfig(c *cli.Context) (as7343.Config, error) {
	path := c.Path("config")
	if path == "" {
		return as7343.DefaultConfig(), nil
	}
	return as7343.LoadConfig(path)
}

// openSensor builds the driver on the selected bus, running the bring-up
// sequence when init is set.
func openSensor(c *cli.Context, init bool) (*as7343.AS7343, func(), error) {
	cfg, err := sensorConfig(c)
	if err != nil {
		return nil, nil, err
	}
	bus, release, err := openBus(c)
	if err != nil {
		return nil, nil, err
	}
	transport := regmap.NewBusTransport(bus)
	opts := []as7343.Option{
		as7343.WithAddress(byte(c.Uint("address"))),
		as7343.WithConfig(cfg),
		as7343.WithLogger(slog.Default()),
	}
	var s *as7343.AS7343
	if init {
		s, err = as7343.Open(commandContext(c), transport, opts...)
	} else {
		s, err = as7343.New(transport, opts...)
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}
