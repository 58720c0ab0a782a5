package i2c

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/spectral"
)

var _ spectral.I2CBus = &GobotBus{}

// GobotBus adapts a gobot I2C connector (e.g. a NanoPi adaptor) to the bus
// contract. Connections are opened lazily, one per device address.
type GobotBus struct {
	mx        sync.Mutex
	connector i2c.Connector
	bus       int
	conns     map[byte]i2c.Connection
}

// NewGobotBus uses bus number busNr of the connector, or its default bus when
// busNr is negative.
func NewGobotBus(connector i2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector: connector,
		bus:       busNr,
		conns:     make(map[byte]i2c.Connection),
	}
}

func (b *GobotBus) conn(address byte) (i2c.Connection, error) {
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#x on bus %d: %w", address, b.bus, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := c.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from %#x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %#x: %d of %d bytes", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := c.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to %#x: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short write to %#x: %d of %d bytes", address, n, len(buffer))
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes every connection opened so far.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for addr, c := range b.conns {
		err = multierr.Append(err, c.Close())
		delete(b.conns, addr)
	}
	return err
}
