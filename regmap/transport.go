package regmap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/mklimuk/spectral"
	"github.com/mklimuk/spectral/snsctx"
)

// Transport moves register bytes to and from a device on a shared bus.
// Implementations are borrowed by Device; closing them is up to the caller.
type Transport interface {
	ReadRegister(ctx context.Context, address, register byte, buffer []byte) error
	WriteRegister(ctx context.Context, address, register byte, data []byte) error
}

// BusTransport runs register transfers over a plain I2C bus: a register
// pointer write followed by a read, or a single pointer+data write.
type BusTransport struct {
	bus        spectral.I2CBus
	retryLimit int
}

func NewBusTransport(bus spectral.I2CBus) *BusTransport {
	return &BusTransport{bus: bus, retryLimit: 2}
}

func (t *BusTransport) ReadRegister(ctx context.Context, address, register byte, buffer []byte) error {
	err := t.retry(ctx, func() error {
		return t.bus.WriteToAddr(ctx, address, []byte{register})
	})
	if err != nil {
		return fmt.Errorf("could not set register pointer %#02x: %w", register, err)
	}
	err = t.retry(ctx, func() error {
		return t.bus.ReadFromAddr(ctx, address, buffer)
	})
	if err != nil {
		return fmt.Errorf("could not read register %#02x: %w", register, err)
	}
	if snsctx.IsVerbose(ctx) {
		slog.Debug("register read", "address", address, "register", register, "dump", "\n"+hex.Dump(buffer))
	}
	return nil
}

func (t *BusTransport) WriteRegister(ctx context.Context, address, register byte, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, register)
	buf = append(buf, data...)
	if snsctx.IsVerbose(ctx) {
		slog.Debug("register write", "address", address, "register", register, "dump", "\n"+hex.Dump(data))
	}
	err := t.retry(ctx, func() error {
		return t.bus.WriteToAddr(ctx, address, buf)
	})
	if err != nil {
		return fmt.Errorf("could not write register %#02x: %w", register, err)
	}
	return nil
}

// retry repeats op while the bus reports busy, releasing it in between.
func (t *BusTransport) retry(ctx context.Context, op func() error) error {
	var err error
	for i := t.retryLimit; i > 0; i-- {
		err = op()
		if err == nil || !errors.Is(err, spectral.ErrBusBusy) {
			return err
		}
		if relErr := t.bus.Release(ctx); relErr != nil {
			slog.Debug("could not release bus", "error", relErr)
			err = multierr.Append(err, relErr)
		}
	}
	return fmt.Errorf("retry limit reached: %w", err)
}
