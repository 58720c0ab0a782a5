// Package spectral holds the bus contracts shared by the spectral sensor
// drivers and the transports that carry their register traffic.
package spectral

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// AddressableReader reads len(buffer) bytes from the device at a 7-bit address.
type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

// AddressableWriter writes buffer to the device at a 7-bit address. Release
// frees the bus after a transfer left it in a busy state.
type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}
