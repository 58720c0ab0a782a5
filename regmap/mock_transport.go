package regmap

import (
	"context"
	"fmt"
)

// Access records one transfer seen by MockTransport.
type Access struct {
	Address  byte
	Register byte
	Data     []byte
}

// MockTransport is an in-memory register file standing in for a device.
// Multi-byte transfers auto-increment the register pointer like most I2C
// parts do. Hooks let tests model device behaviour such as self-clearing
// strobes or a FIFO draining on read.
//
// Example usage:
//
//	m := NewMockTransport()
//	m.Poke(0xFD, 3) // FIFO level
//	m.OnRead(0xFE, func(m *MockTransport) { m.Poke(0xFD, m.Peek(0xFD)-1) })
type MockTransport struct {
	regs       [256]byte
	readHooks  map[byte]func(*MockTransport)
	writeHooks map[byte]func(*MockTransport, []byte)

	Reads  []Access
	Writes []Access

	ReadErr  error
	WriteErr error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		readHooks:  make(map[byte]func(*MockTransport)),
		writeHooks: make(map[byte]func(*MockTransport, []byte)),
	}
}

// OnRead runs hook after every read starting at register.
func (m *MockTransport) OnRead(register byte, hook func(*MockTransport)) {
	m.readHooks[register] = hook
}

// OnWrite runs hook after every write starting at register has been stored.
func (m *MockTransport) OnWrite(register byte, hook func(*MockTransport, []byte)) {
	m.writeHooks[register] = hook
}

// Peek returns a register byte without recording an access.
func (m *MockTransport) Peek(register byte) byte {
	return m.regs[register]
}

// Poke stores bytes starting at register without recording an access.
func (m *MockTransport) Poke(register byte, values ...byte) {
	copy(m.regs[register:], values)
}

// WritesTo returns the payloads written to register, oldest first.
func (m *MockTransport) WritesTo(register byte) [][]byte {
	var out [][]byte
	for _, w := range m.Writes {
		if w.Register == register {
			out = append(out, w.Data)
		}
	}
	return out
}

func (m *MockTransport) ReadRegister(ctx context.Context, address, register byte, buffer []byte) error {
	if m.ReadErr != nil {
		return m.ReadErr
	}
	if int(register)+len(buffer) > len(m.regs) {
		return fmt.Errorf("mock: read of %d bytes at %#02x runs past the register file", len(buffer), register)
	}
	copy(buffer, m.regs[register:])
	m.Reads = append(m.Reads, Access{Address: address, Register: register, Data: append([]byte(nil), buffer...)})
	if hook, ok := m.readHooks[register]; ok {
		hook(m)
	}
	return nil
}

func (m *MockTransport) WriteRegister(ctx context.Context, address, register byte, data []byte) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if int(register)+len(data) > len(m.regs) {
		return fmt.Errorf("mock: write of %d bytes at %#02x runs past the register file", len(data), register)
	}
	copy(m.regs[register:], data)
	m.Writes = append(m.Writes, Access{Address: address, Register: register, Data: append([]byte(nil), data...)})
	if hook, ok := m.writeHooks[register]; ok {
		hook(m, data)
	}
	return nil
}
