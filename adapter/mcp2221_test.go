package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/spectral"
	"github.com/mklimuk/spectral/snsctx"
)

// fakeBridge answers every request report with the next scripted response.
type fakeBridge struct {
	requests  [][]byte
	responses [][]byte
	opened    []int
	closed    int
	openErr   error
}

func (f *fakeBridge) open(id int) (hidDevice, error) {
	f.opened = append(f.opened, id)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeReport{bridge: f}, nil
}

func (f *fakeBridge) respond(fill func(r []byte)) {
	r := make([]byte, reportSize)
	fill(r)
	f.responses = append(f.responses, r)
}

type fakeReport struct {
	bridge *fakeBridge
}

func (r *fakeReport) Write(b []byte) (int, error) {
	r.bridge.requests = append(r.bridge.requests, append([]byte(nil), b...))
	return len(b), nil
}

func (r *fakeReport) Read(b []byte) (int, error) {
	if len(r.bridge.responses) == 0 {
		return 0, errors.New("no response")
	}
	next := r.bridge.responses[0]
	r.bridge.responses = r.bridge.responses[1:]
	return copy(b, next), nil
}

func (r *fakeReport) Close() error {
	r.bridge.closed++
	return nil
}

func newTestAdapter(bridge *fakeBridge) (*MCP2221, *clock.Mock) {
	clk := clock.NewMock()
	return NewMCP2221(withOpener(bridge.open), WithClock(clk), WithResponseWait(0)), clk
}

func TestMCP2221_WriteToAddr(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) { r[0] = cmdWrite })
	d, _ := newTestAdapter(bridge)

	err := d.WriteToAddr(context.Background(), 0x39, []byte{0x80, 0x01})
	require.NoError(t, err)
	require.Len(t, bridge.requests, 1)
	req := bridge.requests[0]
	assert.Len(t, req, reportSize)
	assert.Equal(t, []byte{cmdWrite, 0x02, 0x00, 0x72, 0x80, 0x01, 0x00}, req[:7])
	assert.Equal(t, []int{-1}, bridge.opened)
	assert.Equal(t, 1, bridge.closed)
}

func TestMCP2221_WriteBusy(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) { r[0], r[1] = cmdWrite, engineBusy })
	d, _ := newTestAdapter(bridge)

	err := d.WriteToAddr(context.Background(), 0x39, []byte{0x80})
	assert.ErrorIs(t, err, spectral.ErrBusBusy)
}

func TestMCP2221_ReadFromAddr(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) { r[0] = cmdRead })
	bridge.respond(func(r []byte) {
		r[0], r[3] = cmdGetReadData, 2
		r[4], r[5] = 0x81, 0x0A
	})
	d, _ := newTestAdapter(bridge)

	buf := make([]byte, 2)
	ctx := snsctx.SetBusID(context.Background(), 1)
	require.NoError(t, d.ReadFromAddr(ctx, 0x39, buf))
	assert.Equal(t, []byte{0x81, 0x0A}, buf)
	require.Len(t, bridge.requests, 2)
	assert.Equal(t, []byte{cmdRead, 0x02, 0x00, 0x73}, bridge.requests[0][:4])
	assert.Equal(t, byte(cmdGetReadData), bridge.requests[1][0])
	assert.Equal(t, []int{1, 1}, bridge.opened)
}

func TestMCP2221_ReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		fill  func(r []byte)
		check func(t *testing.T, err error)
	}{
		{
			name: "engine error",
			fill: func(r []byte) { r[1] = readDataFailed },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrCommandFailed)
			},
		},
		{
			name: "invalid size",
			fill: func(r []byte) { r[3] = invalidSize },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid data size")
			},
		},
		{
			name: "size mismatch",
			fill: func(r []byte) { r[3] = 1 },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "expected 2, got 1")
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bridge := &fakeBridge{}
			bridge.respond(func(r []byte) {})
			bridge.respond(test.fill)
			d, _ := newTestAdapter(bridge)
			err := d.ReadFromAddr(context.Background(), 0x39, make([]byte, 2))
			require.Error(t, err)
			test.check(t, err)
		})
	}
}

func TestMCP2221_TransferTooLarge(t *testing.T) {
	bridge := &fakeBridge{}
	d, _ := newTestAdapter(bridge)
	assert.Error(t, d.WriteToAddr(context.Background(), 0x39, make([]byte, 61)))
	assert.Error(t, d.ReadFromAddr(context.Background(), 0x39, make([]byte, 61)))
	assert.Empty(t, bridge.opened)
}

func TestMCP2221_OpenFailure(t *testing.T) {
	bridge := &fakeBridge{openErr: ErrDeviceNotFound}
	d, _ := newTestAdapter(bridge)
	_, err := d.Status(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMCP2221_Status(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) {
		r[9], r[10] = 0x05, 0x00
		r[11], r[12] = 0x03, 0x00
		r[13] = 2
		r[14] = 117
		r[15] = 10
		r[16], r[17] = 0x72, 0x00
		r[25] = 1
	})
	d, _ := newTestAdapter(bridge)

	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &MCP2221Status{
		I2CDataBufferCounter:   2,
		I2CSpeedDivider:        117,
		I2CTimeout:             10,
		CurrentAddress:         "7200",
		LastWriteRequestedSize: 5,
		LastWriteSentSize:      3,
		ReadPending:            1,
	}, status)
	assert.Equal(t, byte(cmdStatus), bridge.requests[0][0])
	assert.Zero(t, bridge.requests[0][2])
}

func TestMCP2221_Release(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) {})
	d, _ := newTestAdapter(bridge)

	require.NoError(t, d.Release(context.Background()))
	assert.Equal(t, []byte{cmdStatus, 0x00, statusCancel}, bridge.requests[0][:3])
}

func TestMCP2221_SetSpeed(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) { r[3] = statusSetSpeed })
	bridge.respond(func(r []byte) { r[3] = speedRejected })
	d, _ := newTestAdapter(bridge)
	ctx := context.Background()

	require.NoError(t, d.SetSpeed(ctx, 100*physic.KiloHertz))
	assert.Equal(t, []byte{cmdStatus, 0x00, 0x00, statusSetSpeed, 117}, bridge.requests[0][:5])

	err := d.SetSpeed(ctx, 400*physic.KiloHertz)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, byte(27), bridge.requests[1][4])

	assert.Error(t, d.SetSpeed(ctx, 0))
	assert.Error(t, d.SetSpeed(ctx, 10*physic.KiloHertz), "divider overflows a byte")
	assert.Len(t, bridge.requests, 2)
}

func TestMCP2221_WaitsForResponse(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.respond(func(r []byte) {})
	clk := clock.NewMock()
	d := NewMCP2221(withOpener(bridge.open), WithClock(clk))

	done := make(chan error, 1)
	go func() {
		_, err := d.Status(context.Background())
		done <- err
	}()
	var err error
	require.Eventually(t, func() bool {
		clk.Add(10 * time.Millisecond)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, clk.Now().Sub(time.Unix(0, 0)), 50*time.Millisecond)
}

func TestMCP2221_CancelledContext(t *testing.T) {
	bridge := &fakeBridge{}
	d, _ := newTestAdapter(bridge)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Status(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bridge.opened)
}
