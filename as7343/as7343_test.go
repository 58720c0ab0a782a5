package as7343

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/spectral/regmap"
)

// stepClock advances the mock clock on Sleep instead of blocking.
type stepClock struct {
	*clock.Mock
}

func (c stepClock) Sleep(d time.Duration) { c.Add(d) }

func newTestSensor(t *testing.T, opts ...Option) (*AS7343, *regmap.MockTransport, stepClock) {
	t.Helper()
	m := regmap.NewMockTransport()
	clk := stepClock{clock.NewMock()}
	opts = append([]Option{WithClock(clk), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s, err := New(m, opts...)
	require.NoError(t, err)
	return s, m, clk
}

func putWord(m *regmap.MockTransport, register byte, v uint16) {
	m.Poke(register, byte(v), byte(v>>8))
}

func TestAS7343_SetChannelsRejectsBeforeIO(t *testing.T) {
	for _, mode := range []ChannelMode{0, 7, 24, 255} {
		s, m, _ := newTestSensor(t)
		err := s.SetChannels(context.Background(), mode)
		assert.ErrorIs(t, err, ErrInvalidArgument, "mode %d", mode)
		assert.Empty(t, m.Reads)
		assert.Empty(t, m.Writes)
	}
}

func TestAS7343_SetChannels(t *testing.T) {
	tests := []struct {
		mode     ChannelMode
		expected byte
	}{
		{Channels6, 0x80},
		{Channels12, 0xC0},
		{Channels18, 0xE0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprint(test.mode), func(t *testing.T) {
			s, m, _ := newTestSensor(t)
			m.Poke(0xD6, 0x80) // FD_FIFO_8B
			require.NoError(t, s.SetChannels(context.Background(), test.mode))
			assert.Equal(t, test.expected, m.Peek(0xD6))
			assert.Equal(t, test.mode, s.Channels())
		})
	}
}

func TestAS7343_Init(t *testing.T) {
	s, m, clk := newTestSensor(t)
	start := clk.Now()
	require.NoError(t, s.Init(context.Background()))

	assert.Equal(t, DefaultSettleDelay, clk.Now().Sub(start))
	assert.Equal(t, [][]byte{{0x08}}, m.WritesTo(0xFA))
	assert.Equal(t, byte(0x1B), m.Peek(0x80), "PON WEN SMUXEN SP_EN")
	assert.Equal(t, byte(0x00), m.Peek(0xBF), "bank 0")
	assert.Equal(t, byte(0x00), m.Peek(0xD6), "6 channels")
	assert.Equal(t, byte(178), m.Peek(0x83))
	assert.Equal(t, byte(1), m.Peek(0x81))
	assert.Equal(t, []byte{0x40, 0x46}, []byte{m.Peek(0xD4), m.Peek(0xD5)})
	assert.Equal(t, byte(0x00), m.Peek(0xCD))
	assert.Equal(t, byte(0x7F), m.Peek(0xFC))

	var order []byte
	for _, w := range m.Writes {
		if w.Register != 0xBF {
			order = append(order, w.Register)
		}
	}
	require.NotEmpty(t, order)
	assert.Equal(t, byte(0xFA), order[0], "reset first")
	assert.Equal(t, byte(0x80), order[1], "then power on")
	assert.Equal(t, byte(0x80), order[len(order)-1], "measurement enabled last")
}

func TestAS7343_InitFailure(t *testing.T) {
	s, m, _ := newTestSensor(t)
	m.WriteErr = errors.New("nack")
	err := s.Init(context.Background())
	assert.ErrorIs(t, err, regmap.ErrTransport)
	assert.Contains(t, err.Error(), "soft reset")
}

func TestAS7343_SoftReset(t *testing.T) {
	t.Run("plain register file", func(t *testing.T) {
		s, m, _ := newTestSensor(t)
		ctx := context.Background()
		require.NoError(t, s.SoftReset(ctx))
		v, err := s.Device().Get(ctx, "CONTROL")
		require.NoError(t, err)
		assert.True(t, v.Bool("SW_RESET"))
		assert.Equal(t, byte(0x08), m.Peek(0xFA))
	})
	t.Run("self clearing", func(t *testing.T) {
		s, m, _ := newTestSensor(t)
		m.OnWrite(0xFA, func(m *regmap.MockTransport, data []byte) {
			m.Poke(0xFA, data[0]&^0x08)
		})
		ctx := context.Background()
		require.NoError(t, s.SoftReset(ctx))
		v, err := s.Device().Get(ctx, "CONTROL")
		require.NoError(t, err)
		assert.False(t, v.Bool("SW_RESET"))
	})
	t.Run("forgets bank", func(t *testing.T) {
		s, m, _ := newTestSensor(t)
		ctx := context.Background()
		require.NoError(t, s.SelectBank(ctx, 0))
		require.NoError(t, s.SoftReset(ctx))
		assert.Equal(t, regmap.AnyBank, s.Device().Bank())
		require.NoError(t, s.PowerOn(ctx))
		assert.Len(t, m.WritesTo(0xBF), 2)
	})
}

func TestAS7343_ReadFIFO(t *testing.T) {
	s, m, _ := newTestSensor(t)
	m.Poke(0xFD, 5)
	putWord(m, 0xFE, 0x1234)
	m.OnRead(0xFE, func(m *regmap.MockTransport) {
		m.Poke(0xFD, m.Peek(0xFD)-1)
	})

	var words []uint16
	for w, err := range s.ReadFIFO(context.Background()) {
		require.NoError(t, err)
		words = append(words, w)
	}
	assert.Equal(t, []uint16{0x1234, 0x1234, 0x1234, 0x1234, 0x1234}, words)

	var lvlReads int
	for _, r := range m.Reads {
		if r.Register == 0xFD {
			lvlReads++
		}
	}
	assert.Equal(t, 6, lvlReads, "level read before every word")
}

func TestAS7343_ReadFIFOResumes(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()
	m.Poke(0xFD, 5)
	m.OnRead(0xFE, func(m *regmap.MockTransport) {
		m.Poke(0xFD, m.Peek(0xFD)-1)
	})

	n := 0
	for range s.ReadFIFO(ctx) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, byte(3), m.Peek(0xFD))

	n = 0
	for _, err := range s.ReadFIFO(ctx) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestAS7343_ReadFIFOError(t *testing.T) {
	s, m, _ := newTestSensor(t)
	m.ReadErr = errors.New("nack")

	var errs []error
	for _, err := range s.ReadFIFO(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], regmap.ErrTransport)
}

func TestAS7343_ClearFIFO(t *testing.T) {
	s, m, _ := newTestSensor(t)
	require.NoError(t, s.ClearFIFO(context.Background()))
	assert.Equal(t, [][]byte{{0x02}}, m.WritesTo(0xFA))
}

func TestAS7343_Gain(t *testing.T) {
	tests := []struct {
		given    float64
		raw      byte
		expected float64
	}{
		{1, 1, 1},
		{64, 7, 64},
		{100, 7, 64},
		{99999, 12, 2048},
		{-1, 0, 0.5},
	}
	for _, test := range tests {
		s, m, _ := newTestSensor(t)
		ctx := context.Background()
		require.NoError(t, s.SetGain(ctx, test.given))
		assert.Equal(t, test.raw, m.Peek(0xC6), "gain %v", test.given)
		g, err := s.Gain(ctx)
		require.NoError(t, err)
		assert.Equal(t, test.expected, g)
	}
}

func TestAS7343_IntegrationTime(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()
	require.NoError(t, s.SetIntegrationTime(ctx, 1, 50*time.Millisecond))
	assert.Equal(t, byte(1), m.Peek(0x81))
	assert.Equal(t, []byte{0x40, 0x46}, []byte{m.Peek(0xD4), m.Peek(0xD5)})

	d, err := s.IntegrationTime(ctx)
	require.NoError(t, err)
	assert.InDelta(t, float64(99996600*time.Nanosecond), float64(d), 10)
}

func TestAS7343_WaitTime(t *testing.T) {
	tests := []struct {
		given    time.Duration
		raw      byte
		wlong    bool
		expected time.Duration
	}{
		{500 * time.Millisecond, 178, false, 497620 * time.Microsecond},
		{2780 * time.Microsecond, 0, false, 2780 * time.Microsecond},
		{2 * time.Second, 43, true, 1957120 * time.Microsecond},
	}
	for _, test := range tests {
		t.Run(test.given.String(), func(t *testing.T) {
			s, m, _ := newTestSensor(t)
			ctx := context.Background()
			require.NoError(t, s.SetWaitTime(ctx, test.given))
			assert.Equal(t, test.raw, m.Peek(0x83))
			assert.Equal(t, test.wlong, m.Peek(0xBF)&0x04 != 0)
			d, err := s.WaitTime(ctx)
			require.NoError(t, err)
			assert.InDelta(t, float64(test.expected), float64(d), float64(time.Microsecond))
		})
	}
}

func TestAS7343_LED(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()

	require.NoError(t, s.SetLEDCurrent(ctx, 20*physic.MilliAmpere))
	require.NoError(t, s.SetLED(ctx, true))
	assert.Equal(t, byte(0x88), m.Peek(0xCD))
	c, err := s.LEDCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20*physic.MilliAmpere, c)

	require.NoError(t, s.SetLEDCurrent(ctx, 300*physic.MilliAmpere))
	c, err = s.LEDCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 258*physic.MilliAmpere, c)
	assert.Equal(t, byte(0xFF), m.Peek(0xCD))

	err = s.SetLEDCurrent(ctx, -physic.MilliAmpere)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAS7343_Info(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()
	m.Poke(0x58, 0x08, 0x07, 0x81)

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, Info{ID: 0x81, Revision: 0x07, AuxID: 0x08}, info)
	assert.Equal(t, 1, s.Device().Bank())
	assert.Equal(t, byte(0x10), m.Peek(0xBF))

	require.NoError(t, s.SetGain(ctx, 4))
	assert.Equal(t, 0, s.Device().Bank())
	assert.Equal(t, byte(0x00), m.Peek(0xBF))
}

func TestAS7343_SelectBank(t *testing.T) {
	s, m, _ := newTestSensor(t)
	err := s.SelectBank(context.Background(), 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, m.Writes)
}

func TestAS7343_Flicker(t *testing.T) {
	s, m, _ := newTestSensor(t)
	m.Poke(0xE3, 0b00101001)
	f, err := s.Flicker(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Flicker{Valid: true, Valid120Hz: true, Hz100: true}, f)
}

func TestAS7343_Read18(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()
	require.NoError(t, s.SetChannels(ctx, Channels18))
	m.Poke(0x94, 0x89)
	for i := 0; i < 18; i++ {
		putWord(m, byte(0x95+2*i), uint16(i+1)*100)
	}

	res, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Channels18, res.Mode())
	expected := map[Channel]uint16{
		FZ: 100, FY: 200, FXL: 300, NIR: 400, VIS: 500,
		F2: 700, F3: 800, F4: 900, F6: 1000,
		F1: 1300, F7: 1400, F8: 1500, F5: 1600,
	}
	for c, want := range expected {
		got, ok := res.Value(c)
		assert.True(t, ok, c.String())
		assert.Equal(t, want, got, c.String())
	}
	assert.Equal(t, []uint16{100, 200, 300, 400, 500, 700, 800, 900, 1000, 1300, 1600, 1400, 1500}, res.Values())
	st, ok := res.Status(0)
	assert.True(t, ok)
	assert.Equal(t, uint8(0x89), st)
}

func TestAS7343_Read6(t *testing.T) {
	s, m, _ := newTestSensor(t)
	ctx := context.Background()
	putWord(m, 0x95, 42)
	putWord(m, 0x95+12, 7) // F2 slot, not measured

	res, err := s.Read(ctx)
	require.NoError(t, err)
	v, ok := res.Value(FZ)
	assert.True(t, ok)
	assert.Equal(t, uint16(42), v)
	_, ok = res.Value(F2)
	assert.False(t, ok)

	var chans []Channel
	for c := range res.All() {
		chans = append(chans, c)
	}
	assert.Equal(t, []Channel{FZ, FY, FXL, NIR, VIS}, chans)
}

func TestAS7343_CalibratedValues(t *testing.T) {
	s, m, clk := newTestSensor(t)
	ctx := context.Background()
	m.Poke(0x90, 0x40) // AVALID
	m.Poke(0xC6, 0x05) // 16x
	m.Poke(0x81, 0)
	putWord(m, 0xD4, 599) // 1668us
	putWord(m, 0x95, 1000)
	start := clk.Now()

	cv, err := s.CalibratedValues(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, cv.Fresh)
	assert.Equal(t, start, clk.Now())
	assert.Equal(t, 16.0, cv.Gain)
	assert.Equal(t, 1668*time.Microsecond, cv.IntegrationTime)
	fz, ok := cv.Value(FZ)
	assert.True(t, ok)
	assert.InDelta(t, 1000/(16*1.668), fz, 1e-6)
	assert.Len(t, cv.Values(), 5)
}

func TestAS7343_CalibratedValuesTimeout(t *testing.T) {
	s, m, clk := newTestSensor(t, WithPollInterval(10*time.Millisecond))
	ctx := context.Background()
	m.Poke(0xC6, 0x01)
	putWord(m, 0xD4, 599)
	putWord(m, 0x95, 1000)
	start := clk.Now()

	cv, err := s.CalibratedValues(ctx, 100*time.Millisecond)
	require.NoError(t, err, "timeout returns stale data")
	assert.False(t, cv.Fresh)
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 100*time.Millisecond)
	fz, _ := cv.Value(FZ)
	assert.InDelta(t, 1000/1.668, fz, 1e-6)
}

func TestAS7343_CalibratedValuesCancelled(t *testing.T) {
	s, _, _ := newTestSensor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CalibratedValues(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAS7343_Constants(t *testing.T) {
	s, _, _ := newTestSensor(t)
	consts := s.Constants()
	assert.Len(t, consts, 10)
	assert.Equal(t, Channels18, consts["AS7343_CFG20_AUTO_SMUX_18"])
	assert.Equal(t, FIFOThreshold16, consts["AS7343_CFG8_FIFO_TH_16"])
	assert.Equal(t, SMUXROMInit, consts["AS7343_CFG6_SMUX_CMD_ROM_INIT"])
}

func TestOpen(t *testing.T) {
	m := regmap.NewMockTransport()
	clk := stepClock{clock.NewMock()}
	s, err := Open(context.Background(), m, WithClock(clk), WithSettleDelay(time.Second), WithAddress(0x3A))
	require.NoError(t, err)
	assert.Equal(t, byte(0x3A), s.Device().Address())
	for _, w := range m.Writes {
		assert.Equal(t, byte(0x3A), w.Address)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 9
	_, err := New(regmap.NewMockTransport(), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
