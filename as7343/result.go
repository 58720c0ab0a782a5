package as7343

import (
	"iter"
	"time"
)

// Channel identifies one spectral band of the sensor.
type Channel uint8

const (
	FZ  Channel = iota // blue, 450nm
	FY                 // green, 555nm
	FXL                // orange, 600nm
	NIR                // near infrared, 855nm
	VIS                // clear
	F2                 // violet, 425nm
	F3                 // blue/cyan, 475nm
	F4                 // cyan, 515nm
	F6                 // orange/red, 640nm
	F1                 // violet, 405nm
	F5                 // yellow/green, 550nm
	F7                 // red, 690nm
	F8                 // red, 745nm

	channelCount
)

var channelNames = [channelCount]string{
	FZ: "FZ", FY: "FY", FXL: "FXL", NIR: "NIR", VIS: "VIS",
	F2: "F2", F3: "F3", F4: "F4", F6: "F6",
	F1: "F1", F5: "F5", F7: "F7", F8: "F8",
}

func (c Channel) String() string {
	if c >= channelCount {
		return "UNKNOWN"
	}
	return channelNames[c]
}

// Channels returns the bands measured in this mode in result order:
// FZ FY FXL NIR VIS, then F2 F3 F4 F6 for 12 channels, then F1 F5 F7 F8 for 18.
func (m ChannelMode) Channels() []Channel {
	var n int
	switch m {
	case Channels6:
		n = 5
	case Channels12:
		n = 9
	case Channels18:
		n = 13
	}
	out := make([]Channel, n)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// cycles is the number of SMUX cycles (6 data slots each) per measurement.
func (m ChannelMode) cycles() int {
	return int(m) / 6
}

func (m ChannelMode) has(c Channel) bool {
	return int(c) < len(m.Channels())
}

// slotChannels places the first four data slots of each SMUX cycle. Slot 4 is
// VIS and slot 5 is the flicker photodiode in every cycle.
var slotChannels = [3][4]Channel{
	{FZ, FY, FXL, NIR},
	{F2, F3, F4, F6},
	{F1, F7, F8, F5},
}

const (
	visSlot    = 4
	slotsCycle = 6
)

type bands[T any] struct {
	mode   ChannelMode
	values [channelCount]T
}

// Mode returns the channel mode the values were measured in.
func (b bands[T]) Mode() ChannelMode { return b.mode }

// Value returns the value of a band, false if the mode does not measure it.
func (b bands[T]) Value(c Channel) (T, bool) {
	if !b.mode.has(c) {
		var zero T
		return zero, false
	}
	return b.values[c], true
}

// All iterates over the measured bands in result order.
func (b bands[T]) All() iter.Seq2[Channel, T] {
	return func(yield func(Channel, T) bool) {
		for _, c := range b.mode.Channels() {
			if !yield(c, b.values[c]) {
				return
			}
		}
	}
}

// Values returns the measured values in result order.
func (b bands[T]) Values() []T {
	chans := b.mode.Channels()
	out := make([]T, len(chans))
	for i, c := range chans {
		out[i] = b.values[c]
	}
	return out
}

// Result holds raw channel counts of one measurement.
type Result struct {
	bands[uint16]
	status []uint8
}

// newResult sorts slot words (6 per SMUX cycle) into bands.
func newResult(mode ChannelMode, slots []uint16, status []uint8) Result {
	r := Result{bands: bands[uint16]{mode: mode}, status: append([]uint8(nil), status...)}
	for cycle := 0; cycle < mode.cycles(); cycle++ {
		base := cycle * slotsCycle
		for i, c := range slotChannels[cycle] {
			r.values[c] = slots[base+i]
		}
	}
	r.values[VIS] = slots[visSlot]
	return r
}

// Status returns the ASTATUS byte captured with SMUX cycle n, if any.
func (r Result) Status(cycle int) (uint8, bool) {
	if cycle < 0 || cycle >= len(r.status) {
		return 0, false
	}
	return r.status[cycle], true
}

// CalibratedValues holds basic counts: raw counts divided by gain and
// integration time in milliseconds.
type CalibratedValues struct {
	bands[float64]
	Gain            float64
	IntegrationTime time.Duration
	// Fresh is false when the data-ready wait timed out and the values may
	// come from an earlier measurement.
	Fresh bool
}

func calibrate(r Result, gain float64, tint time.Duration, fresh bool) CalibratedValues {
	cv := CalibratedValues{
		bands:           bands[float64]{mode: r.mode},
		Gain:            gain,
		IntegrationTime: tint,
		Fresh:           fresh,
	}
	scale := gain * float64(tint) / float64(time.Millisecond)
	if scale <= 0 {
		return cv
	}
	for c := range r.values {
		cv.values[c] = float64(r.values[c]) / scale
	}
	return cv
}
