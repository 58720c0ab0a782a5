package as7343

import (
	"context"
	"fmt"
	"iter"

	"github.com/mklimuk/spectral/regmap"
)

// ASTATUS words carry the status in the high byte.
const astatusMask = 0b10001111

// ReadFIFO drains the FIFO lazily. FIFO_LVL is read again before every word,
// so the sequence ends as soon as the device reports an empty FIFO. A
// transport error is yielded once and ends the sequence.
func (s *AS7343) ReadFIFO(ctx context.Context) iter.Seq2[uint16, error] {
	return func(yield func(uint16, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(0, err)
				return
			}
			lvl, err := s.dev.Get(ctx, "FIFO_LVL")
			if err != nil {
				yield(0, err)
				return
			}
			if lvl.Uint("FIFO_LVL") == 0 {
				return
			}
			word, err := s.dev.Get(ctx, "FDATA")
			if err != nil {
				yield(0, err)
				return
			}
			if !yield(uint16(word.Uint("FDATA")), nil) {
				return
			}
		}
	}
}

// ClearFIFO drops every queued word.
func (s *AS7343) ClearFIFO(ctx context.Context) error {
	return s.dev.Set(ctx, "CONTROL", regmap.Values{"FIFO_CLR": true})
}

// ParseFIFOFrame turns the words of one measurement written with FIFOMapAll
// (six channel words and ASTATUS per SMUX cycle) into a Result.
func ParseFIFOFrame(mode ChannelMode, words []uint16) (Result, error) {
	if !mode.Valid() {
		return Result{}, fmt.Errorf("as7343: channel count %d: %w", mode, ErrInvalidArgument)
	}
	per := FIFOMapAll.Words()
	if len(words) != mode.cycles()*per {
		return Result{}, fmt.Errorf("as7343: %d words in a %d channel frame, expected %d: %w",
			len(words), mode, mode.cycles()*per, ErrInvalidArgument)
	}
	slots := make([]uint16, dataSlots)
	status := make([]uint8, mode.cycles())
	for cycle := range status {
		frame := words[cycle*per : (cycle+1)*per]
		copy(slots[cycle*slotsCycle:], frame[:slotsCycle])
		status[cycle] = uint8(frame[slotsCycle]>>8) & astatusMask
	}
	return newResult(mode, slots, status), nil
}
