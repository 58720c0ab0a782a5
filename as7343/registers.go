package as7343

import (
	"strconv"

	"github.com/mklimuk/spectral/regmap"
)

// DefaultAddress is the fixed 7-bit bus address of the AS7343.
const DefaultAddress = 0x39

// ChannelMode is the number of channels the automatic SMUX cycles through.
type ChannelMode uint8

const (
	Channels6  ChannelMode = 6
	Channels12 ChannelMode = 12
	Channels18 ChannelMode = 18
)

// FIFOThreshold is the FIFO level raising the FIFO interrupt.
type FIFOThreshold uint8

const (
	FIFOThreshold1  FIFOThreshold = 1
	FIFOThreshold4  FIFOThreshold = 4
	FIFOThreshold8  FIFOThreshold = 8
	FIFOThreshold16 FIFOThreshold = 16
)

// SMUXCommand is executed by the SMUX engine when SMUXEN is set.
type SMUXCommand string

const (
	SMUXROMInit SMUXCommand = "ROM_INIT"
	SMUXRead    SMUXCommand = "READ_SMUX"
	SMUXWrite   SMUXCommand = "WRITE_SMUX"
)

var (
	channelModes = regmap.NewLookup(map[ChannelMode]uint64{
		Channels6:  0b00,
		Channels12: 0b10,
		Channels18: 0b11,
	})
	fifoThresholds = regmap.NewLookup(map[FIFOThreshold]uint64{
		FIFOThreshold1:  0b00,
		FIFOThreshold4:  0b01,
		FIFOThreshold8:  0b10,
		FIFOThreshold16: 0b11,
	})
	smuxCommands = regmap.NewLookup(map[SMUXCommand]uint64{
		SMUXROMInit: 0,
		SMUXRead:    1,
		SMUXWrite:   2,
	})
)

// Valid reports whether the mode is one the SMUX supports.
func (m ChannelMode) Valid() bool {
	_, ok := channelModes.Raw(m)
	return ok
}

const dataSlots = 18

var (
	flag   = regmap.WithCodec(regmap.Bool{})
	gain   = regmap.WithCodec(regmap.Gain{Min: 0.5, Max: 2048})
	wordLE = regmap.WithCodec(regmap.ByteSwap16{})
)

// registers builds a fresh register table; tables are bound to one device.
//
// REG_BANK=1 exposes 0x20-0x7F, REG_BANK=0 exposes 0x80 and above. CFG0
// answers in both banks.
func registers() []*regmap.Register {
	return []*regmap.Register{
		// bank 1
		regmap.NewRegister("AUXID", 0x58, []*regmap.Field{
			regmap.NewField("AUXID", 0b00001111),
		}, regmap.ReadOnly(), regmap.InBank(1)),
		regmap.NewRegister("REVID", 0x59, []*regmap.Field{
			regmap.NewField("REVID", 0b00000111),
		}, regmap.ReadOnly(), regmap.InBank(1)),
		regmap.NewRegister("ID", 0x5A, []*regmap.Field{
			regmap.NewField("ID", 0xFF),
		}, regmap.ReadOnly(), regmap.InBank(1)),
		regmap.NewRegister("CFG10", 0x65, []*regmap.Field{
			regmap.NewField("FD_PERS", 0b00000111),
		}, regmap.InBank(1)),
		regmap.NewRegister("CFG12", 0x66, []*regmap.Field{
			regmap.NewField("SP_TH_CH", 0b00000111),
		}, regmap.InBank(1)),
		regmap.NewRegister("GPIO", 0x6B, []*regmap.Field{
			regmap.NewField("GPIO_INV", 0b00001000, flag),
			regmap.NewField("GPIO_IN_EN", 0b00000100, flag),
			regmap.NewField("GPIO_OUT", 0b00000010, flag),
			regmap.NewField("GPIO_IN", 0b00000001, flag),
		}, regmap.InBank(1)),

		// bank 0
		regmap.NewRegister("ENABLE", 0x80, []*regmap.Field{
			regmap.NewField("FDEN", 0b01000000, flag),
			regmap.NewField("SMUXEN", 0b00010000, flag),
			regmap.NewField("WEN", 0b00001000, flag),
			regmap.NewField("SP_EN", 0b00000010, flag),
			regmap.NewField("PON", 0b00000001, flag),
		}, regmap.InBank(0)),
		// integration time is (ATIME + 1) x (ASTEP + 1) x 2.78us
		regmap.NewRegister("ATIME", 0x81, []*regmap.Field{
			regmap.NewField("ATIME", 0xFF),
		}, regmap.InBank(0)),
		// milliseconds; WLONG multiplies by 16
		regmap.NewRegister("WTIME", 0x83, []*regmap.Field{
			regmap.NewField("WTIME", 0xFF, regmap.WithCodec(regmap.Step{Size: 2.78, Max: 255})),
		}, regmap.InBank(0)),
		regmap.NewRegister("SP_TH", 0x84, []*regmap.Field{
			regmap.NewField("SP_TH_L", 0xFFFF0000, wordLE),
			regmap.NewField("SP_TH_H", 0x0000FFFF, wordLE),
		}, regmap.Width(32), regmap.InBank(0)),
		regmap.NewRegister("STATUS2", 0x90, []*regmap.Field{
			regmap.NewField("AVALID", 0b01000000, flag),
			regmap.NewField("ASAT_DIG", 0b00010000, flag),
			regmap.NewField("ASAT_ANA", 0b00001000, flag),
			regmap.NewField("FDSAT_ANA", 0b00000010, flag),
			regmap.NewField("FDSAT_DIG", 0b00000001, flag),
		}, regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("STATUS3", 0x91, []*regmap.Field{
			regmap.NewField("INT_SP_H", 0b00100000, flag),
			regmap.NewField("INT_SP_L", 0b00010000, flag),
		}, regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("STATUS", 0x93, []*regmap.Field{
			regmap.NewField("ASAT", 0b10000000, flag),
			regmap.NewField("AINT", 0b00001000, flag),
			regmap.NewField("FINT", 0b00000100, flag),
			regmap.NewField("SINT", 0b00000001, flag),
		}, regmap.InBank(0)),
		// reading ASTATUS latches the DATA block
		regmap.NewRegister("ASTATUS", 0x94, []*regmap.Field{
			regmap.NewField("ASAT_STATUS", 0b10000000, flag),
			regmap.NewField("AGAIN_STATUS", 0b00001111, gain),
		}, regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("DATA", 0x95, dataFields(), regmap.Width(dataSlots*16), regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("STATUS5", 0xBB, []*regmap.Field{
			regmap.NewField("SINT_FD", 0b00001000, flag),
			regmap.NewField("SINT_SMUX", 0b00000100, flag),
		}, regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("STATUS4", 0xBC, []*regmap.Field{
			regmap.NewField("FIFO_OV", 0b10000000, flag),
			regmap.NewField("OVTEMP", 0b00100000, flag),
			regmap.NewField("FD_TRIG", 0b00010000, flag),
			regmap.NewField("SD_TRIG", 0b00000100, flag),
			regmap.NewField("SAI_ACT", 0b00000010, flag),
			regmap.NewField("INT_BUSY", 0b00000001, flag),
		}, regmap.InBank(0)),
		regmap.NewRegister("CFG0", 0xBF, []*regmap.Field{
			regmap.NewField("LOW_POWER", 0b00100000, flag),
			regmap.NewField("REG_BANK", 0b00010000),
			regmap.NewField("WLONG", 0b00000100, flag),
		}),
		regmap.NewRegister("CFG1", 0xC6, []*regmap.Field{
			regmap.NewField("AGAIN", 0b00011111, gain),
		}, regmap.InBank(0)),
		regmap.NewRegister("CFG3", 0xC7, []*regmap.Field{
			regmap.NewField("SAI", 0b00010000, flag),
		}, regmap.InBank(0)),
		regmap.NewRegister("CFG8", 0xC9, []*regmap.Field{
			regmap.NewField("FIFO_TH", 0b11000000, regmap.WithCodec(fifoThresholds)),
		}, regmap.InBank(0)),
		regmap.NewRegister("CFG9", 0xCA, []*regmap.Field{
			regmap.NewField("SIEN_FD", 0b01000000, flag),
			regmap.NewField("SIEN_SMUX", 0b00010000, flag),
		}, regmap.InBank(0)),
		// drive current in mA: raw * 2 + 4
		regmap.NewRegister("LED", 0xCD, []*regmap.Field{
			regmap.NewField("LED_ACT", 0b10000000, flag),
			regmap.NewField("LED_DRIVE", 0b01111111, regmap.WithCodec(regmap.Linear{Scale: 2, Offset: 4, Max: 127})),
		}, regmap.InBank(0)),
		regmap.NewRegister("PERS", 0xCF, []*regmap.Field{
			regmap.NewField("APERS", 0b00001111),
		}, regmap.InBank(0)),
		// microseconds, little-endian; 65535 is reserved
		regmap.NewRegister("ASTEP", 0xD4, []*regmap.Field{
			regmap.NewField("ASTEP", 0xFFFF, regmap.WithCodec(regmap.ByteSwap16{Next: regmap.Step{Size: 2.78, Max: 65534}})),
		}, regmap.Width(16), regmap.InBank(0)),
		regmap.NewRegister("CFG20", 0xD6, []*regmap.Field{
			regmap.NewField("FD_FIFO_8B", 0b10000000, flag),
			regmap.NewField("AUTO_SMUX", 0b01100000, regmap.WithCodec(channelModes)),
		}, regmap.InBank(0)),
		regmap.NewRegister("AGC_GAIN_MAX", 0xD7, []*regmap.Field{
			regmap.NewField("AGC_FD_GAIN_MAX", 0b11110000, gain),
		}, regmap.InBank(0)),
		// 0 never, n every n cycles, 255 only before the first cycle
		regmap.NewRegister("AZ_CONFIG", 0xDE, []*regmap.Field{
			regmap.NewField("AT_NTH_ITERATION", 0xFF),
		}, regmap.InBank(0)),
		regmap.NewRegister("FD_CFG0", 0xDF, []*regmap.Field{
			regmap.NewField("FIFO_WRITE_FD", 0b10000000, flag),
		}, regmap.InBank(0)),
		regmap.NewRegister("FD_TIME_1", 0xE0, []*regmap.Field{
			regmap.NewField("FD_TIME", 0xFF),
		}, regmap.InBank(0)),
		regmap.NewRegister("FD_TIME_2", 0xE2, []*regmap.Field{
			regmap.NewField("FD_GAIN", 0b11111000, gain),
			regmap.NewField("FD_TIME", 0b00000111),
		}, regmap.InBank(0)),
		regmap.NewRegister("FD_STATUS", 0xE3, []*regmap.Field{
			regmap.NewField("FD_VALID", 0b00100000, flag),
			regmap.NewField("FD_SAT", 0b00010000, flag),
			regmap.NewField("FD_120HZ_VALID", 0b00001000, flag),
			regmap.NewField("FD_100HZ_VALID", 0b00000100, flag),
			regmap.NewField("FD_120HZ", 0b00000010, flag),
			regmap.NewField("FD_100HZ", 0b00000001, flag),
		}, regmap.InBank(0)),
		regmap.NewRegister("CFG6", 0xF5, []*regmap.Field{
			regmap.NewField("SMUX_CMD", 0b00011000, regmap.WithCodec(smuxCommands)),
		}, regmap.InBank(0)),
		regmap.NewRegister("INTENAB", 0xF9, []*regmap.Field{
			regmap.NewField("ASIEN", 0b10000000, flag),
			regmap.NewField("SP_IEN", 0b00001000, flag),
			regmap.NewField("FIEN", 0b00000100, flag),
			regmap.NewField("SIEN", 0b00000001, flag),
		}, regmap.InBank(0)),
		// strobes, self-clearing on the device
		regmap.NewRegister("CONTROL", 0xFA, []*regmap.Field{
			regmap.NewField("SW_RESET", 0b00001000, flag),
			regmap.NewField("SP_MAN_AZ", 0b00000100, flag),
			regmap.NewField("FIFO_CLR", 0b00000010, flag),
			regmap.NewField("CLEAR_SAI_ACT", 0b00000001, flag),
		}, regmap.WriteOnly(), regmap.InBank(0)),
		regmap.NewRegister("FIFO_MAP", 0xFC, []*regmap.Field{
			regmap.NewField("FIFO_WRITE_CH5_DATA", 0b01000000, flag),
			regmap.NewField("FIFO_WRITE_CH4_DATA", 0b00100000, flag),
			regmap.NewField("FIFO_WRITE_CH3_DATA", 0b00010000, flag),
			regmap.NewField("FIFO_WRITE_CH2_DATA", 0b00001000, flag),
			regmap.NewField("FIFO_WRITE_CH1_DATA", 0b00000100, flag),
			regmap.NewField("FIFO_WRITE_CH0_DATA", 0b00000010, flag),
			regmap.NewField("FIFO_WRITE_ASTATUS", 0b00000001, flag),
		}, regmap.InBank(0)),
		regmap.NewRegister("FIFO_LVL", 0xFD, []*regmap.Field{
			regmap.NewField("FIFO_LVL", 0xFF),
		}, regmap.ReadOnly(), regmap.InBank(0)),
		regmap.NewRegister("FDATA", 0xFE, []*regmap.Field{
			regmap.NewField("FDATA", 0xFFFF, wordLE),
		}, regmap.Width(16), regmap.ReadOnly(), regmap.InBank(0)),
	}
}

// dataFields lays out the 18 little-endian result words, DATA_0 first on the wire.
func dataFields() []*regmap.Field {
	fields := make([]*regmap.Field, dataSlots)
	for i := range fields {
		fields[i] = regmap.NewField(dataField(i), 0xFFFF, regmap.Shifted(uint((dataSlots-1-i)*16)), wordLE)
	}
	return fields
}

func dataField(slot int) string {
	return "DATA_" + strconv.Itoa(slot)
}
