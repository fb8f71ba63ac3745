package bh1750

// Mode selects the resolution and whether the sensor keeps converting.
type Mode byte

const (
	BH1750_ADDR_L uint16 = 0x23 ///< ADDR pin low (default)
	BH1750_ADDR_H uint16 = 0x5C ///< ADDR pin high

	BH1750_POWER_DOWN byte = 0x00 ///< No active state
	BH1750_POWER_ON   byte = 0x01 ///< Waiting for a measurement command
	BH1750_RESET      byte = 0x07 ///< Clears the data register, only accepted while powered on

	BH1750_MTREG_HIGH_BIT byte = 0x40 ///< 01000_MT[7:5]
	BH1750_MTREG_LOW_BIT  byte = 0x60 ///< 011_MT[4:0]

	BH1750_LUX_FACTOR float64 = 1.2 ///< counts per lux in H-resolution mode at MTreg 69
)

// Measurement time register (sensitivity) limits
const (
	BH1750_MTREG_MIN uint8 = 31
	BH1750_MTREG_DEF uint8 = 69
	BH1750_MTREG_MAX uint8 = 254
)

// Measurement modes
const (
	BH1750_CONT_HIRES_1 Mode = 0x10 // ~1 lx/bit, 120ms
	BH1750_CONT_HIRES_2 Mode = 0x11 // ~0.5 lx/bit, 120ms
	BH1750_CONT_LORES   Mode = 0x13 // ~4 lx/bit, 16ms
	BH1750_OT_HIRES_1   Mode = 0x20 // one time, powers down after the conversion
	BH1750_OT_HIRES_2   Mode = 0x21
	BH1750_OT_LORES     Mode = 0x23
)

// Conversion time at the default MTreg
const (
	BH1750_HIRES_TIME_MS uint32 = 120
	BH1750_LORES_TIME_MS uint32 = 16
)

func (m Mode) LowResolution() bool {
	return m == BH1750_CONT_LORES || m == BH1750_OT_LORES
}

func (m Mode) String() string {
	switch m {
	case BH1750_CONT_HIRES_1:
		return "Continuous H-resolution"
	case BH1750_CONT_HIRES_2:
		return "Continuous H-resolution 2"
	case BH1750_CONT_LORES:
		return "Continuous L-resolution"
	case BH1750_OT_HIRES_1:
		return "One time H-resolution"
	case BH1750_OT_HIRES_2:
		return "One time H-resolution 2"
	case BH1750_OT_LORES:
		return "One time L-resolution"
	default:
		return "Unknown"
	}
}
