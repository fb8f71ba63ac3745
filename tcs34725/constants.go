package tcs34725

import "fmt"

// Gain is the analog gain of the RGBC channels
type Gain byte

const (
	TCS34725_ADDR        uint16 = 0x29 ///< Default I2C address (GY-33 board)
	TCS34725_COMMAND_BIT byte   = 0x80 ///< Must be set on every register address

	TCS34725_ENABLE_POWEROFF byte = 0x00 ///< Flag for ENABLE register to disable
	TCS34725_ENABLE_PON      byte = 0x01 ///< Power ON. Activates the internal oscillator
	TCS34725_ENABLE_AEN      byte = 0x02 ///< RGBC Enable. Activates the two-channel ADC

	TCS34725_STATUS_AVALID byte = 0x01 ///< RGBC channels have completed an integration cycle

	TCS34725_ATIME_DEFAULT byte    = 0xF5 ///< 11 cycles, 26.4ms
	TCS34725_ATIME_STEP_MS float64 = 2.4  ///< Each integration cycle takes 2.4ms

	TCS34725_ID_TCS34725 byte = 0x44 ///< TCS34721 and TCS34725
	TCS34725_ID_TCS34727 byte = 0x4D ///< TCS34723 and TCS34727
)

// TCS34725 Register map, without the command bit
const (
	TCS34725_REGISTER_ENABLE  byte = 0x00 // Enable register
	TCS34725_REGISTER_ATIME   byte = 0x01 // RGBC integration time
	TCS34725_REGISTER_CONTROL byte = 0x0F // Gain control
	TCS34725_REGISTER_ID      byte = 0x12 // Device Identification
	TCS34725_REGISTER_STATUS  byte = 0x13 // Device status
	TCS34725_REGISTER_CDATAL  byte = 0x14 // Clear data, low byte
	TCS34725_REGISTER_RDATAL  byte = 0x16 // Red data, low byte
	TCS34725_REGISTER_GDATAL  byte = 0x18 // Green data, low byte
	TCS34725_REGISTER_BDATAL  byte = 0x1A // Blue data, low byte
)

// Constants for adjusting the sensor gain
const (
	TCS34725_GAIN_1X  Gain = 0x00 /// no gain
	TCS34725_GAIN_4X  Gain = 0x01 /// 4x gain
	TCS34725_GAIN_16X Gain = 0x02 /// 16x gain
	TCS34725_GAIN_60X Gain = 0x03 /// 60x gain
)

func (g Gain) Multiplier() float64 {
	switch g {
	case TCS34725_GAIN_4X:
		return 4
	case TCS34725_GAIN_16X:
		return 16
	case TCS34725_GAIN_60X:
		return 60
	default:
		return 1
	}
}

func (g Gain) String() string {
	switch g {
	case TCS34725_GAIN_1X:
		return "1x gain"
	case TCS34725_GAIN_4X:
		return "4x gain"
	case TCS34725_GAIN_16X:
		return "16x gain"
	case TCS34725_GAIN_60X:
		return "60x gain"
	default:
		return "Unknown"
	}
}

// ParseGain accepts "1x", "4x", "16x" or "60x"
func ParseGain(s string) (Gain, error) {
	switch s {
	case "1x", "1X", "1":
		return TCS34725_GAIN_1X, nil
	case "4x", "4X", "4":
		return TCS34725_GAIN_4X, nil
	case "16x", "16X", "16":
		return TCS34725_GAIN_16X, nil
	case "60x", "60X", "60":
		return TCS34725_GAIN_60X, nil
	default:
		return 0, fmt.Errorf("unknown gain %q", s)
	}
}

// IntegrationTimeMs converts a raw ATIME value: 2.4ms * (256 - atime)
func IntegrationTimeMs(atime byte) float64 {
	return TCS34725_ATIME_STEP_MS * float64(256-int(atime))
}

func IntegrationTimeToString(atime byte) string {
	return fmt.Sprintf("%.1fms", IntegrationTimeMs(atime))
}
