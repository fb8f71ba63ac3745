package tcs34725

/*
 * tcs34725 - Package for interacting with TCS34725 RGBC color sensors (GY-33).
 *
 * Ref:
 * https://cdn-shop.adafruit.com/datasheets/TCS34725.pdf
 * https://github.com/adafruit/Adafruit_TCS34725
 *
 */

import (
	"time"

	"github.com/ztkent/lux-picker/i2cbus"
)

var l = i2cbus.NewLogger()

// Time the oscillator needs after PON before the ADC may be enabled
const settleDelay = 3 * time.Millisecond

// RGBC is one raw sample of the four channels
type RGBC struct {
	R uint16 `json:"r"`
	G uint16 `json:"g"`
	B uint16 `json:"b"`
	C uint16 `json:"c"`
}

// TCS34725 translates calls into register transactions. Gain and integration
// time live only in the sensor's registers.
type TCS34725 struct {
	Bus     i2cbus.Bus
	Address uint16
	// Sleep is used for the power-up settle delay; defaults to time.Sleep
	Sleep func(time.Duration)
}

func NewTCS34725(bus i2cbus.Bus, addr uint16) *TCS34725 {
	if addr == 0 {
		addr = TCS34725_ADDR
	}
	return &TCS34725{
		Bus:     bus,
		Address: addr,
		Sleep:   time.Sleep,
	}
}

// Write one register. The command bit is added if missing.
func (tcs *TCS34725) WriteRegister(reg, value byte) error {
	return i2cbus.WriteExact(tcs.Bus, tcs.Address, []byte{TCS34725_COMMAND_BIT | reg, value})
}

// Read a 16-bit register pair. The address select and the read share one bus
// transaction (repeated start). The low byte comes first on the wire.
func (tcs *TCS34725) ReadRegister16(reg byte) (uint16, error) {
	buf, err := i2cbus.ReadExact(tcs.Bus, tcs.Address, []byte{TCS34725_COMMAND_BIT | reg}, 2, true)
	if err != nil {
		return 0, err
	}
	return uint16(buf[1])<<8 | uint16(buf[0]), nil
}

// Enable powers the oscillator, waits, then starts the ADC.
// Disabling clears the whole ENABLE register in one write.
// A failure between the two writes leaves the sensor powered with the ADC off.
func (tcs *TCS34725) Enable(on bool) error {
	if !on {
		return tcs.WriteRegister(TCS34725_REGISTER_ENABLE, TCS34725_ENABLE_POWEROFF)
	}
	if err := tcs.WriteRegister(TCS34725_REGISTER_ENABLE, TCS34725_ENABLE_PON); err != nil {
		return err
	}
	tcs.sleep(settleDelay)
	if err := tcs.WriteRegister(TCS34725_REGISTER_ENABLE, TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN); err != nil {
		return err
	}
	tcs.sleep(settleDelay)
	return nil
}

// Set the integration time as a raw ATIME value
func (tcs *TCS34725) SetIntegration(atime byte) error {
	return tcs.WriteRegister(TCS34725_REGISTER_ATIME, atime)
}

// Set the gain for the sensor
func (tcs *TCS34725) SetGain(gain Gain) error {
	return tcs.WriteRegister(TCS34725_REGISTER_CONTROL, byte(gain))
}

// ReadID returns the low byte of the ID register
func (tcs *TCS34725) ReadID() (byte, error) {
	v, err := tcs.ReadRegister16(TCS34725_REGISTER_ID)
	if err != nil {
		return 0, err
	}
	return byte(v & 0xFF), nil
}

// DataReady reports whether a full integration cycle has completed since enable
func (tcs *TCS34725) DataReady() (bool, error) {
	st, err := tcs.ReadRegister16(TCS34725_REGISTER_STATUS)
	if err != nil {
		return false, err
	}
	return byte(st)&TCS34725_STATUS_AVALID != 0, nil
}

// ReadColor reads clear, red, green and blue in that order.
// Any failed read discards the whole sample.
func (tcs *TCS34725) ReadColor() (RGBC, error) {
	var c RGBC
	channels := []struct {
		reg byte
		dst *uint16
	}{
		{TCS34725_REGISTER_CDATAL, &c.C},
		{TCS34725_REGISTER_RDATAL, &c.R},
		{TCS34725_REGISTER_GDATAL, &c.G},
		{TCS34725_REGISTER_BDATAL, &c.B},
	}
	for _, ch := range channels {
		v, err := tcs.ReadRegister16(ch.reg)
		if err != nil {
			return RGBC{}, err
		}
		*ch.dst = v
	}
	l.Debugf("R: %d, G: %d, B: %d, C: %d", c.R, c.G, c.B, c.C)
	return c, nil
}

// BeginDefault programs ATIME 0xF5 and 1x gain, then enables the sensor.
func (tcs *TCS34725) BeginDefault() error {
	return tcs.Begin(TCS34725_ATIME_DEFAULT, TCS34725_GAIN_1X)
}

// Begin is BeginDefault with a caller chosen integration time and gain
func (tcs *TCS34725) Begin(atime byte, gain Gain) error {
	if err := tcs.SetIntegration(atime); err != nil {
		return &i2cbus.StepError{Device: "tcs34725", Step: "set integration", Err: err}
	}
	if err := tcs.SetGain(gain); err != nil {
		return &i2cbus.StepError{Device: "tcs34725", Step: "set gain", Err: err}
	}
	if err := tcs.Enable(true); err != nil {
		return &i2cbus.StepError{Device: "tcs34725", Step: "enable", Err: err}
	}
	l.Debugf("Set - Gain: %v, Integration Time: %v", gain, IntegrationTimeToString(atime))
	return nil
}

func (tcs *TCS34725) sleep(d time.Duration) {
	if tcs.Sleep == nil {
		time.Sleep(d)
		return
	}
	tcs.Sleep(d)
}
