package bh1750

/*
 * bh1750 - Package for interacting with BH1750 ambient light sensors.
 *
 * Ref:
 * https://www.mouser.com/datasheet/2/348/bh1750fvi-e-186247.pdf
 *
 */

import (
	"fmt"
	"math"
	"time"

	"github.com/ztkent/lux-picker/i2cbus"
)

var l = i2cbus.NewLogger()

// ErrInvalidMTreg is returned for a sensitivity outside [31, 254]. It wraps i2cbus.ErrValidation.
var ErrInvalidMTreg = fmt.Errorf("bh1750: mtreg must be within [%d, %d]: %w", BH1750_MTREG_MIN, BH1750_MTREG_MAX, i2cbus.ErrValidation)

// BH1750 keeps the driver's model of the sensitivity register and the active mode.
// The sensor has no readable registers, so this model is the only record of both.
type BH1750 struct {
	Bus     i2cbus.Bus
	Address uint16
	// Sleep blocks while the first conversion runs; defaults to time.Sleep
	Sleep func(time.Duration)

	mtreg uint8
	mode  Mode
}

// Create a BH1750 with the default sensitivity and continuous H-resolution mode.
// Nothing is sent to the sensor until BeginDefault or an explicit command.
func NewBH1750(bus i2cbus.Bus, addr uint16) *BH1750 {
	if addr == 0 {
		addr = BH1750_ADDR_L
	}
	return &BH1750{
		Bus:     bus,
		Address: addr,
		Sleep:   time.Sleep,
		mtreg:   BH1750_MTREG_DEF,
		mode:    BH1750_CONT_HIRES_1,
	}
}

func (b *BH1750) MTreg() uint8 { return b.mtreg }

func (b *BH1750) Mode() Mode { return b.mode }

func (b *BH1750) writeCmd(cmd byte) error {
	return i2cbus.WriteExact(b.Bus, b.Address, []byte{cmd})
}

func (b *BH1750) PowerOn() error { return b.writeCmd(BH1750_POWER_ON) }

func (b *BH1750) PowerDown() error { return b.writeCmd(BH1750_POWER_DOWN) }

// Reset clears the data register. The sensor ignores it unless powered on.
func (b *BH1750) Reset() error { return b.writeCmd(BH1750_RESET) }

// Set the measurement mode
func (b *BH1750) SetMode(mode Mode) error {
	if err := b.writeCmd(byte(mode)); err != nil {
		return err
	}
	b.mode = mode
	return nil
}

func ValidMTreg(mtreg uint8) bool {
	return mtreg >= BH1750_MTREG_MIN && mtreg <= BH1750_MTREG_MAX
}

// EncodeMTreg splits the sensitivity into its two command bytes, high bits first.
func EncodeMTreg(mtreg uint8) (byte, byte) {
	return BH1750_MTREG_HIGH_BIT | (mtreg >> 5), BH1750_MTREG_LOW_BIT | (mtreg & 0x1F)
}

// Set the sensitivity (measurement time register).
// If the high byte is accepted and the low byte is not, the sensor may hold a value
// the driver does not know about; the stored MTreg keeps its prior value.
func (b *BH1750) SetMTreg(mtreg uint8) error {
	if !ValidMTreg(mtreg) {
		return ErrInvalidMTreg
	}
	high, low := EncodeMTreg(mtreg)
	if err := b.writeCmd(high); err != nil {
		return err
	}
	if err := b.writeCmd(low); err != nil {
		l.Debugf("MTreg high bits written, low bits failed: %v", err)
		return err
	}
	b.mtreg = mtreg
	return nil
}

// Read the last conversion. The sensor sends the most significant byte first.
func (b *BH1750) ReadRaw() (uint16, error) {
	buf, err := i2cbus.ReadExact(b.Bus, b.Address, nil, 2, false)
	if err != nil {
		return 0, err
	}
	raw := uint16(buf[0])<<8 | uint16(buf[1])
	l.Debugf("Raw illuminance: %d", raw)
	return raw, nil
}

// Read the last conversion and convert it to lux
func (b *BH1750) ReadLux() (float64, error) {
	raw, err := b.ReadRaw()
	if err != nil {
		return 0, err
	}
	return CalculateLux(raw, b.mtreg), nil
}

// CalculateLux applies lux = raw / 1.2 * (69 / mtreg).
// The factor is always referenced to the default MTreg, whatever the mode.
func CalculateLux(raw uint16, mtreg uint8) float64 {
	if mtreg == 0 {
		mtreg = BH1750_MTREG_DEF
	}
	return float64(raw) / BH1750_LUX_FACTOR * (float64(BH1750_MTREG_DEF) / float64(mtreg))
}

// IntegrationTime estimates how long one conversion takes with the current mode and MTreg.
func (b *BH1750) IntegrationTime() time.Duration {
	base := BH1750_HIRES_TIME_MS
	if b.mode.LowResolution() {
		base = BH1750_LORES_TIME_MS
	}
	ms := math.Round(float64(base) * float64(b.mtreg) / float64(BH1750_MTREG_DEF))
	return time.Duration(ms) * time.Millisecond
}

// BeginDefault powers the sensor on, programs MTreg 69 and continuous H-resolution,
// then waits out the first conversion. Readings taken before it returns are not valid.
func (b *BH1750) BeginDefault() error {
	return b.Begin(BH1750_MTREG_DEF)
}

// Begin is BeginDefault with a caller chosen MTreg. The wait covers the
// integration time at that MTreg, so the first read is already scaled for it.
func (b *BH1750) Begin(mtreg uint8) error {
	if !ValidMTreg(mtreg) {
		return &i2cbus.StepError{Device: "bh1750", Step: "set mtreg", Err: ErrInvalidMTreg}
	}
	if err := b.PowerOn(); err != nil {
		return &i2cbus.StepError{Device: "bh1750", Step: "power on", Err: err}
	}
	if err := b.SetMTreg(mtreg); err != nil {
		return &i2cbus.StepError{Device: "bh1750", Step: "set mtreg", Err: err}
	}
	if err := b.SetMode(BH1750_CONT_HIRES_1); err != nil {
		return &i2cbus.StepError{Device: "bh1750", Step: "set mode", Err: err}
	}
	wait := b.IntegrationTime()
	l.Debugf("Waiting %v for the first conversion", wait)
	b.sleep(wait)
	return nil
}

func (b *BH1750) sleep(d time.Duration) {
	if b.Sleep == nil {
		time.Sleep(d)
		return
	}
	b.Sleep(d)
}
