// Package sim emulates a BH1750 and a TCS34725 sharing one I2C bus, at the
// register level, so the drivers and the control loop run without hardware.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/i2cbus"
	"github.com/ztkent/lux-picker/tcs34725"
)

var (
	ErrNoDevice = errors.New("sim: no device at address")
	ErrNack     = errors.New("sim: nack")
)

// Scene is the light falling on both sensors
type Scene struct {
	Lux   float64
	Color tcs34725.RGBC
}

// Bus implements i2cbus.Bus with both sensors attached
type Bus struct {
	Light *Light
	Color *Color
	// Scene is sampled on every conversion; defaults to Indoor
	Scene func() Scene

	faults map[uint16]int
	mu     sync.Mutex
}

func NewBus() *Bus {
	return &Bus{
		Light:  &Light{Address: bh1750.BH1750_ADDR_L},
		Color:  &Color{Address: tcs34725.TCS34725_ADDR, ID: tcs34725.TCS34725_ID_TCS34725},
		Scene:  Indoor(500, 100),
		faults: make(map[uint16]int),
	}
}

// FailNext makes the next n transactions addressed to addr fail with ErrNack
func (b *Bus) FailNext(addr uint16, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[addr] += n
}

func (b *Bus) fault(addr uint16) bool {
	if b.faults[addr] > 0 {
		b.faults[addr]--
		return true
	}
	return false
}

func (b *Bus) scene() Scene {
	if b.Scene == nil {
		return Scene{}
	}
	return b.Scene()
}

func (b *Bus) Write(addr uint16, w []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fault(addr) {
		return 0, ErrNack
	}
	switch addr {
	case b.Light.Address:
		return b.Light.write(w)
	case b.Color.Address:
		return b.Color.write(w)
	}
	return 0, fmt.Errorf("%w 0x%02X", ErrNoDevice, addr)
}

func (b *Bus) WriteRead(addr uint16, w []byte, n int, hold bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fault(addr) {
		return nil, ErrNack
	}
	switch addr {
	case b.Light.Address:
		if len(w) > 0 {
			if _, err := b.Light.write(w); err != nil {
				return nil, err
			}
		}
		return b.Light.read(n, b.scene())
	case b.Color.Address:
		return b.Color.read(w, n, hold, b.scene())
	}
	return nil, fmt.Errorf("%w 0x%02X", ErrNoDevice, addr)
}

// Light models the BH1750 command set
type Light struct {
	Address uint16
	Powered bool
	Mode    bh1750.Mode
	MTreg   uint8

	pendingHigh byte
	measured    bool
}

func (d *Light) write(w []byte) (int, error) {
	for i, cmd := range w {
		if err := d.command(cmd); err != nil {
			return i, err
		}
	}
	return len(w), nil
}

func (d *Light) command(cmd byte) error {
	switch {
	case cmd == bh1750.BH1750_POWER_DOWN:
		d.Powered = false
	case cmd == bh1750.BH1750_POWER_ON:
		d.Powered = true
	case cmd == bh1750.BH1750_RESET:
		if !d.Powered {
			return ErrNack
		}
	case cmd&0xF8 == bh1750.BH1750_MTREG_HIGH_BIT:
		d.pendingHigh = cmd & 0x07
	case cmd&0xE0 == bh1750.BH1750_MTREG_LOW_BIT:
		d.MTreg = d.pendingHigh<<5 | cmd&0x1F
	case bh1750.Mode(cmd).String() != "Unknown":
		d.Powered = true
		d.Mode = bh1750.Mode(cmd)
		d.measured = true
	default:
		return ErrNack
	}
	return nil
}

func (d *Light) read(n int, s Scene) ([]byte, error) {
	if n != 2 {
		return nil, ErrNack
	}
	if !d.measured {
		return nil, ErrNack
	}
	mt := d.MTreg
	if mt == 0 {
		mt = bh1750.BH1750_MTREG_DEF
	}
	counts := s.Lux * bh1750.BH1750_LUX_FACTOR * float64(mt) / float64(bh1750.BH1750_MTREG_DEF)
	raw := uint16(math.Round(math.Max(0, math.Min(counts, 0xFFFF))))
	if d.Mode == bh1750.BH1750_OT_HIRES_1 || d.Mode == bh1750.BH1750_OT_HIRES_2 || d.Mode == bh1750.BH1750_OT_LORES {
		d.Powered = false
	}
	return []byte{byte(raw >> 8), byte(raw)}, nil
}

// Color models the TCS34725 register file
type Color struct {
	Address uint16
	ID      byte
	Regs    [0x20]byte
}

func (d *Color) write(w []byte) (int, error) {
	if len(w) == 0 || w[0]&tcs34725.TCS34725_COMMAND_BIT == 0 {
		return 0, ErrNack
	}
	reg := w[0] &^ tcs34725.TCS34725_COMMAND_BIT
	if int(reg) >= len(d.Regs) {
		return 1, ErrNack
	}
	if len(w) > 1 {
		d.Regs[reg] = w[1]
	}
	return len(w), nil
}

func (d *Color) read(w []byte, n int, hold bool, s Scene) ([]byte, error) {
	if len(w) != 1 || !hold || w[0]&tcs34725.TCS34725_COMMAND_BIT == 0 {
		return nil, ErrNack
	}
	reg := int(w[0] &^ tcs34725.TCS34725_COMMAND_BIT)
	if reg+n > len(d.Regs) {
		return nil, ErrNack
	}
	d.refresh(reg, s)
	out := make([]byte, n)
	copy(out, d.Regs[reg:reg+n])
	return out, nil
}

// refresh updates ID and STATUS, and latches a new conversion when the ADC is
// running and a read starts at CDATAL. The other channels keep that conversion,
// so a C, R, G, B sequence always comes from one scene.
func (d *Color) refresh(reg int, s Scene) {
	d.Regs[tcs34725.TCS34725_REGISTER_ID] = d.ID
	enable := d.Regs[tcs34725.TCS34725_REGISTER_ENABLE]
	running := enable&(tcs34725.TCS34725_ENABLE_PON|tcs34725.TCS34725_ENABLE_AEN) == tcs34725.TCS34725_ENABLE_PON|tcs34725.TCS34725_ENABLE_AEN
	if !running {
		d.Regs[tcs34725.TCS34725_REGISTER_STATUS] = 0
		return
	}
	d.Regs[tcs34725.TCS34725_REGISTER_STATUS] = tcs34725.TCS34725_STATUS_AVALID
	if reg != int(tcs34725.TCS34725_REGISTER_CDATAL) {
		return
	}
	gain := tcs34725.Gain(d.Regs[tcs34725.TCS34725_REGISTER_CONTROL] & 0x03).Multiplier()
	// counts scale with integration cycles, referenced to the default ATIME
	atime := tcs34725.IntegrationTimeMs(d.Regs[tcs34725.TCS34725_REGISTER_ATIME]) / tcs34725.IntegrationTimeMs(tcs34725.TCS34725_ATIME_DEFAULT)
	scale := gain * atime
	put := func(reg byte, v uint16) {
		c := uint16(math.Min(float64(v)*scale, 0xFFFF))
		d.Regs[reg] = byte(c)
		d.Regs[reg+1] = byte(c >> 8)
	}
	put(tcs34725.TCS34725_REGISTER_CDATAL, s.Color.C)
	put(tcs34725.TCS34725_REGISTER_RDATAL, s.Color.R)
	put(tcs34725.TCS34725_REGISTER_GDATAL, s.Color.G)
	put(tcs34725.TCS34725_REGISTER_BDATAL, s.Color.B)
}

// Fixed returns the same scene on every conversion
func Fixed(s Scene) func() Scene {
	return func() Scene { return s }
}

// Indoor simulates warm indoor lighting around base lux, +/- variation
func Indoor(base, variation float64) func() Scene {
	return func() Scene {
		lux := math.Max(0, base+(rand.Float64()-0.5)*2*variation)
		clear := math.Min(lux*40, 0xFFFF)
		return Scene{
			Lux: lux,
			Color: tcs34725.RGBC{
				R: uint16(clear * 0.42),
				G: uint16(clear * 0.35),
				B: uint16(clear * 0.23),
				C: uint16(clear),
			},
		}
	}
}

var _ i2cbus.Bus = (*Bus)(nil)
