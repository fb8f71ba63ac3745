package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/i2cbus"
	"github.com/ztkent/lux-picker/tcs34725"
)

func newDevices(scene Scene) (*Bus, *bh1750.BH1750, *tcs34725.TCS34725) {
	bus := NewBus()
	bus.Scene = Fixed(scene)
	light := bh1750.NewBH1750(bus, 0)
	color := tcs34725.NewTCS34725(bus, 0)
	light.Sleep = func(time.Duration) {}
	color.Sleep = func(time.Duration) {}
	return bus, light, color
}

func TestLightRoundTrip(t *testing.T) {
	bus, light, _ := newDevices(Scene{Lux: 1000})

	_, err := light.ReadRaw()
	assert.ErrorIs(t, err, i2cbus.ErrTransfer, "no conversion before a mode is set")

	require.NoError(t, light.BeginDefault())
	assert.True(t, bus.Light.Powered)
	assert.Equal(t, bh1750.BH1750_MTREG_DEF, bus.Light.MTreg)
	assert.Equal(t, bh1750.BH1750_CONT_HIRES_1, bus.Light.Mode)

	lux, err := light.ReadLux()
	require.NoError(t, err)
	assert.InDelta(t, 1000, lux, 1)

	// a higher MTreg raises the counts but not the converted lux
	require.NoError(t, light.SetMTreg(138))
	assert.Equal(t, uint8(138), bus.Light.MTreg)
	raw, err := light.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, uint16(2400), raw)
	lux, err = light.ReadLux()
	require.NoError(t, err)
	assert.InDelta(t, 1000, lux, 1)
}

func TestLightResetRequiresPower(t *testing.T) {
	_, light, _ := newDevices(Scene{})
	assert.Error(t, light.Reset())
	require.NoError(t, light.PowerOn())
	assert.NoError(t, light.Reset())
}

func TestColorRoundTrip(t *testing.T) {
	scene := Scene{Color: tcs34725.RGBC{R: 100, G: 200, B: 50, C: 400}}
	bus, _, color := newDevices(scene)

	ready, err := color.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, color.BeginDefault())
	assert.Equal(t, tcs34725.TCS34725_ATIME_DEFAULT, bus.Color.Regs[tcs34725.TCS34725_REGISTER_ATIME])

	ready, err = color.DataReady()
	require.NoError(t, err)
	assert.True(t, ready)

	id, err := color.ReadID()
	require.NoError(t, err)
	assert.Equal(t, tcs34725.TCS34725_ID_TCS34725, id)

	c, err := color.ReadColor()
	require.NoError(t, err)
	assert.Equal(t, scene.Color, c)

	require.NoError(t, color.SetGain(tcs34725.TCS34725_GAIN_4X))
	c, err = color.ReadColor()
	require.NoError(t, err)
	assert.Equal(t, tcs34725.RGBC{R: 400, G: 800, B: 200, C: 1600}, c)

	require.NoError(t, color.Enable(false))
	ready, err = color.DataReady()
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestColorSampleComesFromOneScene(t *testing.T) {
	bus := NewBus()
	color := tcs34725.NewTCS34725(bus, 0)
	color.Sleep = func(time.Duration) {}
	require.NoError(t, color.BeginDefault())

	for i := 0; i < 50; i++ {
		c, err := color.ReadColor()
		require.NoError(t, err)
		assert.InDelta(t, 0.42*float64(c.C), float64(c.R), 1.5, "sample %d: %+v", i, c)
		assert.InDelta(t, 0.35*float64(c.C), float64(c.G), 1.5, "sample %d: %+v", i, c)
		assert.InDelta(t, 0.23*float64(c.C), float64(c.B), 1.5, "sample %d: %+v", i, c)
	}
}

func TestColorLatchesOnClearRead(t *testing.T) {
	n := 0
	bus, _, color := newDevices(Scene{})
	bus.Scene = func() Scene {
		n++
		v := uint16(n * 10)
		return Scene{Color: tcs34725.RGBC{R: v, G: v, B: v, C: v}}
	}
	require.NoError(t, color.BeginDefault())

	red, err := color.ReadRegister16(tcs34725.TCS34725_REGISTER_RDATAL)
	require.NoError(t, err)
	assert.Zero(t, red, "nothing latched before the first clear read")

	c, err := color.ReadColor()
	require.NoError(t, err)
	assert.Equal(t, c.C, c.R)
	assert.Equal(t, c.C, c.B)

	red, err = color.ReadRegister16(tcs34725.TCS34725_REGISTER_RDATAL)
	require.NoError(t, err)
	assert.Equal(t, c.R, red)
}

func TestFailNext(t *testing.T) {
	bus, light, color := newDevices(Scene{Lux: 10})
	require.NoError(t, light.BeginDefault())
	require.NoError(t, color.BeginDefault())

	bus.FailNext(tcs34725.TCS34725_ADDR, 1)
	_, err := color.ReadColor()
	assert.ErrorIs(t, err, i2cbus.ErrTransfer)
	assert.ErrorIs(t, err, ErrNack)

	_, err = color.ReadColor()
	assert.NoError(t, err)
	_, err = light.ReadLux()
	assert.NoError(t, err)
}

func TestUnknownAddress(t *testing.T) {
	bus := NewBus()
	_, err := bus.Write(0x3C, []byte{0x00})
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestIndoorScene(t *testing.T) {
	scene := Indoor(500, 100)
	for i := 0; i < 100; i++ {
		s := scene()
		assert.GreaterOrEqual(t, s.Lux, 400.0)
		assert.LessOrEqual(t, s.Lux, 600.0)
		assert.Greater(t, s.Color.C, s.Color.R)
	}
}
