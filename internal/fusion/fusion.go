// Package fusion turns a raw RGBC sample and an illuminance reading into a
// display ready color and a smoothed brightness.
package fusion

import (
	"math"

	"github.com/ztkent/lux-picker/tcs34725"
	"golang.org/x/exp/constraints"
)

// RGB channels, each in [0, 1] once gamma corrected
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

func (c RGB) max() float64 {
	return math.Max(c.R, math.Max(c.G, c.B))
}

func (c RGB) scale(k float64) RGB {
	return RGB{R: c.R * k, G: c.G * k, B: c.B * k}
}

// Output of one fusion step
type Output struct {
	// Color is the gamma corrected hue multiplied by Brightness
	Color RGB `json:"color"`
	// Brightness is the smoothed accumulator after this step
	Brightness float64 `json:"brightness"`
	// Instant is the unsmoothed geometric mean of the two sources
	Instant float64 `json:"instant"`
}

// RGB8 scales the color to 0-255 for sinks that take 8-bit channels
func (o Output) RGB8() (uint8, uint8, uint8) {
	return to8(o.Color.R), to8(o.Color.G), to8(o.Color.B)
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp(finite(v, 0), 0, 1) * 255))
}

// Normalize divides each color channel by clear. A zero clear counts as 1.
func Normalize(s tcs34725.RGBC) RGB {
	c := float64(s.C)
	if s.C == 0 {
		c = 1
	}
	return RGB{R: float64(s.R) / c, G: float64(s.G) / c, B: float64(s.B) / c}
}

// Rescale divides by the largest channel so it lands on 1.0, keeping the hue.
// An all-zero color is returned unchanged.
func Rescale(c RGB) RGB {
	m := c.max()
	if m == 0 {
		return c
	}
	return c.scale(1 / m)
}

// GammaCorrect clamps each channel to [0, 1] and raises it to 1/gamma
func GammaCorrect(c RGB, gamma float64) RGB {
	inv := 1 / gamma
	f := func(v float64) float64 {
		return math.Pow(clamp(finite(v, 0), 0, 1), inv)
	}
	return RGB{R: f(c.R), G: f(c.G), B: f(c.B)}
}

// Ratio is v / ref clamped to [floor, ceil]
func Ratio(v, ref, floor, ceil float64) float64 {
	return clamp(finite(v/ref, floor), floor, ceil)
}

// Brightness combines the ambient and sensor-native ratios with a geometric
// mean, which leans toward the darker source when they disagree.
func (c Config) Brightness(lux float64, clear uint16) float64 {
	ambient := Ratio(lux, c.RefLux, c.Floor, c.Ceil)
	native := Ratio(float64(clear), c.RefClear, c.Floor, c.Ceil)
	return math.Sqrt(ambient * native)
}

// Smooth is one exponential moving average step
func Smooth(prev, instant, alpha float64) float64 {
	return prev*(1-alpha) + instant*alpha
}

// Engine holds the smoothed brightness between cycles.
// It is owned by a single control loop and is not safe for concurrent use.
type Engine struct {
	cfg        Config
	brightness float64
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, brightness: cfg.Seed}, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Brightness() float64 { return e.brightness }

// Step fuses one cycle's readings and advances the accumulator once.
func (e *Engine) Step(sample tcs34725.RGBC, lux float64) Output {
	color := GammaCorrect(Rescale(Normalize(sample)), e.cfg.Gamma)
	instant := e.cfg.Brightness(lux, sample.C)

	prev := clamp(finite(e.brightness, e.cfg.Floor), e.cfg.Floor, e.cfg.Ceil)
	e.brightness = Smooth(prev, instant, e.cfg.Alpha)

	return Output{
		Color:      color.scale(e.brightness),
		Brightness: e.brightness,
		Instant:    instant,
	}
}

func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// finite replaces NaN with fallback; infinities are left for clamp
func finite(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return v
}
