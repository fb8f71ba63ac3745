package fusion

import (
	"errors"
	"fmt"
)

// Calibration for one physical placement of the two sensors.
const (
	DEFAULT_REF_LUX   = 300.0   // illuminance that maps to full brightness
	DEFAULT_REF_CLEAR = 12000.0 // clear-channel count that maps to full brightness
	DEFAULT_ALPHA     = 0.2     // weight of the newest brightness sample
	DEFAULT_GAMMA     = 2.2
	DEFAULT_SEED      = 0.3 // smoothed brightness at process start
	DEFAULT_FLOOR     = 0.05
	DEFAULT_CEIL      = 1.0
)

var ErrInvalidConfig = errors.New("invalid fusion config")

type Config struct {
	RefLux   float64 `json:"refLux"`
	RefClear float64 `json:"refClear"`
	Alpha    float64 `json:"alpha"`
	Gamma    float64 `json:"gamma"`
	Seed     float64 `json:"seed"`
	Floor    float64 `json:"floor"`
	Ceil     float64 `json:"ceil"`
}

func DefaultConfig() Config {
	return Config{
		RefLux:   DEFAULT_REF_LUX,
		RefClear: DEFAULT_REF_CLEAR,
		Alpha:    DEFAULT_ALPHA,
		Gamma:    DEFAULT_GAMMA,
		Seed:     DEFAULT_SEED,
		Floor:    DEFAULT_FLOOR,
		Ceil:     DEFAULT_CEIL,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.RefLux > 0):
		return fmt.Errorf("%w: reference lux %v must be positive", ErrInvalidConfig, c.RefLux)
	case !(c.RefClear > 0):
		return fmt.Errorf("%w: reference clear %v must be positive", ErrInvalidConfig, c.RefClear)
	case !(c.Alpha > 0 && c.Alpha <= 1):
		return fmt.Errorf("%w: smoothing factor %v must be within (0, 1]", ErrInvalidConfig, c.Alpha)
	case !(c.Gamma > 0):
		return fmt.Errorf("%w: gamma %v must be positive", ErrInvalidConfig, c.Gamma)
	case !(c.Floor > 0 && c.Floor <= c.Ceil):
		return fmt.Errorf("%w: brightness bounds [%v, %v]", ErrInvalidConfig, c.Floor, c.Ceil)
	case !(c.Seed >= c.Floor && c.Seed <= c.Ceil):
		return fmt.Errorf("%w: seed %v outside [%v, %v]", ErrInvalidConfig, c.Seed, c.Floor, c.Ceil)
	}
	return nil
}
