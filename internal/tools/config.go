package tools

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/internal/fusion"
	"github.com/ztkent/lux-picker/tcs34725"
)

const (
	SENSOR_DEVFS = "devfs"
	SENSOR_SIM   = "sim"
)

// Config is read from the environment once at startup
type Config struct {
	SensorType    string
	I2CBus        string
	LightAddr     uint16
	ColorAddr     uint16
	MTreg         uint8
	ColorGain     tcs34725.Gain
	ColorATime    byte
	CycleInterval time.Duration
	AlertLux      float64
	MatrixPixels  int
	Fusion        fusion.Config
	DBPath        string
	LogFile       string
	SSL           bool
	Port          string
	AutoStart     bool
}

func DefaultConfig() Config {
	return Config{
		SensorType:    SENSOR_DEVFS,
		I2CBus:        "/dev/i2c-1",
		LightAddr:     bh1750.BH1750_ADDR_L,
		ColorAddr:     tcs34725.TCS34725_ADDR,
		MTreg:         bh1750.BH1750_MTREG_DEF,
		ColorGain:     tcs34725.TCS34725_GAIN_1X,
		ColorATime:    tcs34725.TCS34725_ATIME_DEFAULT,
		CycleInterval: 500 * time.Millisecond,
		AlertLux:      100,
		MatrixPixels:  25,
		Fusion:        fusion.DefaultConfig(),
		DBPath:        "luxpicker.db",
		LogFile:       "luxpicker.log",
		AutoStart:     true,
	}
}

// LoadConfig overlays environment variables on the defaults.
// Every malformed variable is reported, not just the first.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	p := envParser{getenv: getenv}

	p.str("SENSOR_TYPE", &cfg.SensorType)
	p.str("I2C_BUS", &cfg.I2CBus)
	p.addr("BH1750_ADDR", &cfg.LightAddr)
	p.addr("TCS34725_ADDR", &cfg.ColorAddr)
	p.octet("MTREG", &cfg.MTreg)
	p.octet("COLOR_ATIME", &cfg.ColorATime)
	if v := getenv("COLOR_GAIN"); v != "" {
		g, err := tcs34725.ParseGain(v)
		p.check("COLOR_GAIN", err)
		if err == nil {
			cfg.ColorGain = g
		}
	}
	p.duration("CYCLE_INTERVAL", &cfg.CycleInterval)
	p.number("ALERT_LUX", &cfg.AlertLux)
	p.integer("MATRIX_PIXELS", &cfg.MatrixPixels)
	p.number("REF_LUX", &cfg.Fusion.RefLux)
	p.number("REF_CLEAR", &cfg.Fusion.RefClear)
	p.number("SMOOTHING", &cfg.Fusion.Alpha)
	p.number("GAMMA", &cfg.Fusion.Gamma)
	p.number("SEED", &cfg.Fusion.Seed)
	p.str("DB_PATH", &cfg.DBPath)
	p.str("LOG_FILE", &cfg.LogFile)
	p.str("PORT", &cfg.Port)
	p.flag("SSL", &cfg.SSL)
	p.flag("AUTOSTART", &cfg.AutoStart)

	cfg.SensorType = strings.ToLower(cfg.SensorType)
	if cfg.SensorType != SENSOR_DEVFS && cfg.SensorType != SENSOR_SIM {
		p.check("SENSOR_TYPE", fmt.Errorf("must be %q or %q", SENSOR_DEVFS, SENSOR_SIM))
	}
	if !bh1750.ValidMTreg(cfg.MTreg) {
		p.check("MTREG", bh1750.ErrInvalidMTreg)
	}
	if cfg.CycleInterval <= 0 {
		p.check("CYCLE_INTERVAL", errors.New("must be positive"))
	}
	if cfg.MatrixPixels < 0 {
		p.check("MATRIX_PIXELS", errors.New("must not be negative"))
	}
	p.check("fusion", cfg.Fusion.Validate())

	if cfg.Port == "" {
		cfg.Port = "80"
		if cfg.SSL {
			cfg.Port = "443"
		}
	}
	return cfg, errors.Join(p.errs...)
}

type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) check(key string, err error) {
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
	}
}

func (p *envParser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *envParser) unsigned(key string, bits int) (uint64, bool) {
	v := p.getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 0, bits)
	p.check(key, err)
	return n, err == nil
}

func (p *envParser) addr(key string, dst *uint16) {
	if n, ok := p.unsigned(key, 7); ok {
		*dst = uint16(n)
	}
}

func (p *envParser) octet(key string, dst *uint8) {
	if n, ok := p.unsigned(key, 8); ok {
		*dst = uint8(n)
	}
}

func (p *envParser) integer(key string, dst *int) {
	if v := p.getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		p.check(key, err)
		if err == nil {
			*dst = n
		}
	}
}

func (p *envParser) number(key string, dst *float64) {
	if v := p.getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		p.check(key, err)
		if err == nil {
			*dst = f
		}
	}
}

func (p *envParser) flag(key string, dst *bool) {
	if v := p.getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		p.check(key, err)
		if err == nil {
			*dst = b
		}
	}
}

func (p *envParser) duration(key string, dst *time.Duration) {
	if v := p.getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		p.check(key, err)
		if err == nil {
			*dst = d
		}
	}
}
