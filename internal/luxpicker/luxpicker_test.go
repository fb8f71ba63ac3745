package luxpicker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/i2cbus"
	"github.com/ztkent/lux-picker/internal/fusion"
	"github.com/ztkent/lux-picker/internal/sim"
	"github.com/ztkent/lux-picker/internal/tools"
	"github.com/ztkent/lux-picker/tcs34725"
)

// lux and clear both sit at their reference, so the instant brightness is 1
var referenceScene = sim.Scene{
	Lux:   300,
	Color: tcs34725.RGBC{R: 6000, G: 4000, B: 2000, C: 12000},
}

func noSleep(time.Duration) {}

func newTestPicker(t *testing.T, scene sim.Scene) (*Picker, *sim.Bus) {
	t.Helper()
	bus := sim.NewBus()
	bus.Scene = sim.Fixed(scene)

	light := bh1750.NewBH1750(bus, 0)
	light.Sleep = noSleep
	color := tcs34725.NewTCS34725(bus, 0)
	color.Sleep = noSleep

	engine, err := fusion.NewEngine(fusion.DefaultConfig())
	require.NoError(t, err)

	return &Picker{
		Light:  light,
		Color:  color,
		Engine: engine,
		Setup: Setup{
			MTreg:      bh1750.BH1750_MTREG_DEF,
			ColorGain:  tcs34725.TCS34725_GAIN_1X,
			ColorATime: tcs34725.TCS34725_ATIME_DEFAULT,
		},
		Interval: time.Millisecond,
		AlertLux: 100,
	}, bus
}

func newTestDB(t *testing.T) *Picker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "luxpicker.db")
	db, err := tools.ConnectSqlite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p, _ := newTestPicker(t, referenceScene)
	p.ResultsDB = db
	p.DBPath = dbPath
	return p
}

type recordingSink struct {
	cycles []Cycle
	err    error
}

func (s *recordingSink) Update(c Cycle) error {
	s.cycles = append(s.cycles, c)
	return s.err
}

func TestBeginConfiguresSensors(t *testing.T) {
	p, bus := newTestPicker(t, referenceScene)
	p.Setup.MTreg = 138
	p.Setup.ColorGain = tcs34725.TCS34725_GAIN_4X

	require.NoError(t, p.Begin())
	assert.True(t, bus.Light.Powered)
	assert.Equal(t, uint8(138), bus.Light.MTreg)
	assert.Equal(t, byte(tcs34725.TCS34725_GAIN_4X), bus.Color.Regs[tcs34725.TCS34725_REGISTER_CONTROL])

	status := p.Snapshot()
	assert.Empty(t, status.BeginErr)
	assert.Equal(t, uint8(138), status.Devices.MTreg)
	assert.Equal(t, "0x44", status.Devices.ColorID)
	assert.Equal(t, "4x gain", status.Devices.ColorGain)
}

func TestBeginWaitsAtConfiguredMTreg(t *testing.T) {
	p, bus := newTestPicker(t, referenceScene)
	p.Setup.MTreg = 254
	var slept []time.Duration
	p.Light.Sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, p.Begin())
	assert.Equal(t, uint8(254), bus.Light.MTreg)
	assert.Equal(t, []time.Duration{p.Light.IntegrationTime()}, slept)
	assert.Equal(t, 442*time.Millisecond, p.Light.IntegrationTime())

	c := p.RunCycle("job")
	require.False(t, c.Stale)
	assert.InDelta(t, 300, c.Lux, 0.5)
}

func TestBeginFailureIsReported(t *testing.T) {
	p, bus := newTestPicker(t, referenceScene)
	bus.FailNext(tcs34725.TCS34725_ADDR, 1)

	err := p.Begin()
	require.Error(t, err)
	var stepErr *i2cbus.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "tcs34725", stepErr.Device)
	assert.NotEmpty(t, p.Snapshot().BeginErr)

	// the light sensor still started
	assert.True(t, bus.Light.Powered)
}

func TestRunCycle(t *testing.T) {
	p, _ := newTestPicker(t, referenceScene)
	sink := &recordingSink{}
	p.Sinks = []Sink{sink}
	require.NoError(t, p.Begin())

	c := p.RunCycle("job")
	require.False(t, c.Stale)
	assert.NoError(t, c.Err)
	assert.Equal(t, "job", c.JobID)
	assert.Equal(t, referenceScene.Color, c.Raw)
	assert.InDelta(t, 300, c.Lux, 0.01)

	// 0.3 + 0.2 * (1 - 0.3)
	assert.InDelta(t, 1.0, c.Output.Instant, 1e-6)
	assert.InDelta(t, 0.44, c.Output.Brightness, 1e-6)
	assert.InDelta(t, 0.44, c.Output.Color.R, 1e-6)
	assert.Less(t, c.Output.Color.B, c.Output.Color.G)
	assert.Less(t, c.Output.Color.G, c.Output.Color.R)

	require.Len(t, sink.cycles, 1)
	assert.Equal(t, c, sink.cycles[0])

	status := p.Snapshot()
	assert.Equal(t, 1, status.Cycles)
	assert.Equal(t, 0, status.Failures)
	assert.True(t, status.HasLast)
}

func TestRunCycleStaleOnReadFailure(t *testing.T) {
	tests := []struct {
		name string
		addr uint16
	}{
		{"color", tcs34725.TCS34725_ADDR},
		{"light", bh1750.BH1750_ADDR_L},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, bus := newTestPicker(t, referenceScene)
			sink := &recordingSink{}
			p.Sinks = []Sink{sink}
			require.NoError(t, p.Begin())

			good := p.RunCycle("job")
			bus.FailNext(tt.addr, 1)
			stale := p.RunCycle("job")

			assert.True(t, stale.Stale)
			assert.ErrorIs(t, stale.Err, i2cbus.ErrTransfer)
			assert.Equal(t, good.Output, stale.Output)
			assert.Equal(t, good.Raw, stale.Raw)
			assert.Equal(t, good.Output.Brightness, p.Engine.Brightness(), "engine must not step")

			// sinks still see the stale cycle
			require.Len(t, sink.cycles, 2)
			assert.True(t, sink.cycles[1].Stale)

			status := p.Snapshot()
			assert.Equal(t, 2, status.Cycles)
			assert.Equal(t, 1, status.Failures)

			next := p.RunCycle("job")
			assert.False(t, next.Stale)
			assert.Greater(t, next.Output.Brightness, good.Output.Brightness)
		})
	}
}

func TestRunCycleFailureBeforeAnyReading(t *testing.T) {
	p, _ := newTestPicker(t, referenceScene)

	// no mode has been set, so the light sensor has nothing to read
	c := p.RunCycle("job")
	assert.True(t, c.Stale)
	assert.Equal(t, tcs34725.RGBC{}, c.Raw)
	assert.Equal(t, fusion.DEFAULT_SEED, c.Output.Brightness)
	assert.Equal(t, fusion.DEFAULT_SEED, p.Engine.Brightness())
}

func TestSinkErrorDoesNotStopOtherSinks(t *testing.T) {
	p, _ := newTestPicker(t, referenceScene)
	failing := &recordingSink{err: errors.New("boom")}
	after := &recordingSink{}
	p.Sinks = []Sink{failing, after}
	require.NoError(t, p.Begin())

	p.RunCycle("job")
	assert.Len(t, failing.cycles, 1)
	assert.Len(t, after.cycles, 1)
}

func TestStartStopJob(t *testing.T) {
	p, bus := newTestPicker(t, referenceScene)

	jobID, err := p.StartJob()
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	_, err = p.StartJob()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.Eventually(t, func() bool { return p.Snapshot().Cycles >= 3 }, 2*time.Second, time.Millisecond)
	status := p.Snapshot()
	assert.True(t, status.Running)
	assert.Equal(t, jobID, status.JobID)
	assert.Equal(t, jobID, status.Last.JobID)

	require.NoError(t, p.StopJob())
	assert.False(t, p.Snapshot().Running)
	assert.False(t, bus.Light.Powered, "light sensor powered down on stop")
	assert.Equal(t, byte(tcs34725.TCS34725_ENABLE_POWEROFF), bus.Color.Regs[tcs34725.TCS34725_REGISTER_ENABLE])

	assert.ErrorIs(t, p.StopJob(), ErrNotRunning)

	// a new job picks up where the engine left off
	cycles := p.Snapshot().Cycles
	secondID, err := p.StartJob()
	require.NoError(t, err)
	assert.NotEqual(t, jobID, secondID)
	require.Eventually(t, func() bool { return p.Snapshot().Cycles > cycles }, 2*time.Second, time.Millisecond)
	require.NoError(t, p.StopJob())
	assert.Greater(t, p.Engine.Brightness(), 0.44)
}

func TestMonitorAndRecordResults(t *testing.T) {
	p := newTestDB(t)
	p.ResultsChan = make(chan Cycle)
	require.NoError(t, p.Begin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.MonitorAndRecordResults(ctx)

	good := p.RunCycle("job-1")
	p.ResultsChan <- Cycle{JobID: "job-1", Stale: true, Time: time.Now()}
	p.ResultsChan <- good

	require.Eventually(t, func() bool {
		var n int
		require.NoError(t, p.ResultsDB.QueryRow("SELECT COUNT(*) FROM cycles").Scan(&n))
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	var jobID string
	var red, clearCount int
	var lux, brightness float64
	var outRed int
	err := p.ResultsDB.QueryRow("SELECT job_id, red, clear, lux, out_red, brightness FROM cycles").
		Scan(&jobID, &red, &clearCount, &lux, &outRed, &brightness)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, 6000, red)
	assert.Equal(t, 12000, clearCount)
	assert.InDelta(t, 300, lux, 0.01)
	assert.Equal(t, 112, outRed) // round(0.44 * 255)
	assert.InDelta(t, 0.44, brightness, 1e-6)
}

func TestCurrentConditionsFromDB(t *testing.T) {
	p := newTestDB(t)
	require.NoError(t, p.Begin())
	c := p.RunCycle("job-1")
	require.NoError(t, p.recordCycle(context.Background(), c))

	// a fresh process has no cycles in memory
	fresh, _ := newTestPicker(t, referenceScene)
	fresh.ResultsDB = p.ResultsDB
	conditions, err := fresh.getCurrentConditions()
	require.NoError(t, err)
	assert.Equal(t, "job-1", conditions.JobID)
	assert.Equal(t, uint16(12000), conditions.Clear)
	assert.InDelta(t, 300, conditions.Lux, 0.01)
	assert.Equal(t, Hex(c.Output), conditions.Hex)
	assert.False(t, conditions.LowLight)
}

func TestCurrentConditionsEmpty(t *testing.T) {
	p := newTestDB(t)
	conditions, err := p.getCurrentConditions()
	require.NoError(t, err)
	assert.Equal(t, Conditions{}, conditions)
}

func TestHex(t *testing.T) {
	assert.Equal(t, "#000000", Hex(fusion.Output{}))
	assert.Equal(t, "#ff8000", Hex(fusion.Output{Color: fusion.RGB{R: 1, G: 0.502, B: 0}}))
}
