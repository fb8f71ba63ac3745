package luxpicker

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/internal/fusion"
	"github.com/ztkent/lux-picker/internal/tools"
	"github.com/ztkent/lux-picker/tcs34725"
)

//go:embed html/*
var templateFiles embed.FS

var l = tools.Logger

var (
	ErrAlreadyRunning = errors.New("the sensors are already running")
	ErrNotRunning     = errors.New("the sensors are already stopped")
)

// Setup is programmed into the sensors each time a job starts
type Setup struct {
	MTreg      uint8
	ColorGain  tcs34725.Gain
	ColorATime byte
}

// Picker owns both sensors and the fusion engine. While a job runs, only the
// job's goroutine touches the bus; handlers read snapshots under mu.
type Picker struct {
	Light       *bh1750.BH1750
	Color       *tcs34725.TCS34725
	Engine      *fusion.Engine
	Setup       Setup
	Sinks       []Sink
	Display     *DisplaySink
	ResultsChan chan Cycle
	ResultsDB   *sql.DB
	DBPath      string
	Interval    time.Duration
	AlertLux    float64
	Pid         int

	mu       sync.Mutex
	running  bool
	jobID    string
	cancel   context.CancelFunc
	done     chan struct{}
	last     Cycle
	lastGood *Cycle
	cycles   int
	failures int
	beginErr error
	devices  DeviceInfo
}

// Cycle is one pass of the control loop
type Cycle struct {
	JobID  string        `json:"jobID"`
	Time   time.Time     `json:"time"`
	Raw    tcs34725.RGBC `json:"raw"`
	Lux    float64       `json:"lux"`
	Output fusion.Output `json:"output"`
	// Stale is set when a read failed and Output repeats the previous cycle
	Stale bool  `json:"stale"`
	Err   error `json:"-"`
}

// DeviceInfo is captured by the job goroutine after the sensors are configured
type DeviceInfo struct {
	LightMode       string `json:"lightMode"`
	MTreg           uint8  `json:"mtreg"`
	IntegrationTime string `json:"integrationTime"`
	ColorGain       string `json:"colorGain"`
	ColorATime      string `json:"colorATime"`
	ColorID         string `json:"colorID"`
}

// Conditions is served by the current-conditions endpoint
type Conditions struct {
	JobID      string  `json:"jobID"`
	Red        uint16  `json:"red"`
	Green      uint16  `json:"green"`
	Blue       uint16  `json:"blue"`
	Clear      uint16  `json:"clear"`
	Lux        float64 `json:"lux"`
	Hex        string  `json:"hex"`
	OutRed     uint8   `json:"outRed"`
	OutGreen   uint8   `json:"outGreen"`
	OutBlue    uint8   `json:"outBlue"`
	Brightness float64 `json:"brightness"`
	Instant    float64 `json:"instant"`
	Stale      bool    `json:"stale"`
	LowLight   bool    `json:"lowLight"`
	Cycles     int     `json:"cycles"`
	Failures   int     `json:"failures"`

	DateRange                string  `json:"dateRange"`
	RecordedHoursInRange     float64 `json:"recordedHoursInRange"`
	CyclesInRange            int     `json:"cyclesInRange"`
	AverageLuxInRange        float64 `json:"averageLuxInRange"`
	AverageBrightnessInRange float64 `json:"averageBrightnessInRange"`
	LowLightInRange          float64 `json:"lowLightInRange"`
	LightConditionInRange    string  `json:"lightConditionInRange"`
}

// Hex formats the fused output as #rrggbb
func Hex(o fusion.Output) string {
	r, g, b := o.RGB8()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// Configure both sensors. A failure is reported but does not stop the job:
// reads from a sensor that failed to start simply fail every cycle.
func (m *Picker) Begin() error {
	var errs []error
	if err := m.Color.Begin(m.Setup.ColorATime, m.Setup.ColorGain); err != nil {
		l.Errorf("Failed to start TCS34725: %v", err)
		errs = append(errs, err)
	}
	mtreg := m.Setup.MTreg
	if mtreg == 0 {
		mtreg = bh1750.BH1750_MTREG_DEF
	}
	if err := m.Light.Begin(mtreg); err != nil {
		l.Errorf("Failed to start BH1750: %v", err)
		errs = append(errs, err)
	}

	info := DeviceInfo{
		LightMode:       m.Light.Mode().String(),
		MTreg:           m.Light.MTreg(),
		IntegrationTime: m.Light.IntegrationTime().String(),
		ColorGain:       m.Setup.ColorGain.String(),
		ColorATime:      tcs34725.IntegrationTimeToString(m.Setup.ColorATime),
	}
	if id, err := m.Color.ReadID(); err == nil {
		info.ColorID = fmt.Sprintf("0x%02X", id)
		if id != tcs34725.TCS34725_ID_TCS34725 && id != tcs34725.TCS34725_ID_TCS34727 {
			l.Warnf("Unexpected TCS34725 ID 0x%02X", id)
		}
	}

	err := errors.Join(errs...)
	m.mu.Lock()
	m.devices = info
	m.beginErr = err
	m.mu.Unlock()
	return err
}

// RunCycle reads color then illuminance, fuses them and updates every sink.
// If either read fails the engine is not stepped and the previous output is
// repeated with Stale set.
func (m *Picker) RunCycle(jobID string) Cycle {
	cycle := Cycle{JobID: jobID, Time: time.Now().UTC()}

	rgbc, colorErr := m.Color.ReadColor()
	lux, luxErr := m.Light.ReadLux()

	m.mu.Lock()
	prev := m.lastGood
	m.mu.Unlock()

	if err := errors.Join(colorErr, luxErr); err != nil {
		cycle.Stale = true
		cycle.Err = err
		if prev != nil {
			cycle.Raw, cycle.Lux, cycle.Output = prev.Raw, prev.Lux, prev.Output
		} else {
			cycle.Output = fusion.Output{Brightness: m.Engine.Brightness()}
		}
		l.Warnf("Cycle failed, repeating the previous output: %v", err)
	} else {
		cycle.Raw, cycle.Lux = rgbc, lux
		cycle.Output = m.Engine.Step(rgbc, lux)
	}

	for _, sink := range m.Sinks {
		if err := sink.Update(cycle); err != nil {
			l.Warnf("Sink %T failed: %v", sink, err)
		}
	}

	m.mu.Lock()
	m.cycles++
	if cycle.Stale {
		m.failures++
	} else {
		good := cycle
		m.lastGood = &good
	}
	m.last = cycle
	m.mu.Unlock()
	return cycle
}

// StartJob begins a new job. The job goroutine waits for the previous one to
// exit before it touches the sensors.
func (m *Picker) StartJob() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "", ErrAlreadyRunning
	}

	jobID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	prev, done := m.done, make(chan struct{})
	m.running, m.jobID, m.cancel, m.done = true, jobID, cancel, done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		m.run(ctx, jobID)
	}()
	return jobID, nil
}

// StopJob cancels the running job and waits for it to release the sensors
func (m *Picker) StopJob() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

func (m *Picker) run(ctx context.Context, jobID string) {
	l.WithField("job", jobID).Info("Starting sensors")
	m.Begin()
	defer m.powerDown()

	interval := m.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.RunCycle(jobID)
		select {
		case <-ctx.Done():
			l.WithField("job", jobID).Info("Job Cancelled, stopping sensors")
			return
		case <-ticker.C:
		}
	}
}

func (m *Picker) powerDown() {
	if err := m.Color.Enable(false); err != nil {
		l.Warnf("Failed to disable TCS34725: %v", err)
	}
	if err := m.Light.PowerDown(); err != nil {
		l.Warnf("Failed to power down BH1750: %v", err)
	}
}

// Status is a consistent view of the loop state for handlers
type Status struct {
	Running  bool       `json:"running"`
	JobID    string     `json:"jobID"`
	Cycles   int        `json:"cycles"`
	Failures int        `json:"failures"`
	BeginErr string     `json:"beginError,omitempty"`
	Devices  DeviceInfo `json:"devices"`
	Last     Cycle      `json:"last"`
	HasLast  bool       `json:"hasLast"`
}

func (m *Picker) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Running:  m.running,
		JobID:    m.jobID,
		Cycles:   m.cycles,
		Failures: m.failures,
		Devices:  m.devices,
		Last:     m.last,
		HasLast:  m.cycles > 0,
	}
	if m.beginErr != nil {
		s.BeginErr = m.beginErr.Error()
	}
	return s
}

// Start the sensors, and collect data in a loop
func (m *Picker) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l.Info("Let's pick some colors!")
		jobID, err := m.StartJob()
		if err != nil {
			ServeResponse(w, r, "The sensors are already started", http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, "Color Reading Started: "+jobID, http.StatusOK)
	}
}

// Stop the sensors, and cancel the job context
func (m *Picker) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.StopJob(); err != nil {
			ServeResponse(w, r, "The sensors are already stopped", http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, "Color Reading Stopped", http.StatusOK)
	}
}

// Serve the most recent cycle, from memory or from the db if this process has not run one
func (m *Picker) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil {
			l.Error(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}

		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			l.Error(err)
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

func (m *Picker) getCurrentConditions() (Conditions, error) {
	s := m.Snapshot()
	if s.HasLast {
		return conditionsFromCycle(s.Last, s, m.AlertLux), nil
	}
	if m.ResultsDB == nil {
		return Conditions{}, nil
	}

	c := Conditions{Cycles: s.Cycles, Failures: s.Failures}
	row := m.ResultsDB.QueryRow(`
	SELECT job_id, red, green, blue, clear, lux, out_red, out_green, out_blue, brightness, instant
	FROM cycles ORDER BY id DESC LIMIT 1`)
	err := row.Scan(&c.JobID, &c.Red, &c.Green, &c.Blue, &c.Clear, &c.Lux,
		&c.OutRed, &c.OutGreen, &c.OutBlue, &c.Brightness, &c.Instant)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	} else if err != nil {
		return Conditions{}, err
	}
	c.Hex = fmt.Sprintf("#%02x%02x%02x", c.OutRed, c.OutGreen, c.OutBlue)
	c.LowLight = c.Lux < m.AlertLux
	return c, nil
}

func conditionsFromCycle(c Cycle, s Status, alertLux float64) Conditions {
	r, g, b := c.Output.RGB8()
	return Conditions{
		JobID:      c.JobID,
		Red:        c.Raw.R,
		Green:      c.Raw.G,
		Blue:       c.Raw.B,
		Clear:      c.Raw.C,
		Lux:        c.Lux,
		Hex:        Hex(c.Output),
		OutRed:     r,
		OutGreen:   g,
		OutBlue:    b,
		Brightness: c.Output.Brightness,
		Instant:    c.Output.Instant,
		Stale:      c.Stale,
		LowLight:   c.Lux < alertLux,
		Cycles:     s.Cycles,
		Failures:   s.Failures,
	}
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if strings.Contains(r.URL.Path, "/api/v1/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"message": message})
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		l.Errorf("failed to render response: %v", err)
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}
	tmpl, err := template.New(path).Funcs(template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	}).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// Read from ResultsChan, write the results to sqlite
func (m *Picker) MonitorAndRecordResults(ctx context.Context) {
	l.Info("Monitoring for new color cycles...")
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-m.ResultsChan:
			if result.Stale {
				l.Debugf("- JobID: %s, cycle is stale, skipping record", result.JobID)
				continue
			}
			if math.IsNaN(result.Lux) || math.IsInf(result.Lux, 0) {
				l.Warn("Lux is invalid, skipping record")
				continue
			}
			if err := m.recordCycle(ctx, result); err != nil {
				l.Error(err)
			}
		}
	}
}

func (m *Picker) recordCycle(ctx context.Context, c Cycle) error {
	r, g, b := c.Output.RGB8()
	_, err := m.ResultsDB.ExecContext(ctx,
		`INSERT INTO cycles (job_id, red, green, blue, clear, lux, out_red, out_green, out_blue, brightness, instant, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.JobID, c.Raw.R, c.Raw.G, c.Raw.B, c.Raw.C, c.Lux, r, g, b,
		c.Output.Brightness, c.Output.Instant, c.Time.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}
