package luxpicker

import (
	"context"
	"database/sql"
	"fmt"
	"image/color"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives every cycle, in order, from the control loop goroutine
type Sink interface {
	Update(c Cycle) error
}

// LogSink writes the per-cycle serial line
type LogSink struct {
	Logger *logrus.Logger
}

func (s LogSink) Update(c Cycle) error {
	logger := s.Logger
	if logger == nil {
		logger = l
	}
	entry := logger.WithFields(logrus.Fields{
		"brightness": fmt.Sprintf("%.3f", c.Output.Brightness),
		"color":      Hex(c.Output),
	})
	if c.Stale {
		entry = entry.WithField("stale", true)
	}
	entry.Infof("R=%d, G=%d, B=%d, C=%d, Lux=%.1f", c.Raw.R, c.Raw.G, c.Raw.B, c.Raw.C, c.Lux)
	return nil
}

const DISPLAY_TITLE = "GY-33 & BH1750"

// DisplayPage is the text shown on the 128x64 panel
type DisplayPage struct {
	Title string
	Lines []string
	Hex   string
	Stale bool
}

// DisplaySink keeps the latest rendered page for the dashboard
type DisplaySink struct {
	mu   sync.Mutex
	page DisplayPage
}

func NewDisplaySink() *DisplaySink {
	return &DisplaySink{page: DisplayPage{Title: DISPLAY_TITLE}}
}

func (s *DisplaySink) Update(c Cycle) error {
	page := RenderPage(c)
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
	return nil
}

func (s *DisplaySink) Page() DisplayPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := s.page
	page.Lines = append([]string(nil), s.page.Lines...)
	return page
}

func RenderPage(c Cycle) DisplayPage {
	return DisplayPage{
		Title: DISPLAY_TITLE,
		Lines: []string{
			fmt.Sprintf("%d R", c.Raw.R),
			fmt.Sprintf("%d G", c.Raw.G),
			fmt.Sprintf("%d B", c.Raw.B),
			fmt.Sprintf("%d C", c.Raw.C),
			fmt.Sprintf("%.1f Lux", c.Lux),
		},
		Hex:   Hex(c.Output),
		Stale: c.Stale,
	}
}

// PixelWriter pushes a full frame to an LED strip or panel
type PixelWriter interface {
	WritePixels(frame []color.RGBA) error
}

// MatrixSink paints every pixel with the fused color
type MatrixSink struct {
	Pixels int
	Writer PixelWriter
}

func (s *MatrixSink) Update(c Cycle) error {
	if s.Writer == nil || s.Pixels <= 0 {
		return nil
	}
	if err := s.Writer.WritePixels(Frame(c, s.Pixels)); err != nil {
		return fmt.Errorf("failed to write pixels: %w", err)
	}
	return nil
}

// Frame fills n pixels with the fused color scaled to 0-255
func Frame(c Cycle, n int) []color.RGBA {
	r, g, b := c.Output.RGB8()
	frame := make([]color.RGBA, n)
	for i := range frame {
		frame[i] = color.RGBA{R: r, G: g, B: b, A: 0xFF}
	}
	return frame
}

// GRB packs a pixel in WS2812 wire order
func GRB(c color.RGBA) uint32 {
	return uint32(c.G)<<16 | uint32(c.R)<<8 | uint32(c.B)
}

// RGB565 packs a pixel for 16-bit panels
func RGB565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}

// LogPixelWriter logs the first pixel of each frame at debug level
type LogPixelWriter struct{}

func (LogPixelWriter) WritePixels(frame []color.RGBA) error {
	if len(frame) == 0 {
		return nil
	}
	l.Debugf("Matrix frame: %d pixels, GRB 0x%06X", len(frame), GRB(frame[0]))
	return nil
}

// Alerter is notified when the light level crosses the alert threshold
type Alerter interface {
	Alert(c Cycle, threshold float64, active bool) error
}

// AlertSink is edge triggered: it notifies once when lux drops below the
// threshold and once when it recovers. Stale cycles are ignored.
type AlertSink struct {
	Threshold float64
	Alerters  []Alerter

	active bool
}

func (s *AlertSink) Active() bool { return s.active }

func (s *AlertSink) Update(c Cycle) error {
	if c.Stale {
		return nil
	}
	low := c.Lux < s.Threshold
	if low == s.active {
		return nil
	}
	s.active = low

	var firstErr error
	for _, a := range s.Alerters {
		if err := a.Alert(c, s.Threshold, low); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type LogAlerter struct{}

func (LogAlerter) Alert(c Cycle, threshold float64, active bool) error {
	if active {
		l.Warnf("Low light: %.1f lux is below %.0f lux", c.Lux, threshold)
	} else {
		l.Infof("Light recovered: %.1f lux", c.Lux)
	}
	return nil
}

// DBAlerter records alert transitions in the alerts table
type DBAlerter struct {
	DB *sql.DB
}

func (a DBAlerter) Alert(c Cycle, threshold float64, active bool) error {
	_, err := a.DB.ExecContext(context.Background(),
		`INSERT INTO alerts (job_id, lux, threshold, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.JobID, c.Lux, threshold, active, c.Time.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	return nil
}

// RecorderSink hands cycles to MonitorAndRecordResults. A full channel drops the cycle.
type RecorderSink struct {
	Results chan<- Cycle
}

func (s RecorderSink) Update(c Cycle) error {
	select {
	case s.Results <- c:
		return nil
	default:
		return fmt.Errorf("results channel full, dropped cycle for job %s", c.JobID)
	}
}
