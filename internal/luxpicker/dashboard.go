package luxpicker

import (
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/ztkent/lux-picker/internal/tools"
)

// Serve the sqlite db for download
func (m *Picker) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(m.DBPath)))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, m.DBPath)
	}
}

// Serve the homepage
func (m *Picker) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileContent, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(fileContent)
	}
}

// Serve the controls for the sensors, start/stop/export/current-conditions
func (m *Picker) ServeControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Status of the sensors and the control loop
func (m *Picker) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, m.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Serve the rendered display page
func (m *Picker) ServeDisplay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/display.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		page := DisplayPage{Title: DISPLAY_TITLE}
		if m.Display != nil {
			page = m.Display.Page()
		}
		if err := tmpl.Execute(w, page); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Serve the results graphs, lux and fused brightness over time
func (m *Picker) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r, time.Local)

		rows, err := m.ResultsDB.Query(`
		SELECT lux, brightness, instant, out_red, out_green, out_blue, created_at
		FROM cycles WHERE created_at BETWEEN ? AND ? ORDER BY created_at`, startDate, endDate)
		if err != nil {
			l.Error(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		var luxValues, brightnessValues, instantValues []opts.LineData
		var timeValues []string
		maxLux := 100
		lastColor := "WhiteSmoke"
		for rows.Next() {
			var lux, brightness, instant float64
			var red, green, blue uint8
			var createdAt time.Time
			if err := rows.Scan(&lux, &brightness, &instant, &red, &green, &blue, &createdAt); err != nil {
				l.Error(err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if lux > float64(maxLux) {
				// Round up to the nearest 100
				maxLux = int(math.Ceil(lux/100) * 100)
			}
			luxValues = append(luxValues, opts.LineData{Value: lux})
			brightnessValues = append(brightnessValues, opts.LineData{Value: math.Round(brightness*1000) / 1000})
			lastColor = fmt.Sprintf("#%02x%02x%02x", red, green, blue)
			instantValues = append(instantValues, opts.LineData{Value: math.Round(instant*1000) / 1000})
			timeValues = append(timeValues, createdAt.Format("2006-01-02 15:04:05"))
		}
		if err := rows.Err(); err != nil {
			l.Error(err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		luxLine := charts.NewLine()
		for _, level := range referenceLevels(m.AlertLux, m.Engine.Config().RefLux) {
			luxLine.AddSeries(level.title, constantSeries(level.lux, len(timeValues)),
				charts.WithLineChartOpts(opts.LineChart{
					Color: level.color,
				}),
			)
		}
		luxLine.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithTitleOpts(opts.Title{
				Title: "Illuminance",
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Lux",
				Min:  "0",
				Max:  fmt.Sprintf("%d", maxLux),
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
			charts.WithToolboxOpts(opts.Toolbox{
				Show: true,
				Feature: &opts.ToolBoxFeature{
					SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
						Show:  true,
						Title: "Save as Image",
						Name:  "lux-picker-lux",
					},
				},
			}),
		)
		luxLine.SetXAxis(timeValues).AddSeries("Lux", luxValues)

		brightnessLine := charts.NewLine()
		brightnessLine.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithTitleOpts(opts.Title{
				Title: "Brightness",
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Brightness",
				Min:  "0",
				Max:  "1",
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
		)
		brightnessLine.SetXAxis(timeValues).
			AddSeries("Smoothed", brightnessValues, charts.WithLineChartOpts(opts.LineChart{
				Color: lastColor,
			})).
			AddSeries("Instant", instantValues, charts.WithLineChartOpts(opts.LineChart{
				Color: "DarkGrey",
			}))

		page := components.NewPage()
		page.AddCharts(luxLine, brightnessLine)

		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/luxpicker/results' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "Lux Picker";</script>`))
	}
}

type referenceLevel struct {
	title string
	lux   float64
	color string
}

// Horizontal guide lines drawn behind the lux series, in legend order
func referenceLevels(alertLux, refLux float64) []referenceLevel {
	return []referenceLevel{
		{"Low Light", alertLux, "IndianRed"},
		{"Reference", refLux, "WhiteSmoke"},
	}
}

func constantSeries(v float64, n int) []opts.LineData {
	data := make([]opts.LineData, n)
	for i := range data {
		data[i] = opts.LineData{Value: v}
	}
	return data
}

// Update the info in the results tab
func (m *Picker) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, time.Local)
		conditions, err = m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tmpl, err := parseTemplateFile("html/results.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ConditionsForDisplay struct {
			Conditions
			StartDate string
			EndDate   string
		}
		err = tmpl.Execute(w, ConditionsForDisplay{
			Conditions: conditions,
			StartDate:  startDate,
			EndDate:    endDate,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Summarize the cycles recorded in the date range
func (m *Picker) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	var oldest, mostRecent string
	var lowLight int
	row := m.ResultsDB.QueryRow(`
	SELECT
		COUNT(*),
		COALESCE(AVG(lux), 0),
		COALESCE(AVG(brightness), 0),
		COALESCE(SUM(CASE WHEN lux < ? THEN 1 ELSE 0 END), 0),
		COALESCE(MIN(created_at), '0001-01-01 00:00:00'),
		COALESCE(MAX(created_at), '0001-01-01 00:00:00')
	FROM cycles
	WHERE created_at BETWEEN ? AND ?`, m.AlertLux, startDate, endDate)
	err := row.Scan(&conditions.CyclesInRange, &conditions.AverageLuxInRange,
		&conditions.AverageBrightnessInRange, &lowLight, &oldest, &mostRecent)
	if err != nil {
		return conditions, err
	}
	if conditions.CyclesInRange == 0 {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}
	conditions.LowLightInRange = float64(lowLight) / float64(conditions.CyclesInRange)

	first, last, err := tools.StartAndEndDateToTime(normalizeTimestamp(oldest), normalizeTimestamp(mostRecent))
	if err != nil {
		return conditions, err
	}
	conditions.RecordedHoursInRange = last.Sub(first).Hours()
	conditions.LightConditionInRange = m.lightCondition(conditions.AverageLuxInRange)
	return conditions, nil
}

func (m *Picker) lightCondition(lux float64) string {
	switch {
	case lux < m.AlertLux:
		return "Dark"
	case lux < m.Engine.Config().RefLux:
		return "Dim"
	default:
		return "Bright"
	}
}

// The sqlite driver returns DATETIME aggregates as RFC3339 strings
func normalizeTimestamp(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return s
}

// Used to clear a div with htmx
func (m *Picker) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
