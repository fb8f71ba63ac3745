package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ztkent/lux-picker/bh1750"
	"github.com/ztkent/lux-picker/i2cbus"
	"github.com/ztkent/lux-picker/internal/fusion"
	"github.com/ztkent/lux-picker/internal/luxpicker"
	"github.com/ztkent/lux-picker/internal/sim"
	"github.com/ztkent/lux-picker/internal/tools"
	"github.com/ztkent/lux-picker/tcs34725"
)

/*
	Primary entry point for the Lux Picker.
	It should be running at startup, on a Raspberry Pi, with the GY-33 (TCS34725)
	and BH1750 sensors sharing /dev/i2c-1. SENSOR_TYPE=sim runs without hardware.
*/

var l = tools.Logger

func main() {
	pid := os.Getpid()
	cfg, err := tools.LoadConfig()
	if err != nil {
		l.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.LogFile != "" {
		logFile, err := tools.SetupLogFile(cfg.LogFile)
		if err != nil {
			l.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
	}
	l.Infof("LuxPicker [%d]", pid)

	// connect to the i2c bus, or the simulator
	bus, closeBus := connectBus(cfg)
	defer closeBus()

	engine, err := fusion.NewEngine(cfg.Fusion)
	if err != nil {
		l.Fatalf("Failed to create the fusion engine: %v", err)
	}

	// connect to the sqlite database
	db, err := tools.ConnectSqlite(cfg.DBPath)
	if err != nil {
		// Unlike connecting to the sensors, this should always work.
		l.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer db.Close()

	results := make(chan luxpicker.Cycle, 64)
	display := luxpicker.NewDisplaySink()
	picker := &luxpicker.Picker{
		Light:  bh1750.NewBH1750(bus, cfg.LightAddr),
		Color:  tcs34725.NewTCS34725(bus, cfg.ColorAddr),
		Engine: engine,
		Setup: luxpicker.Setup{
			MTreg:      cfg.MTreg,
			ColorGain:  cfg.ColorGain,
			ColorATime: cfg.ColorATime,
		},
		Display: display,
		Sinks: []luxpicker.Sink{
			luxpicker.LogSink{Logger: l},
			display,
			&luxpicker.MatrixSink{Pixels: cfg.MatrixPixels, Writer: luxpicker.LogPixelWriter{}},
			&luxpicker.AlertSink{
				Threshold: cfg.AlertLux,
				Alerters:  []luxpicker.Alerter{luxpicker.LogAlerter{}, luxpicker.DBAlerter{DB: db}},
			},
			luxpicker.RecorderSink{Results: results},
		},
		ResultsChan: results,
		ResultsDB:   db,
		DBPath:      cfg.DBPath,
		Interval:    cfg.CycleInterval,
		AlertLux:    cfg.AlertLux,
		Pid:         pid,
	}

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(handleServerPanic)
	defineRoutes(r, picker)

	if cfg.AutoStart {
		if _, err := picker.StartJob(); err != nil {
			l.Errorf("Failed to start the sensors: %v", err)
		}
	}

	if cfg.SSL {
		// Generate a self-signed certificate if one doesn't exist
		certPath, keyPath := "cert.pem", "key.pem"
		if err := tools.EnsureCertificate(certPath, keyPath, "localhost"); err != nil {
			l.Fatalf("Failed to create a certificate: %v", err)
		}
		l.Infof("Starting HTTPS server on port %s", cfg.Port)
		err = http.ListenAndServeTLS(":"+cfg.Port, certPath, keyPath, r)
		if err != nil {
			l.Fatalf("Failed to start HTTPS server: %v", err)
		}
	} else {
		l.Infof("Starting HTTP server on port %s", cfg.Port)
		err = http.ListenAndServe(":"+cfg.Port, r)
		if err != nil {
			l.Fatalf("Failed to start HTTP server: %v", err)
		}
	}
}

func connectBus(cfg tools.Config) (i2cbus.Bus, func()) {
	if cfg.SensorType == tools.SENSOR_SIM {
		l.Info("Using the simulated sensors")
		simBus := sim.NewBus()
		simBus.Light.Address = cfg.LightAddr
		simBus.Color.Address = cfg.ColorAddr
		return simBus, func() {}
	}

	devfs := i2cbus.NewDevfs(cfg.I2CBus)
	return devfs, func() {
		if err := devfs.Close(); err != nil {
			l.Errorf("Failed to close %s: %v", cfg.I2CBus, err)
		}
	}
}

func defineRoutes(r *chi.Mux, picker *luxpicker.Picker) {
	// Listen for any results from our jobs, record them in sqlite
	go picker.MonitorAndRecordResults(context.Background())

	// Lux Picker Dashboard Controls, local network only
	r.Group(func(r chi.Router) {
		r.Use(tools.CheckInNetwork)
		r.Get("/", picker.ServeDashboard())
		r.Route("/luxpicker", func(r chi.Router) {
			r.Post("/start", picker.Start())
			r.Post("/stop", picker.Stop())
			r.Get("/current-conditions", picker.CurrentConditions())
			r.Get("/export", picker.ServeResultsDB())
			r.Post("/graph", picker.ServeResultsGraph())
			r.Get("/controls", picker.ServeControls())
			r.Get("/status", picker.ServeSensorStatus())
			r.Get("/display", picker.ServeDisplay())
			r.Post("/results", picker.ServeResultsTab())
			r.Get("/clear", picker.Clear())
		})
	})

	// Lux Picker API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/start", picker.Start())
		r.Get("/stop", picker.Stop())
		r.Get("/current-conditions", picker.CurrentConditions())
		r.Get("/export", picker.ServeResultsDB())
	})

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
			Pid         int    `json:"pid"`
		}{
			ServiceName: "Lux Picker",
			Pid:         picker.Pid,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				l.Errorf("Recovered from panic: %v", err)
				luxpicker.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
