package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/form/v4"
	_ "github.com/mattn/go-sqlite3"
	"gobot.io/x/gobot/v2"

	"furitingoasis/growroom/internal/camera"
	"furitingoasis/growroom/internal/config"
	"furitingoasis/growroom/internal/controller"
	"furitingoasis/growroom/internal/hardware"
	"furitingoasis/growroom/internal/metrics"
	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/mqtt"
)

// controllerAPI is the part of the controller the handlers use.
type controllerAPI interface {
	Execute(ctx context.Context, cmd controller.Command) error
	Snapshot(ctx context.Context) (models.SystemState, error)
}

type application struct {
	logger         *slog.Logger
	users          models.UserModelInterface
	controller     controllerAPI
	cameras        map[string]camera.Imager
	metrics        *metrics.Metrics
	templateCache  map[string]*template.Template
	formDecoder    *form.Decoder
	sessionManager *scs.SessionManager
	secureCookies  bool
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "Configuration file path")
	addr := flag.String("addr", "", "HTTP network address (overrides the config file)")
	dsn := flag.String("dsn", "", "SQLite database file path (overrides the config file)")
	debug := flag.Bool("debug", false, "Log hardware calls instead of driving the pins")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	if err := run(cfg, *debug, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, debug bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure the database directory exists
	if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	db, err := openDB(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	users := &models.UserModel{DB: db}
	snapshots := &models.SnapshotModel{DB: db, Retention: cfg.Database.SnapshotRetention}
	if err := createTables(ctx, db, users, snapshots, logger); err != nil {
		return err
	}
	if err := seedAdminUser(users, cfg.Admin, logger); err != nil {
		logger.Error("seeding admin user", "error", err)
	}

	initial := cfg.InitialState()
	snap, err := snapshots.Load(ctx)
	switch {
	case err == nil:
		initial = overlaySnapshot(initial, snap)
		logger.Info("restored state snapshot", "saved", snap.UpdatedAt)
	case errors.Is(err, models.ErrNoRecord):
		logger.Info("no state snapshot, starting from configuration")
	default:
		logger.Error("loading state snapshot, starting from configuration", "error", err)
	}

	hw, closeHW, err := newActuator(cfg, debug, logger)
	if err != nil {
		return err
	}
	defer closeHW()

	templateCache, err := newTemplateCache()
	if err != nil {
		return err
	}

	m := metrics.New()

	capturers := make(map[string]camera.Capturer)
	imagers := make(map[string]camera.Imager)
	for name, endpoint := range cfg.CameraEndpoints {
		c := camera.NewHTTP(name, endpoint, logger)
		capturers[name] = c
		imagers[name] = c
	}
	if cfg.Webcam.Device != "" {
		w := camera.NewWebcam(cfg.Webcam.Device, cfg.Webcam.Dir, cfg.Webcam.Width, cfg.Webcam.Height, logger)
		capturers["webcam"] = w
		imagers["webcam"] = w
	}

	var alerter controller.Alerter
	var publisher *mqtt.Publisher
	broker, err := mqtt.NewClient(mqtt.Config{
		BrokerURL:     cfg.MQTT.BrokerURL,
		ClientID:      cfg.MQTT.ClientID,
		Username:      cfg.MQTT.Username,
		Password:      cfg.MQTT.Password,
		QoS:           cfg.MQTT.QoS,
		AutoReconnect: true,
		MaxRetries:    cfg.MQTT.MaxRetries,
		RetryInterval: cfg.MQTT.RetryInterval,
	}, logger)
	if err != nil {
		logger.Error("running without mqtt, check the broker settings", "error", err)
	} else {
		defer broker.Close()
		publisher = mqtt.NewPublisher(broker, logger)
		alerter = publisher
	}

	ctl := cfg.Control
	ctrl, err := controller.New(controller.Options{
		Logger:   logger,
		Hardware: hw,
		Store:    snapshots,
		Cameras:  capturers,
		Alerter:  alerter,
		Metrics:  m,
		Settings: controller.Settings{
			PersistInterval:  ctl.PersistInterval,
			HumidityWindow:   ctl.HumidityWindow,
			HistoryCount:     ctl.HistoryCount,
			HistoryAge:       ctl.HistoryAge,
			FanAlpha:         ctl.FanAlpha,
			FanBand:          ctl.FanBand,
			FanMinDwell:      ctl.FanMinDwell,
			ActuationTimeout: ctl.ActuationTimeout,
			ShutoffRetries:   ctl.ShutoffRetries,
			RetryDelay:       ctl.RetryDelay,
			TriggerSamples:   ctl.TriggerSamples,
			QueueSize:        ctl.QueueSize,
			Stages:           cfg.Stages(),
		},
		Initial: initial,
	})
	if err != nil {
		return err
	}

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		ctrl.Run(ctx)
	}()

	if broker != nil {
		err := broker.SubscribeSensors(func(r mqtt.SensorReading) {
			err := ctrl.Submit(ctx, controller.SensorMessage{
				SensorID:    r.SensorID,
				Raw:         r.ADC,
				Humidity:    r.Humidity,
				Temperature: r.Temperature,
				Time:        time.Now(),
			})
			if err != nil {
				logger.Warn("sensor message not queued", "sensor", r.SensorID, "error", err)
			}
		})
		if err != nil {
			logger.Error("subscribing to sensors", "error", err)
		}
	}

	ticker := gobot.Every(ctl.TickInterval, func() {
		now := time.Now()
		if err := ctrl.Submit(ctx, controller.Tick{Time: now}); err != nil {
			return
		}
		ctrl.Submit(ctx, controller.TriggerCheck{Time: now})
	})
	defer ticker.Stop()

	if publisher != nil {
		status := gobot.Every(ctl.StatusInterval, func() {
			s, err := ctrl.Snapshot(ctx)
			if err != nil {
				return
			}
			if err := publisher.PublishStatus(&s); err != nil {
				logger.Error("publishing status", "error", err)
			}
		})
		defer status.Stop()
	}

	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(db)
	sessionManager.Lifetime = 12 * time.Hour
	sessionManager.Cookie.Secure = cfg.HTTP.SecureCookies

	app := &application{
		logger:         logger,
		users:          users,
		controller:     ctrl,
		cameras:        imagers,
		metrics:        m,
		templateCache:  templateCache,
		formDecoder:    form.NewDecoder(),
		sessionManager: sessionManager,
		secureCookies:  cfg.HTTP.SecureCookies,
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      app.routes(),
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		logger.Error("server stopped", "error", err)
		stop()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	<-ctrlDone
	logger.Info("stopped")
	return nil
}

// newActuator returns the Pi pin driver, or the logging stand-in in debug
// mode and off the Pi.
func newActuator(cfg *config.Config, debug bool, logger *slog.Logger) (hardware.Actuator, func(), error) {
	if debug || !hardware.OnRaspberryPi() {
		logger.Warn("not driving pins, hardware calls are only logged")
		return hardware.NewLogging(logger), func() {}, nil
	}

	hw, err := hardware.NewRaspi(hardware.Pins{
		Lights:       cfg.Pins.Lights,
		StaticLights: cfg.Pins.StaticLights,
		Valves:       cfg.Pins.Valves,
		Pump:         cfg.Pins.Pump,
		Fan:          cfg.Pins.Fan,
		ActiveLow:    cfg.Pins.ActiveLow,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return hw, func() {
		if err := hw.Close(); err != nil {
			logger.Error("closing hardware", "error", err)
		}
	}, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(ctx context.Context, db *sql.DB, users *models.UserModel, snapshots *models.SnapshotModel, logger *slog.Logger) error {
	stmt := `
			CREATE TABLE IF NOT EXISTS sessions (
					token CHAR(43) PRIMARY KEY,
					data BLOB NOT NULL,
					expiry TIMESTAMP(6) NOT NULL
			);
			CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry);
	`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if err := users.CreateTable(); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	if err := snapshots.CreateTable(ctx); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	logger.Info("tables created or already existed")
	return nil
}

// seedAdminUser creates the configured admin account unless an admin
// already exists.
func seedAdminUser(users models.UserModelInterface, admin config.Admin, logger *slog.Logger) error {
	exists, err := users.AdminExists()
	if err != nil {
		return fmt.Errorf("checking for existing admin: %w", err)
	}
	if exists {
		logger.Info("admin user already exists, skipping seeding")
		return nil
	}
	if admin.Email == "" || admin.Password == "" {
		logger.Warn("no admin account configured, nobody can log in")
		return nil
	}

	if err := users.Insert(admin.Name, admin.Email, admin.Password, true); err != nil {
		return fmt.Errorf("inserting admin user: %w", err)
	}
	logger.Info("admin user created", "email", admin.Email)
	return nil
}

// overlaySnapshot starts from the saved state and adds any output or stage
// the configuration gained since it was written.
func overlaySnapshot(initial, snap models.SystemState) models.SystemState {
	s := snap.Clone()
	for id, pct := range initial.Lights {
		if _, ok := s.Lights[id]; !ok {
			s.Lights[id] = pct
		}
	}
	for id, on := range initial.StaticLights {
		if _, ok := s.StaticLights[id]; !ok {
			s.StaticLights[id] = on
		}
	}
	for stage, secs := range initial.WateringDurations {
		if _, ok := s.WateringDurations[stage]; !ok {
			s.WateringDurations[stage] = secs
		}
	}
	if s.WateringAuto.StartTime == "" {
		s.WateringAuto = initial.WateringAuto
	}
	return s
}
