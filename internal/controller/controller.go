// Package controller owns the grow room state. A single goroutine (Run)
// consumes an ordered event queue: ticks, sensor messages, trigger checks,
// operator commands and snapshot queries. Handlers run to completion, so no
// state is ever shared between goroutines.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"furitingoasis/growroom/internal/calibration"
	"furitingoasis/growroom/internal/camera"
	"furitingoasis/growroom/internal/hardware"
	"furitingoasis/growroom/internal/metrics"
	"furitingoasis/growroom/internal/models"
	"furitingoasis/growroom/internal/regulator"
	"furitingoasis/growroom/internal/schedule"
	"furitingoasis/growroom/internal/sensorlog"
	"furitingoasis/growroom/internal/sequencer"
)

var ErrStopped = errors.New("controller: stopped")

// Store persists state snapshots.
type Store interface {
	Save(ctx context.Context, s models.SystemState) error
}

// Alerter surfaces hardware faults to the operator. Alert must not block.
type Alerter interface {
	Alert(a models.Alert)
}

// Settings are the loop timings and tuning.
type Settings struct {
	PersistInterval  time.Duration
	HumidityWindow   time.Duration
	HistoryCount     int
	HistoryAge       time.Duration
	FanAlpha         float64
	FanBand          float64
	FanMinDwell      time.Duration
	ActuationTimeout time.Duration
	ShutoffRetries   int
	RetryDelay       time.Duration
	TriggerSamples   int
	QueueSize        int
	CaptureTimeout   time.Duration

	// Stages lists every stage with a valve, watered or not.
	Stages []int
}

type Options struct {
	Now      func() time.Time
	Logger   *slog.Logger
	Hardware hardware.Actuator
	Store    Store
	Cameras  map[string]camera.Capturer
	Alerter  Alerter
	Metrics  *metrics.Metrics
	Settings Settings

	// Initial is the state to start from, usually the last snapshot
	// overlaid on the configured defaults.
	Initial models.SystemState
}

type Controller struct {
	now      func() time.Time
	logger   *slog.Logger
	hw       hardware.Actuator
	store    Store
	cameras  map[string]camera.Capturer
	alerter  Alerter
	metrics  *metrics.Metrics
	settings Settings

	events   chan Event
	persist  chan models.SystemState
	done     chan struct{}
	captures sync.WaitGroup

	state         models.SystemState
	stages        map[int]bool
	moisture      *sensorlog.Log
	humidity      *sensorlog.Log
	humiditySeen  map[string]bool
	humidityDirty bool
	fan           *regulator.Regulator
	seq           *sequencer.Sequencer
	queueSource   map[int]string
	lastAutoStart time.Time
	lastPersist   time.Time

	// outputs whose last actuation failed; repeats are logged, not alerted
	failing map[string]bool
}

// New builds a controller from opts. It fails when a sensor calibration in
// the initial state is invalid.
func New(opts Options) (*Controller, error) {
	st := opts.Settings
	if st.PersistInterval <= 0 {
		st.PersistInterval = 5 * time.Minute
	}
	if st.HumidityWindow <= 0 {
		st.HumidityWindow = time.Hour
	}
	if st.TriggerSamples <= 0 {
		st.TriggerSamples = 1
	}
	if st.QueueSize <= 0 {
		st.QueueSize = 64
	}
	if st.ActuationTimeout <= 0 {
		st.ActuationTimeout = sequencer.DefaultActuationTimeout
	}
	if st.CaptureTimeout <= 0 {
		st.CaptureTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	for id, sc := range opts.Initial.SensorConfigs {
		if err := calibration.Validate(sc.MinADC, sc.MaxADC); err != nil {
			return nil, fmt.Errorf("sensor %s: %w", id, err)
		}
	}

	c := &Controller{
		now:          opts.Now,
		logger:       opts.Logger,
		hw:           opts.Hardware,
		store:        opts.Store,
		cameras:      opts.Cameras,
		alerter:      opts.Alerter,
		metrics:      opts.Metrics,
		settings:     st,
		events:       make(chan Event, st.QueueSize),
		persist:      make(chan models.SystemState, 1),
		done:         make(chan struct{}),
		state:        opts.Initial.Clone(),
		stages:       make(map[int]bool),
		moisture:     sensorlog.New(st.HistoryCount, st.HistoryAge),
		humidity:     sensorlog.New(st.HistoryCount, st.HistoryAge),
		humiditySeen: make(map[string]bool),
		queueSource:  make(map[int]string),
		fan:          regulator.New(st.FanAlpha, st.FanBand, st.FanMinDwell),
		failing:      make(map[string]bool),
	}
	if c.cameras == nil {
		c.cameras = make(map[string]camera.Capturer)
	}

	c.moisture.Restore(c.state.SensorHistory)
	c.state.SensorHistory = nil
	c.fan.Restore(c.state.Fan.SmoothedEstimate, c.state.Fan.ActuatorOn)

	for _, stage := range st.Stages {
		c.stages[stage] = true
	}
	for _, stage := range c.state.Stages() {
		c.stages[stage] = true
	}
	c.seq = sequencer.New(c.hw, sequencer.Config{
		Stages:           slices.Sorted(maps.Keys(c.stages)),
		ActuationTimeout: st.ActuationTimeout,
		ShutoffRetries:   st.ShutoffRetries,
		RetryDelay:       st.RetryDelay,
	}, c.logger)

	// Runs interrupted by a restart are not resumed; restore closes every valve.
	clear(c.state.WateringActive)

	now := c.now()
	c.resetAutoWatering(now)
	c.lastPersist = now
	return c, nil
}

// Run restores the outputs and consumes events until ctx is cancelled. On
// the way out it stops any watering and writes a final snapshot.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.restore(ctx)

	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		for s := range c.persist {
			c.save(context.Background(), s)
		}
	}()

	c.logger.Info("controller running", "stages", len(c.stages), "sensors", len(c.state.SensorConfigs))
	for {
		select {
		case ev := <-c.events:
			c.handle(ctx, ev)
		case <-ctx.Done():
			c.shutdown(ctx)
			close(c.persist)
			<-persisted
			c.save(context.Background(), c.view())
			return nil
		}
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	c.logger.Info("controller stopping")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.seq.CancelAll(ctx); err != nil {
		c.fault("watering", err)
	}
	clear(c.state.WateringActive)
	c.captures.Wait()
}

// Submit queues ev for the loop. It blocks while the queue is full.
func (c *Controller) Submit(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs cmd on the loop and returns its result.
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	if err := c.Submit(ctx, commandEvent{cmd: cmd, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot(ctx context.Context) (models.SystemState, error) {
	reply := make(chan models.SystemState, 1)
	if err := c.Submit(ctx, snapshotQuery{reply: reply}); err != nil {
		return models.SystemState{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return models.SystemState{}, ErrStopped
	case <-ctx.Done():
		return models.SystemState{}, ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	start := time.Now()
	defer func() { c.metrics.Event(ev.eventName(), time.Since(start)) }()

	switch ev := ev.(type) {
	case Tick:
		c.onTick(ctx, ev.Time)
	case SensorMessage:
		c.onSensorMessage(ev)
	case TriggerCheck:
		c.onTriggerCheck(ctx, ev.Time)
	case commandEvent:
		err := ev.cmd.apply(ctx, c, c.now())
		// a hardware fault leaves an alert behind, which is state too
		if err == nil || errors.Is(err, models.ErrHardwareFault) {
			c.requestPersist()
		}
		ev.reply <- err
	case snapshotQuery:
		ev.reply <- c.view()
	default:
		c.logger.Error("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// view is the full state as seen from outside the loop.
func (c *Controller) view() models.SystemState {
	s := c.state.Clone()
	s.SensorHistory = c.moisture.Snapshot()
	if est, ok := c.fan.Estimate(); ok {
		s.Fan.SmoothedEstimate = &est
	} else {
		s.Fan.SmoothedEstimate = nil
	}
	s.UpdatedAt = c.now()
	return s
}

// requestPersist hands the newest state to the persister. An unsaved older
// snapshot still waiting in the slot is replaced.
func (c *Controller) requestPersist() {
	s := c.view()
	c.lastPersist = s.UpdatedAt
	select {
	case c.persist <- s:
		return
	default:
	}
	select {
	case <-c.persist:
	default:
	}
	select {
	case c.persist <- s:
	default:
	}
}

func (c *Controller) save(ctx context.Context, s models.SystemState) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := c.store.Save(ctx, s)
	c.metrics.SnapshotWrite(err)
	if err != nil {
		c.logger.Error("saving state snapshot", "error", err)
	}
}

// restore drives the outputs to the restored state and closes every valve.
func (c *Controller) restore(ctx context.Context) {
	for _, id := range slices.Sorted(maps.Keys(c.state.Lights)) {
		pct := c.state.Lights[id]
		c.actuate(ctx, lightOutput(id), func(ctx context.Context) error { return c.hw.SetLightBrightness(ctx, id, pct) })
	}
	for _, id := range slices.Sorted(maps.Keys(c.state.StaticLights)) {
		on := c.state.StaticLights[id]
		c.actuate(ctx, staticOutput(id), func(ctx context.Context) error { return c.hw.SetStaticLight(ctx, id, on) })
	}
	on := c.state.Fan.ActuatorOn
	c.actuate(ctx, "fan", func(ctx context.Context) error { return c.hw.SetFan(ctx, on) })

	if err := c.seq.CancelAll(ctx); err != nil {
		c.fault("watering", err)
	}
}

// actuate runs fn under the call budget. The first failure of an output
// raises an alert; further failures are only logged until it succeeds again.
func (c *Controller) actuate(ctx context.Context, output string, fn func(context.Context) error) error {
	err := hardware.Guard(ctx, c.settings.ActuationTimeout, func() error { return fn(ctx) })
	switch {
	case err == nil:
		delete(c.failing, output)
	case c.failing[output]:
		c.logger.Warn("actuation still failing", "output", output, "error", err)
	default:
		c.failing[output] = true
		c.fault(output, err)
	}
	return err
}

// fault records a hardware alert in the state and publishes it.
func (c *Controller) fault(output string, err error) {
	a := models.Alert{
		ID:      uuid.NewString(),
		Time:    c.now(),
		Kind:    "hardware_fault",
		Message: fmt.Sprintf("%s: %v", output, err),
	}
	c.logger.Error("hardware fault", "output", output, "error", err, "alert", a.ID)
	c.state.AddAlert(a)
	c.metrics.HardwareFault(output)
	if c.alerter != nil {
		c.alerter.Alert(a)
	}
}

// resetAutoWatering marks the current auto-watering occurrence as handled so
// only the next start time fires.
func (c *Controller) resetAutoWatering(now time.Time) {
	start, err := schedule.ParseTimeOfDay(c.state.WateringAuto.StartTime)
	if err != nil {
		c.lastAutoStart = time.Time{}
		return
	}
	c.lastAutoStart = schedule.LastOccurrence(start, now)
}

func lightOutput(id int) string  { return fmt.Sprintf("light %d", id) }
func staticOutput(id int) string { return fmt.Sprintf("static light %d", id) }
