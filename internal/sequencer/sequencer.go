// Package sequencer runs watering stages against the shared pump.
//
// A stage is Idle or Watering. Only one stage waters at a time; the valve
// opens before the pump starts and closes before the pump stops. Shutoff
// commands are retried, and a stage whose shutoff keeps failing is still
// considered Idle so the loop never waits on it forever.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"

	"furitingoasis/growroom/internal/hardware"
	"furitingoasis/growroom/internal/models"
)

const (
	DefaultActuationTimeout = 5 * time.Second
	DefaultShutoffRetries   = 3
	DefaultRetryDelay       = 2 * time.Second
)

// Pump is the part of hardware.Actuator the sequencer drives.
type Pump interface {
	SetValve(ctx context.Context, stage int, open bool) error
	SetPump(ctx context.Context, on bool) error
}

type Config struct {
	// Stages lists every valve the fail-safe shutoff closes.
	Stages           []int
	ActuationTimeout time.Duration
	ShutoffRetries   int
	RetryDelay       time.Duration
}

// Sequencer is not safe for concurrent use. The controller loop owns it.
type Sequencer struct {
	hw         Pump
	budget     time.Duration
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger

	stages map[int]struct{}
	active map[int]time.Time
}

func New(hw Pump, cfg Config, logger *slog.Logger) *Sequencer {
	if cfg.ActuationTimeout <= 0 {
		cfg.ActuationTimeout = DefaultActuationTimeout
	}
	if cfg.ShutoffRetries <= 0 {
		cfg.ShutoffRetries = DefaultShutoffRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	s := &Sequencer{
		hw:         hw,
		budget:     cfg.ActuationTimeout,
		retries:    cfg.ShutoffRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
		stages:     make(map[int]struct{}),
		active:     make(map[int]time.Time),
	}
	for _, stage := range cfg.Stages {
		s.stages[stage] = struct{}{}
	}
	return s
}

// Start opens stage's valve and enables the pump. The stage waters until
// now+d. If any stage is already watering it returns ErrAlreadyWatering
// without touching the hardware.
func (s *Sequencer) Start(ctx context.Context, stage int, d time.Duration, now time.Time) (time.Time, error) {
	if busy, ok := s.busyStage(); ok {
		return time.Time{}, fmt.Errorf("stage %d requested while stage %d waters: %w", stage, busy, models.ErrAlreadyWatering)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("stage %d: duration %s: %w", stage, d, models.ErrInvalidCommand)
	}
	s.stages[stage] = struct{}{}

	err := hardware.Guard(ctx, s.budget, func() error { return s.hw.SetValve(ctx, stage, true) })
	if err == nil {
		err = hardware.Guard(ctx, s.budget, func() error { return s.hw.SetPump(ctx, true) })
	}
	if err != nil {
		s.logger.Error("watering start failed, shutting off", "stage", stage, "error", err)
		if serr := s.shutoff(ctx, stage); serr != nil {
			err = multierror.Append(err, serr)
		}
		return time.Time{}, fmt.Errorf("start stage %d: %w", stage, err)
	}

	deadline := now.Add(d)
	s.active[stage] = deadline
	s.logger.Info("watering started", "stage", stage, "duration", d, "deadline", deadline)
	return deadline, nil
}

// Check ends every stage whose deadline is at or before now and returns
// the stages that went Idle.
func (s *Sequencer) Check(ctx context.Context, now time.Time) ([]int, error) {
	var done []int
	var result error
	for _, stage := range slices.Sorted(maps.Keys(s.active)) {
		if s.active[stage].After(now) {
			continue
		}
		delete(s.active, stage)
		done = append(done, stage)
		if err := s.shutoff(ctx, stage); err != nil {
			result = multierror.Append(result, err)
		}
		s.logger.Info("watering finished", "stage", stage)
	}
	return done, result
}

// Cancel stops stage. It is idempotent: the close and pump-off commands are
// sent even if the stage is not watering.
func (s *Sequencer) Cancel(ctx context.Context, stage int) error {
	delete(s.active, stage)
	s.stages[stage] = struct{}{}
	return s.shutoff(ctx, stage)
}

// CancelAll closes every known valve and stops the pump.
func (s *Sequencer) CancelAll(ctx context.Context) error {
	clear(s.active)

	var result error
	for _, stage := range slices.Sorted(maps.Keys(s.stages)) {
		if err := s.retry(ctx, fmt.Sprintf("close valve %d", stage), func() error { return s.hw.SetValve(ctx, stage, false) }); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.retry(ctx, "pump off", func() error { return s.hw.SetPump(ctx, false) }); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Active returns a copy of the watering stages and their deadlines.
func (s *Sequencer) Active() map[int]time.Time {
	return maps.Clone(s.active)
}

// Busy reports whether the pump is committed to a stage.
func (s *Sequencer) Busy() bool {
	return len(s.active) > 0
}

func (s *Sequencer) busyStage() (int, bool) {
	for stage := range s.active {
		return stage, true
	}
	return 0, false
}

// shutoff closes stage's valve and, if nothing else waters, stops the pump.
// The stage is Idle afterwards whatever the outcome.
func (s *Sequencer) shutoff(ctx context.Context, stage int) error {
	var result error
	if err := s.retry(ctx, fmt.Sprintf("close valve %d", stage), func() error { return s.hw.SetValve(ctx, stage, false) }); err != nil {
		result = multierror.Append(result, err)
	}
	if len(s.active) == 0 {
		if err := s.retry(ctx, "pump off", func() error { return s.hw.SetPump(ctx, false) }); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		s.logger.Error("shutoff incomplete, assuming closed", "stage", stage, "error", result)
		return fmt.Errorf("shutoff stage %d: %w", stage, result)
	}
	return nil
}

func (s *Sequencer) retry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = hardware.Guard(ctx, s.budget, fn)
		if err == nil {
			return nil
		}
		s.logger.Warn("actuation failed", "command", what, "attempt", attempt, "max", s.retries, "error", err)
		if attempt == s.retries || s.retryDelay == 0 {
			continue
		}

		t := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", what, err)
		case <-t.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, s.retries, err)
}
