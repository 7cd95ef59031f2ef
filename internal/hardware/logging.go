package hardware

import (
	"context"
	"log/slog"
)

// Logging is the debug-mode Actuator: every command is logged and nothing
// touches a pin.
type Logging struct {
	logger *slog.Logger
}

func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger.With("actuator", "debug")}
}

func (l *Logging) SetValve(ctx context.Context, stage int, open bool) error {
	l.logger.InfoContext(ctx, "set valve", "stage", stage, "open", open)
	return nil
}

func (l *Logging) SetPump(ctx context.Context, on bool) error {
	l.logger.InfoContext(ctx, "set pump", "on", on)
	return nil
}

func (l *Logging) SetLightBrightness(ctx context.Context, id, percent int) error {
	l.logger.InfoContext(ctx, "set light", "light", id, "percent", percent)
	return nil
}

func (l *Logging) SetStaticLight(ctx context.Context, id int, on bool) error {
	l.logger.InfoContext(ctx, "set static light", "light", id, "on", on)
	return nil
}

func (l *Logging) SetFan(ctx context.Context, on bool) error {
	l.logger.InfoContext(ctx, "set fan", "on", on)
	return nil
}
