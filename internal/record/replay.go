package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Versifine/hoverwheel/internal/wheel"
)

// Sink receives replayed frames. Both *wheel.Wheel and *client.Client
// satisfy it.
type Sink interface {
	Send(ctx context.Context, axes wheel.Axes) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Replay feeds frames to sink, waiting until each frame's offset has elapsed.
// Device transitions that fail are logged and skipped; a failed axes send
// stops the replay.
func Replay(ctx context.Context, frames []Frame, sink Sink) error {
	start := time.Now()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for i, f := range frames {
		if wait := time.Until(start.Add(f.Offset)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		switch f.Kind {
		case FrameAxes:
			if err := sink.Send(ctx, f.Axes); err != nil {
				return fmt.Errorf("replay frame %d: %w", i, err)
			}
		case FrameConnect:
			if err := sink.Connect(ctx); err != nil {
				slog.Warn("Replay connect failed", "frame", i, "error", err)
			}
		case FrameDisconnect:
			if err := sink.Disconnect(ctx); err != nil {
				slog.Warn("Replay disconnect failed", "frame", i, "error", err)
			}
		default:
			slog.Debug("Skipping unknown frame kind", "frame", i, "kind", int(f.Kind))
		}
	}
	return nil
}
