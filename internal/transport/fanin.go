package transport

import (
	"context"
	"log/slog"
	"sync"
)

// FanIn runs every source on its own goroutine, writing into out. A failing
// source is logged and never stops the others. The returned channel closes
// once all sources have returned; out is left open.
func FanIn(ctx context.Context, out chan<- Event, logger *slog.Logger, sources ...ConversationEventSource) <-chan struct{} {
	if logger == nil {
		logger = slog.Default()
	}
	var wg sync.WaitGroup
	for _, source := range sources {
		if source == nil {
			continue
		}
		wg.Add(1)
		go func(source ConversationEventSource) {
			defer wg.Done()
			err := source.Run(ctx, out)
			switch {
			case ctx.Err() != nil:
				logger.Debug("event source stopped", slog.String("source", source.Name()))
			case err != nil:
				logger.Warn("event source failed", slog.String("source", source.Name()), slog.Any("error", err))
			default:
				logger.Info("event source finished", slog.String("source", source.Name()))
			}
		}(source)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
