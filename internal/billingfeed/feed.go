package billingfeed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Feed ties the publisher and the spill buffer together: events go to Kafka
// when possible and spill to disk otherwise, with a background loop that
// replays the buffer once brokers recover.
type Feed struct {
	publisher *Publisher
	spill     *SpillBuffer
	logger    *zap.Logger

	retryInterval time.Duration
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

// FeedConfig configures the feed.
type FeedConfig struct {
	Publisher     *Publisher
	Spill         *SpillBuffer
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// NewFeed creates the feed and starts its replay loop.
func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	f := &Feed{
		publisher:     cfg.Publisher,
		spill:         cfg.Spill,
		logger:        cfg.Logger.With(zap.String("component", "billing-feed")),
		retryInterval: cfg.RetryInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go f.replayLoop()
	return f
}

// Emit publishes one event, spilling to disk on failure. Never returns an
// error; the feed is best-effort by contract.
func (f *Feed) Emit(ctx context.Context, event Event) {
	if f.publisher == nil {
		return
	}
	if err := f.publisher.Publish(ctx, event); err == nil {
		return
	}
	if f.spill == nil {
		f.logger.Warn("dropping billing event, no spill buffer configured",
			zap.String("event_id", event.EventID),
		)
		return
	}
	if err := f.spill.Store(event); err != nil {
		f.logger.Error("dropping billing event, spill failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}

// Stop shuts down the replay loop and the publisher.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		<-f.done
		if f.publisher != nil {
			_ = f.publisher.Close()
		}
	})
}

func (f *Feed) replayLoop() {
	defer close(f.done)

	ticker := time.NewTicker(f.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.replayOnce()
		}
	}
}

func (f *Feed) replayOnce() {
	if f.spill == nil || f.publisher == nil {
		return
	}

	events, paths, err := f.spill.Drain(100)
	if err != nil {
		f.logger.Warn("failed to drain spill buffer", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var replayed []string
	for i, event := range events {
		if err := f.publisher.Publish(ctx, event); err != nil {
			// Brokers still down; keep the rest buffered for the next tick.
			break
		}
		replayed = append(replayed, paths[i])
	}

	if len(replayed) > 0 {
		f.spill.Remove(replayed)
		f.logger.Info("replayed spilled billing events", zap.Int("count", len(replayed)))
	}
}
