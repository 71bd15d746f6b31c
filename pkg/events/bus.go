package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	applogger "github.com/chiquitav2/ddcloud/pkg/logger"
	gookitEvent "github.com/gookit/event"
)

const payloadKey = "payload"

// gookitBus implements Bus on top of gookit/event
type gookitBus struct {
	manager     *gookitEvent.Manager
	config      BusConfig
	logger      *applogger.Logger
	subscribers map[string]int
	published   int
	mu          sync.RWMutex
	lastError   string
	closed      bool
}

// NewBus creates a bus backed by a gookit/event manager
func NewBus(config BusConfig, logger *applogger.Logger) Bus {
	if config.Name == "" {
		config.Name = DefaultBusConfig().Name
	}
	if logger == nil {
		logger = applogger.NewNop()
	}

	logger.DebugContext(context.Background(),
		"creating event bus",
		slog.String("name", config.Name),
		slog.Bool("enabled", config.Enabled))

	return &gookitBus{
		manager:     gookitEvent.NewManager(config.Name),
		config:      config,
		logger:      logger,
		subscribers: make(map[string]int),
	}
}

// Publish fires the event synchronously on the calling goroutine
func (b *gookitBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	enabled := b.config.Enabled
	b.mu.RUnlock()

	if !enabled {
		return nil
	}

	b.logger.DebugContext(ctx,
		"publishing event",
		slog.String("name", event.Name()),
		slog.String("tag", event.Tag()),
		slog.String("id", event.ID()))

	err, _ := b.manager.Fire(event.Name(), gookitEvent.M{payloadKey: event})

	b.mu.Lock()
	b.published++
	if err != nil {
		b.lastError = err.Error()
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.ErrorCtx(ctx, "failed to publish event", err,
			slog.String("tag", event.Tag()),
			slog.String("id", event.ID()))
		return fmt.Errorf("failed to publish event %s: %w", event.Tag(), err)
	}

	return nil
}

func (b *gookitBus) Subscribe(name string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		ev, ok := e.Get(payloadKey).(Event)
		if !ok {
			return fmt.Errorf("invalid event payload: %T", e.Get(payloadKey))
		}
		return handler(context.Background(), ev)
	})

	b.manager.On(name, listener, gookitEvent.Normal)
	b.subscribers[name]++

	b.logger.DebugContext(context.Background(),
		"subscribed to event",
		slog.String("name", name))

	return nil
}

func (b *gookitBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.subscribers = make(map[string]int)
	b.manager.Clear()
	b.closed = true
	return nil
}

func (b *gookitBus) Health() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := "healthy"
	message := "event bus is operating normally"

	if b.closed {
		status = "unhealthy"
		message = "event bus is closed"
	} else if b.lastError != "" {
		status = "degraded"
		message = "event bus has recent errors"
	}

	total := 0
	for _, n := range b.subscribers {
		total += n
	}

	return Health{
		Status:      status,
		Message:     message,
		Subscribers: total,
		Published:   b.published,
		LastError:   b.lastError,
		Metadata: map[string]any{
			"names":   len(b.subscribers),
			"enabled": b.config.Enabled,
		},
	}
}
