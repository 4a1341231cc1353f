package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wallethub-hq/intentrunner/pkg/logger"
	"github.com/wallethub-hq/intentrunner/pkg/metrics"
)

// Event is one telemetry record emitted by the pipeline.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Sink receives pipeline telemetry. Implementations must never block the
// caller; pipeline correctness does not depend on delivery.
type Sink interface {
	Log(userID, eventType string, payload map[string]any)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Log(string, string, map[string]any) {}

// ChannelSink buffers events on a channel and drains them on a worker
// goroutine. A full buffer drops the event and bumps a counter instead
// of blocking the pipeline.
type ChannelSink struct {
	events chan Event
	log    logger.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a sink with the given buffer capacity.
func NewChannelSink(buffer int, log logger.Logger) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
		log:    log,
	}
}

// Start begins draining events until the context is cancelled.
func (s *ChannelSink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.events:
				if !ok {
					return
				}
				s.log.Debug("telemetry %s user=%s type=%s", ev.ID, ev.UserID, ev.EventType)
			}
		}
	}()
}

// Log enqueues an event, dropping it if the buffer is full.
func (s *ChannelSink) Log(userID, eventType string, payload map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		EmittedAt: time.Now(),
	}
	select {
	case s.events <- ev:
	default:
		metrics.TelemetryDropped.Inc()
	}
}

// Close stops accepting events and waits for the drain goroutine.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		close(s.events)
	})
	s.wg.Wait()
}
