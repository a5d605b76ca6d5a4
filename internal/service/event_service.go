package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/concours-api/internal/models"
)

type eventStream interface {
	Append(ctx context.Context, event models.DomainEvent) (string, error)
}

type eventMetrics interface {
	RecordEventPublished(eventType string, err error)
}

// EventSubscriber reacts to a published domain event.
type EventSubscriber func(ctx context.Context, event models.DomainEvent) error

// EventService fans domain events out to the redis stream and to in-process subscribers.
type EventService struct {
	stream      eventStream
	metrics     eventMetrics
	logger      *zap.Logger
	mu          sync.RWMutex
	subscribers map[models.EventType][]EventSubscriber
}

// NewEventService constructs the publisher. stream may be nil to publish in-process only.
func NewEventService(stream eventStream, metrics eventMetrics, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		stream:      stream,
		metrics:     metrics,
		logger:      logger,
		subscribers: make(map[models.EventType][]EventSubscriber),
	}
}

// Subscribe registers fn for events of the given type.
func (s *EventService) Subscribe(eventType models.EventType, fn EventSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], fn)
}

// Publish appends the event to the stream and runs matching subscribers concurrently.
// Every sink is attempted; the joined failures are returned.
func (s *EventService) Publish(ctx context.Context, event models.DomainEvent) error {
	var streamErr error
	if s.stream != nil {
		if _, err := s.stream.Append(ctx, event); err != nil {
			streamErr = fmt.Errorf("append to stream: %w", err)
		}
	}

	s.mu.RLock()
	subscribers := append([]EventSubscriber(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	var g errgroup.Group
	for _, fn := range subscribers {
		fn := fn
		g.Go(func() error {
			if err := fn(ctx, event); err != nil {
				s.logger.Warn("event subscriber failed",
					zap.String("event", string(event.Type)),
					zap.String("candidate_id", event.CandidateID),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	err := errors.Join(streamErr, g.Wait())
	if s.metrics != nil {
		s.metrics.RecordEventPublished(string(event.Type), err)
	}
	return err
}
