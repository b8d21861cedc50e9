package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by Emit once the subject has been completed.
	ErrClosed = errors.New("events: subject closed")

	// ErrBufferFull is returned when the event buffer has no room left.
	ErrBufferFull = errors.New("events: buffer full")
)

// emitTimeout bounds how long Emit waits for room in the event buffer.
const emitTimeout = 5 * time.Second

// HandlerFunc is the function called when an event is delivered.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize     int
	syncDelivery   bool
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.bufferSize = size
	}
}

// WithLogger sets a structured logger for handler errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// WithSyncDelivery runs every handler inline on the event loop goroutine.
// Handlers are then never called concurrently, which is what socket writers need.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.syncDelivery = true
	}
}

// WithHandlerTimeout bounds the context handed to each handler call.
func WithHandlerTimeout(d time.Duration) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.handlerTimeout = d
	}
}

// Emit queues value for delivery to every subscriber of topic.
// Events for a topic without subscribers are dropped.
func Emit[T any](subject *Subject, topic string, value T) error {
	if subject.closed.Load() {
		return ErrClosed
	}

	evt := event{topic: topic, message: value}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()

	select {
	case subject.events <- evt:
		return nil
	case <-subject.shutdown:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("emit to %s: %w", topic, ErrBufferFull)
	}
}

// TryEmit queues value without waiting for room in the buffer.
func TryEmit[T any](subject *Subject, topic string, value T) error {
	if subject.closed.Load() {
		return ErrClosed
	}

	select {
	case subject.events <- event{topic: topic, message: value}:
		return nil
	case <-subject.shutdown:
		return ErrClosed
	default:
		return fmt.Errorf("emit to %s: %w", topic, ErrBufferFull)
	}
}

// Subscribe attaches a typed handler to topic.
func Subscribe[T any](subject *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := HandlerFunc(func(ctx context.Context, data any) error {
		if typed, ok := data.(T); ok {
			return handler(ctx, typed)
		}
		return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
	})

	sub := Subscription{
		Topic:   topic,
		ID:      fmt.Sprintf("%s-%d", topic, subject.nextSubID.Add(1)),
		Handler: wrapped,
	}
	subject.update(func(m subscriberMap) bool {
		if m[topic] == nil {
			m[topic] = make(map[string]Subscription)
		}
		m[topic][sub.ID] = sub
		return true
	})

	id := sub.ID
	sub.Unsubscribe = func() {
		subject.update(func(m subscriberMap) bool {
			if _, ok := m[topic][id]; !ok {
				return false
			}
			delete(m[topic], id)
			if len(m[topic]) == 0 {
				delete(m, topic)
			}
			return true
		})
	}
	return sub
}

// Complete stops the event loop. Queued events that were not yet delivered
// are discarded. Safe to call more than once.
func Complete(s *Subject) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(emitTimeout):
	}
}

type event struct {
	topic   string
	message any
}

// Subscription is a handler bound to one topic.
type Subscription struct {
	Topic       string
	ID          string
	Handler     HandlerFunc
	Unsubscribe func()
}

type subscriberMap map[string]map[string]Subscription

// Subject fans events out to per-topic subscribers from a single loop.
// The subscriber map is replaced wholesale on every change, so the loop
// reads it without locking.
type Subject struct {
	subscribers atomic.Pointer[subscriberMap]
	nextSubID   atomic.Int64
	delivered   atomic.Int64
	closed      atomic.Bool

	events   chan event
	shutdown chan struct{}
	config   subjectConfig
	wg       sync.WaitGroup
}

// NewSubject creates a Subject and starts its event loop.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize:     512,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		events:   make(chan event, cfg.bufferSize),
		shutdown: make(chan struct{}),
		config:   cfg,
	}
	empty := make(subscriberMap)
	s.subscribers.Store(&empty)

	s.wg.Add(1)
	go s.eventLoop()
	return s
}

// Delivered is the number of events taken off the queue so far.
func (s *Subject) Delivered() int64 {
	return s.delivered.Load()
}

// HasSubscribers reports whether anything listens on topic.
func (s *Subject) HasSubscribers(topic string) bool {
	subs := s.subscribers.Load()
	return len((*subs)[topic]) > 0
}

func (s *Subject) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			s.delivered.Add(1)

			subs := s.subscribers.Load()
			for _, sub := range (*subs)[evt.topic] {
				s.deliver(sub, evt)
			}
		}
	}
}

func (s *Subject) deliver(sub Subscription, evt event) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.handlerTimeout)
		defer cancel()

		if err := sub.Handler(ctx, evt.message); err != nil && s.config.logger != nil {
			s.config.logger.Debug("event handler error",
				"topic", evt.topic,
				"subscription_id", sub.ID,
				"error", err)
		}
	}

	if s.config.syncDelivery {
		run()
		return
	}
	go run()
}

// update applies fn to a private copy of the subscriber map and publishes
// the copy. fn returns false to leave the map untouched.
func (s *Subject) update(fn func(subscriberMap) bool) {
	for {
		current := s.subscribers.Load()
		next := make(subscriberMap, len(*current))
		for topic, subs := range *current {
			next[topic] = maps.Clone(subs)
		}
		if !fn(next) {
			return
		}
		if s.subscribers.CompareAndSwap(current, &next) {
			return
		}
	}
}
