// Package notify delivers engine events to observers: WebSocket clients,
// Redis channels, a Kafka topic and the log.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"buymax/internal/domain"
	"buymax/internal/observability"
)

// Kind names an event type.
type Kind string

const (
	KindStateChanged  Kind = "state_changed"
	KindBuyObserved   Kind = "buy_observed"
	KindConfigUpdated Kind = "config_updated"
)

// Event is the envelope delivered to every sink.
type Event struct {
	Type Kind        `json:"type"`
	Data interface{} `json:"data"`
}

// Encode returns the JSON wire form of e.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// BuyObserved is the payload of a buy_observed event.
type BuyObserved struct {
	Wallet    string `json:"wallet"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature,omitempty"`
}

// Sink receives events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// DefaultSinkTimeout bounds each sink delivery.
const DefaultSinkTimeout = 5 * time.Second

// Dispatcher fans events out to sinks in registration order. A failing or
// panicking sink is logged and does not affect the others.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *log.Logger
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithSinkTimeout bounds each sink delivery.
func WithSinkTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		timeout: DefaultSinkTimeout,
		logger:  log.New(os.Stdout, "[notify] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish delivers ev to every sink.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		if err := d.deliver(ctx, s, ev); err != nil {
			observability.RecordNotifyError(s.Name())
			d.logger.Printf("Sink %s failed on %s: %v", s.Name(), ev.Type, err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return s.Publish(ctx, ev)
}

// StateChanged publishes the composite engine state.
func (d *Dispatcher) StateChanged(ctx context.Context, state interface{}) {
	d.Publish(ctx, Event{Type: KindStateChanged, Data: state})
}

// BuyObserved publishes one classified buy.
func (d *Dispatcher) BuyObserved(ctx context.Context, ev domain.BuyEvent) {
	d.Publish(ctx, Event{Type: KindBuyObserved, Data: BuyObserved{
		Wallet:    ev.WalletID,
		Timestamp: ev.ObservedAt,
		Signature: ev.Signature,
	}})
}

// ConfigUpdated publishes the sanitized config after a reconfiguration.
func (d *Dispatcher) ConfigUpdated(ctx context.Context, cfg domain.SanitizedConfig) {
	d.Publish(ctx, Event{Type: KindConfigUpdated, Data: cfg})
}

// Close closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
