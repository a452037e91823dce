package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Type string

const (
	BookingFinalized        Type = "booking.finalized"
	BookingCancelled        Type = "booking.cancelled"
	CreditPurchaseFinalized Type = "credit_purchase.finalized"
	CreditPurchaseCancelled Type = "credit_purchase.cancelled"
	PaymentConfirmed        Type = "payment.confirmed"
	RefundReconciled        Type = "refund.reconciled"
	RefundReviewRequired    Type = "refund.review_required"
	CouponUsageRestored     Type = "coupon.usage_restored"
)

// Event is a billing fact published after its transaction commits.
type Event struct {
	Type        Type           `json:"type"`
	EntityType  string         `json:"entity_type"`
	EntityID    int64          `json:"entity_id"`
	UserID      int64          `json:"user_id"`
	AmountCents int64          `json:"amount_cents,omitempty"`
	CouponCode  string         `json:"coupon_code,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func (e Event) key() []byte {
	b, _ := json.Marshal([]any{e.EntityType, e.EntityID})
	return b
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by entity, so all
// events for one booking land on the same partition.
type KafkaPublisher struct {
	Writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaPublisher{Writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msgBytes, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   e.key(),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.Writer.Close() }

// LogPublisher is used when no broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info().
		Str("event_type", string(e.Type)).
		Str("entity_type", e.EntityType).
		Int64("entity_id", e.EntityID).
		Int64("user_id", e.UserID).
		Int64("amount_cents", e.AmountCents).
		Msg("billing event")
	return nil
}

func (LogPublisher) Close() error { return nil }

// Dispatcher publishes in the background. Delivery failures are logged and
// never reach the caller, whose transaction has already committed.
type Dispatcher struct {
	publisher Publisher
	logger    zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewDispatcher(publisher Publisher, logger zerolog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{publisher: publisher, logger: logger, timeout: timeout, now: time.Now}
}

func (d *Dispatcher) Dispatch(events ...Event) {
	if d == nil || d.publisher == nil {
		return
	}
	for _, e := range events {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = d.now().UTC()
		}
		d.wg.Add(1)
		go func(e Event) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.publisher.Publish(ctx, e); err != nil {
				d.logger.Error().Err(err).
					Str("event_type", string(e.Type)).
					Int64("entity_id", e.EntityID).
					Msg("failed to publish billing event")
			}
		}(e)
	}
}

// Close waits for in-flight publishes and closes the publisher.
func (d *Dispatcher) Close() error {
	if d == nil || d.publisher == nil {
		return nil
	}
	d.wg.Wait()
	return d.publisher.Close()
}

// Recorder collects events in memory; tests and dry runs use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
