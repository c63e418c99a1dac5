// Package events fans verified payment outcomes out to downstream
// subscribers such as structured logs and Prometheus counters.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/billing-gateway/internal/gateway"
)

// Event is one verified payment outcome.
type Event struct {
	Topic       string
	Gateway     string
	Transaction gateway.Transaction
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus dispatches events to all configured notifiers. Notifier failures are
// joined and reported but never abort the dispatch.
type Bus struct {
	Notifiers []Notifier
}

// Emit dispatches the event to all configured notifiers.
func (b *Bus) Emit(ctx context.Context, topic, gatewayName string, tx gateway.Transaction) error {
	if b == nil {
		return nil
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	ev := Event{Topic: topic, Gateway: gatewayName, Transaction: tx}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}

// TopicForStatus maps a canonical transaction status onto an event topic.
func TopicForStatus(status gateway.Status) string {
	switch status {
	case gateway.StatusApproved:
		return TopicPaymentApproved
	case gateway.StatusPending:
		return TopicPaymentPending
	case gateway.StatusRefunded:
		return TopicPaymentRefunded
	case gateway.StatusVoid:
		return TopicPaymentVoided
	default:
		return TopicPaymentRejected
	}
}

// LogNotifier writes each event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("topic", ev.Topic).
		Str("gateway", ev.Gateway).
		Str("client_id", ev.Transaction.ClientID).
		Str("transaction_id", ev.Transaction.TransactionID).
		Str("status", string(ev.Transaction.Status)).
		Str("amount", ev.Transaction.Amount.String()).
		Str("currency", ev.Transaction.Currency).
		Msg("payment event")
	return nil
}

// MetricsNotifier counts emitted events per topic and gateway.
type MetricsNotifier struct {
	Counter *prometheus.CounterVec
}

// NewMetricsNotifier registers the event counter on reg.
func NewMetricsNotifier(reg prometheus.Registerer) MetricsNotifier {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Payment events emitted, labeled by topic and gateway.",
	}, []string{"topic", "gateway"})
	reg.MustRegister(counter)
	return MetricsNotifier{Counter: counter}
}

// Notify implements Notifier.
func (n MetricsNotifier) Notify(_ context.Context, ev Event) error {
	if n.Counter == nil {
		return nil
	}
	n.Counter.WithLabelValues(ev.Topic, ev.Gateway).Inc()
	return nil
}
