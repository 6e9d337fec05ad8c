// Package metrics holds the Prometheus collectors shared by the binaries.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pickupbox"

const (
	OutcomeParsed    = "parsed"
	OutcomeUnparsed  = "unparsed"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	messages    *prometheus.CounterVec
	fields      *prometheus.CounterVec
	created     prometheus.Counter
	collected   prometheus.Counter
	ingested    *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Courier messages run through the extractor, by outcome.",
		}, []string{"outcome"}),
		fields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_extracted_total",
			Help:      "Fields extracted from messages, by field name.",
		}, []string{"field"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_created_total",
			Help:      "Package records created.",
		}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_collected_total",
			Help:      "Package records marked as collected.",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "SMS messages consumed from Kafka, by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected by the rate limiter.",
		}),
	}

	for _, c := range []prometheus.Collector{m.messages, m.fields, m.created, m.collected, m.ingested, m.rateLimited} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) MessageParsed(trackingID, pickupCode, pickupLocation bool) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(OutcomeParsed).Inc()
	if trackingID {
		m.fields.WithLabelValues("tracking_id").Inc()
	}
	if pickupCode {
		m.fields.WithLabelValues("pickup_code").Inc()
	}
	if pickupLocation {
		m.fields.WithLabelValues("pickup_location").Inc()
	}
}

func (m *Metrics) MessageUnparsed() {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(OutcomeUnparsed).Inc()
}

func (m *Metrics) PackageCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *Metrics) PackageCollected() {
	if m == nil {
		return
	}
	m.collected.Inc()
}

func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
