package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

// pubsubMetrics implements pubsub.Metrics using Prometheus.
type pubsubMetrics struct {
	provisionDuration prometheus.Histogram
	provisioned       *prometheus.CounterVec
	deleted           *prometheus.CounterVec
	receiveErrors     prometheus.Counter
	publishDuration   *prometheus.HistogramVec
	publishedTotal    *prometheus.CounterVec
	receivedTotal     *prometheus.CounterVec
	deliveredTotal    *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
	duplicatesTotal   *prometheus.CounterVec
	adaptersActive    prometheus.Gauge
}

// NewPubSubMetrics creates the transport metrics and registers them with reg.
func NewPubSubMetrics(reg prometheus.Registerer) pubsub.Metrics {
	m := &pubsubMetrics{
		provisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clstr_pubsub_provision_duration_seconds",
			Help:    "Time to create the process subscription in seconds",
			Buckets: defaultBuckets,
		}),

		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_subscriptions_provisioned_total",
			Help: "Total number of subscription create attempts",
		}, []string{"success"}),

		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_subscriptions_deleted_total",
			Help: "Total number of subscription delete attempts",
		}, []string{"success"}),

		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clstr_pubsub_receive_errors_total",
			Help: "Total number of receive loops that ended with an error",
		}),

		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clstr_pubsub_publish_duration_seconds",
			Help:    "Time until the provider accepted a frame in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_published_total",
			Help: "Total number of published frames",
		}, []string{"nsp", "kind", "success"}),

		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_received_total",
			Help: "Total number of frames received from the subscription",
		}, []string{"nsp"}),

		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_delivered_total",
			Help: "Total number of frames handed to a namespace handler",
		}, []string{"nsp", "kind"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_dropped_total",
			Help: "Total number of frames dropped before the handler",
		}, []string{"nsp", "reason"}),

		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clstr_pubsub_duplicates_total",
			Help: "Total number of frames the provider delivered more than once",
		}, []string{"nsp"}),

		adaptersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clstr_pubsub_adapters_active",
			Help: "Number of open namespace adapters",
		}),
	}

	reg.MustRegister(
		m.provisionDuration,
		m.provisioned,
		m.deleted,
		m.receiveErrors,
		m.publishDuration,
		m.publishedTotal,
		m.receivedTotal,
		m.deliveredTotal,
		m.droppedTotal,
		m.duplicatesTotal,
		m.adaptersActive,
	)

	return m
}

func (m *pubsubMetrics) ProvisionDuration() pubsub.Timer {
	return newTimer(m.provisionDuration)
}

func (m *pubsubMetrics) SubscriptionProvisioned(success bool) {
	m.provisioned.WithLabelValues(boolToStr(success)).Inc()
}

func (m *pubsubMetrics) SubscriptionDeleted(success bool) {
	m.deleted.WithLabelValues(boolToStr(success)).Inc()
}

func (m *pubsubMetrics) ReceiveError() { m.receiveErrors.Inc() }

func (m *pubsubMetrics) PublishDuration(kind string) pubsub.Timer {
	return newTimer(m.publishDuration.WithLabelValues(kind))
}

func (m *pubsubMetrics) PublishCompleted(nsp, kind string, success bool) {
	m.publishedTotal.WithLabelValues(nsp, kind, boolToStr(success)).Inc()
}

func (m *pubsubMetrics) InboundReceived(nsp string) {
	m.receivedTotal.WithLabelValues(nsp).Inc()
}

func (m *pubsubMetrics) InboundDelivered(nsp, kind string) {
	m.deliveredTotal.WithLabelValues(nsp, kind).Inc()
}

func (m *pubsubMetrics) InboundDropped(nsp, reason string) {
	m.droppedTotal.WithLabelValues(nsp, reason).Inc()
}

func (m *pubsubMetrics) DuplicateDelivery(nsp string) {
	m.duplicatesTotal.WithLabelValues(nsp).Inc()
}

func (m *pubsubMetrics) AdaptersActive(count int) {
	m.adaptersActive.Set(float64(count))
}

var _ pubsub.Metrics = (*pubsubMetrics)(nil)
