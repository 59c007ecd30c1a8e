package pubsub

// Drop reasons reported to Metrics.InboundDropped.
const (
	DropSelf             = "self"
	DropForeignTarget    = "foreign_target"
	DropMalformed        = "malformed"
	DropUnknownNamespace = "unknown_namespace"
)

// Publish kinds reported to Metrics.
const (
	KindBroadcast = "broadcast"
	KindResponse  = "response"
)

// Timer measures one operation; call ObserveDuration when it completes.
type Timer interface {
	ObserveDuration()
}

// Metrics instruments the pub/sub transport. All methods are thread-safe.
type Metrics interface {
	// Subscription lifecycle
	ProvisionDuration() Timer
	SubscriptionProvisioned(success bool)
	SubscriptionDeleted(success bool)
	ReceiveError()

	// Outbound
	PublishDuration(kind string) Timer
	PublishCompleted(nsp, kind string, success bool)

	// Inbound
	InboundReceived(nsp string)
	InboundDelivered(nsp, kind string)
	InboundDropped(nsp, reason string)
	DuplicateDelivery(nsp string)

	AdaptersActive(count int)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }

type nopMetrics struct{}

func (nopMetrics) ProvisionDuration() Timer    { return nopTimer{} }
func (nopMetrics) SubscriptionProvisioned(bool) {}
func (nopMetrics) SubscriptionDeleted(bool)     {}
func (nopMetrics) ReceiveError()                {}

func (nopMetrics) PublishDuration(string) Timer          { return nopTimer{} }
func (nopMetrics) PublishCompleted(string, string, bool) {}

func (nopMetrics) InboundReceived(string)          {}
func (nopMetrics) InboundDelivered(string, string) {}
func (nopMetrics) InboundDropped(string, string)   {}
func (nopMetrics) DuplicateDelivery(string)        {}

func (nopMetrics) AdaptersActive(int) {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
