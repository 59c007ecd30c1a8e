package pubsub

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// countingMetrics records every call as "name:label:label" -> count.
type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
	active int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) inc(parts ...any) {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	m.mu.Lock()
	m.counts[strings.Join(s, ":")]++
	m.mu.Unlock()
}

func (m *countingMetrics) Count(parts ...any) int {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.Join(s, ":")]
}

func (m *countingMetrics) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *countingMetrics) ProvisionDuration() Timer { return NopTimer() }
func (m *countingMetrics) SubscriptionProvisioned(ok bool) {
	m.inc("provisioned", ok)
}
func (m *countingMetrics) SubscriptionDeleted(ok bool) { m.inc("deleted", ok) }
func (m *countingMetrics) ReceiveError()               { m.inc("receive_error") }
func (m *countingMetrics) PublishDuration(string) Timer {
	return NopTimer()
}
func (m *countingMetrics) PublishCompleted(nsp, kind string, ok bool) {
	m.inc("publish", nsp, kind, ok)
}
func (m *countingMetrics) InboundReceived(nsp string) { m.inc("received", nsp) }
func (m *countingMetrics) InboundDelivered(nsp, kind string) {
	m.inc("delivered", nsp, kind)
}
func (m *countingMetrics) InboundDropped(nsp, reason string) {
	m.inc("dropped", nsp, reason)
}
func (m *countingMetrics) DuplicateDelivery(nsp string) { m.inc("duplicate", nsp) }
func (m *countingMetrics) AdaptersActive(n int) {
	m.mu.Lock()
	m.active = n
	m.mu.Unlock()
}

var _ Metrics = (*countingMetrics)(nil)

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	require.NotPanics(t, func() {
		m.ProvisionDuration().ObserveDuration()
		m.SubscriptionProvisioned(true)
		m.SubscriptionDeleted(false)
		m.ReceiveError()
		m.PublishDuration(KindBroadcast).ObserveDuration()
		m.PublishCompleted("/", KindResponse, true)
		m.InboundReceived("/")
		m.InboundDelivered("/", KindBroadcast)
		m.InboundDropped("/", DropSelf)
		m.DuplicateDelivery("/")
		m.AdaptersActive(3)
	})
}
