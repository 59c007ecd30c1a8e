package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CreateTestFactory returns a factory on topic that is already provisioned.
// Its receive loop ends with the test.
func CreateTestFactory(t *testing.T, topic Topic, opts Options) *Factory {
	f, err := NewFactory(t.Context(), topic, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	select {
	case <-f.Ready():
	case <-ctx.Done():
		t.Fatalf("subscription %s not provisioned: %v", f.SubscriptionName(), f.Err())
	}
	return f
}
