package pubsub

import (
	"errors"

	"github.com/codewandler/clstr-pubsub/core/codec"
)

var (
	// Lifecycle errors, only observable through logs, metrics and Factory.Err.
	ErrProvisioningFailure = errors.New("subscription provisioning failed")
	ErrTeardownFailure     = errors.New("subscription teardown failed")

	// Send errors
	ErrPublishFailed = errors.New("publish failed")

	// Receive errors
	ErrMalformedPayload = codec.ErrMalformedPayload

	// Usage errors
	ErrAdapterClosed       = errors.New("adapter closed")
	ErrFactoryClosed       = errors.New("factory closed")
	ErrNamespaceRegistered = errors.New("namespace already registered")
	ErrHandlerRequired     = errors.New("handler is required")

	// Provider errors
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
