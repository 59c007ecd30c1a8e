package cluster

import (
	"context"
)

// Handler is implemented by the cluster adapter state machine and receives
// frames a transport classified as broadcast or response.
type Handler interface {
	OnMessage(msg Message)
	OnResponse(resp Response)
}

// HandlerFuncs adapts two plain functions to a Handler. Nil funcs are ignored.
type HandlerFuncs struct {
	Message  func(Message)
	Response func(Response)
}

func (h HandlerFuncs) OnMessage(msg Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnResponse(resp Response) {
	if h.Response != nil {
		h.Response(resp)
	}
}

// Transport is the send side the cluster adapter state machine drives.
type Transport interface {
	// Init blocks until the transport is able to receive.
	Init(ctx context.Context) error

	// Publish broadcasts msg to every other node and returns the provider receipt.
	Publish(ctx context.Context, msg Message) (Offset, error)

	// PublishResponse sends resp to the node identified by requester.
	PublishResponse(ctx context.Context, requester ServerID, resp Response) error

	Close() error
}

var _ Handler = HandlerFuncs{}
