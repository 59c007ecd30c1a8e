// Package cluster defines the contract between a socket server's cluster
// adapter state machine and the transport that carries its traffic.
//
// The state machine produces two kinds of frames:
//
//   - [Message]: a broadcast every other node serving the namespace receives
//   - [Response]: a reply addressed to the single node that issued a request
//
// It sends them through a [Transport] and receives them through a [Handler].
// Transports treat the Data of a frame as opaque and never inspect it; routing
// only ever looks at the namespace, the sender and, for responses, the
// requester.
//
// # Message Types
//
// [MessageType] enumerates the request kinds of the socket.io cluster
// protocol (heartbeats, room joins, fetches, server side emits and so on).
// The transport does not interpret them; they are carried for the handler.
//
// # Testing
//
// [Recorder] is a [Handler] that keeps everything it receives, which is what
// most transport tests need:
//
//	rec := cluster.NewRecorder()
//	a, _ := factory.New("/", rec)
//	...
//	<-rec.Received()
//	msgs := rec.Messages()
package cluster
