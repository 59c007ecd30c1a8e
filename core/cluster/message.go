package cluster

type (
	// ServerID identifies one cluster adapter instance (one namespace on one node).
	ServerID = string

	// Offset is the provider receipt for a published message.
	Offset = string
)

// MessageType is the kind of cluster message exchanged between adapters.
type MessageType int

const (
	MsgInitialHeartbeat MessageType = iota + 1
	MsgHeartbeat
	MsgBroadcast
	MsgSocketsJoin
	MsgSocketsLeave
	MsgDisconnectSockets
	MsgFetchSockets
	MsgFetchSocketsResponse
	MsgServerSideEmit
	MsgServerSideEmitResponse
	MsgBroadcastClientCount
	MsgBroadcastAck
	MsgAdapterClose
)

var messageTypeNames = map[MessageType]string{
	MsgInitialHeartbeat:       "initial_heartbeat",
	MsgHeartbeat:              "heartbeat",
	MsgBroadcast:              "broadcast",
	MsgSocketsJoin:            "sockets_join",
	MsgSocketsLeave:           "sockets_leave",
	MsgDisconnectSockets:      "disconnect_sockets",
	MsgFetchSockets:           "fetch_sockets",
	MsgFetchSocketsResponse:   "fetch_sockets_response",
	MsgServerSideEmit:         "server_side_emit",
	MsgServerSideEmitResponse: "server_side_emit_response",
	MsgBroadcastClientCount:   "broadcast_client_count",
	MsgBroadcastAck:           "broadcast_ack",
	MsgAdapterClose:           "adapter_close",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Message is a broadcast produced by the cluster adapter state machine.
// Transports carry it as an opaque value and never look into Data.
type Message struct {
	UID  ServerID    `msgpack:"uid" json:"uid"`
	NSP  string      `msgpack:"nsp" json:"nsp"`
	Type MessageType `msgpack:"type" json:"type"`
	Data any         `msgpack:"data,omitempty" json:"data,omitempty"`
}

// Response is a reply to a single requester. The requester is addressed by
// transport metadata, not by anything inside the response.
type Response struct {
	UID  ServerID    `msgpack:"uid" json:"uid"`
	NSP  string      `msgpack:"nsp" json:"nsp"`
	Type MessageType `msgpack:"type" json:"type"`
	Data any         `msgpack:"data,omitempty" json:"data,omitempty"`
}
