package raft

import "github.com/otterlog/otter-raft/pkg/types"

// TimeoutKind names the two timers a node runs.
type TimeoutKind int

const (
	ElectionTimeout TimeoutKind = iota
	HeartbeatTimeout
)

func (k TimeoutKind) String() string {
	switch k {
	case ElectionTimeout:
		return "election"
	case HeartbeatTimeout:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Event is the closed input alphabet of the transition engine.
type Event interface {
	isEvent()
}

// Timeout reports that one of the node's timers fired.
type Timeout struct {
	Kind TimeoutKind
}

// Message delivers a peer RPC (request or response).
type Message struct {
	From types.NodeID
	RPC  RPC
}

// ClientRequest delivers a client read or write.
type ClientRequest struct {
	Client types.ClientID
	Body   RequestBody
}

func (Timeout) isEvent()       {}
func (Message) isEvent()       {}
func (ClientRequest) isEvent() {}

// RequestBody is the client request payload: a read or a write.
type RequestBody interface {
	isRequestBody()
}

// ReadRequest asks for the current state machine snapshot.
type ReadRequest struct{}

// WriteRequest submits a command for replication.
type WriteRequest struct {
	Command []byte
}

func (ReadRequest) isRequestBody()  {}
func (WriteRequest) isRequestBody() {}

// ClientResponse is the closed set of replies to a client request.
type ClientResponse interface {
	isClientResponse()
}

// ReadResponse carries the applied state machine snapshot. It is sent
// only after the leader confirmed it is still the leader via a
// heartbeat quorum for the read's serial.
type ReadResponse struct {
	Snapshot []byte
}

// WriteResponse acknowledges a committed write with its log index.
type WriteResponse struct {
	Index types.Index
}

// RedirectResponse points the client at the current leader, if known.
type RedirectResponse struct {
	Leader types.LeaderRef
}

func (ReadResponse) isClientResponse()     {}
func (WriteResponse) isClientResponse()    {}
func (RedirectResponse) isClientResponse() {}
