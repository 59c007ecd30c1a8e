package cluster

import (
	"sync"
)

// Recorder is a Handler that keeps everything it receives. Safe for
// concurrent use; meant for tests and demos.
type Recorder struct {
	mu        sync.Mutex
	messages  []Message
	responses []Response
	notify    chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) OnMessage(msg Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) OnResponse(resp Response) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Received is signalled (coalesced) whenever a frame is recorded.
func (r *Recorder) Received() <-chan struct{} { return r.notify }

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *Recorder) Responses() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Response(nil), r.responses...)
}

var _ Handler = (*Recorder)(nil)
