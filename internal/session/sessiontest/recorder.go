// Package sessiontest provides an in-memory session.Conn for tests.
package sessiontest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/park285/cheese-relay/internal/protocol"
)

var ErrClosed = errors.New("recorder closed")

// Recorder records every envelope sent to it.
type Recorder struct {
	id string

	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
}

func NewRecorder(id string) *Recorder { return &Recorder{id: id} }

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.sent = append(r.sent, env)
	return nil
}

// Close makes further sends fail.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Sent returns a copy of the recorded envelopes.
func (r *Recorder) Sent() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Envelope, len(r.sent))
	copy(out, r.sent)
	return out
}

// Types returns the envelope types in send order.
func (r *Recorder) Types() []protocol.Type {
	sent := r.Sent()
	out := make([]protocol.Type, 0, len(sent))
	for _, env := range sent {
		out = append(out, env.Type)
	}
	return out
}

// Count returns how many envelopes of type t were sent.
func (r *Recorder) Count(t protocol.Type) int {
	n := 0
	for _, typ := range r.Types() {
		if typ == t {
			n++
		}
	}
	return n
}

// Last decodes the payload of the most recent envelope of type t into v and
// reports whether one was found.
func (r *Recorder) Last(t protocol.Type, v any) bool {
	sent := r.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Type != t {
			continue
		}
		if v != nil && len(sent[i].Payload) > 0 {
			if err := json.Unmarshal(sent[i].Payload, v); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

// Reset forgets recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
