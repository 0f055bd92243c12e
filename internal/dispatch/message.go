// Package dispatch moves event notifications raised on arbitrary goroutines
// onto a single serialized worker.
//
// Submit copies the caller's payload into an owned block, enqueues it on a
// bounded FIFO and returns immediately or after a short bounded wait. The
// worker delivers messages in submission order, one at a time, and releases
// each payload block after its handler returns.
package dispatch

import (
	"github.com/tphakala/btsink/internal/bufferpool"
)

// Signal identifies the kind of work carried by a message.
type Signal uint8

const (
	// SignalWorkDispatch asks the worker to invoke the message handler.
	SignalWorkDispatch Signal = 1
)

func (s Signal) String() string {
	if s == SignalWorkDispatch {
		return "work_dispatch"
	}
	return "unknown"
}

// EventID is the opaque event identifier passed through to handlers.
type EventID uint16

// Handler processes one event on the dispatcher worker.
type Handler interface {
	HandleEvent(event EventID, payload *Payload)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(event EventID, payload *Payload)

// HandleEvent calls f(event, payload).
func (f HandlerFunc) HandleEvent(event EventID, payload *Payload) {
	f(event, payload)
}

// NamedHandler is implemented by handlers that want a stable name in logs and
// metrics.
type NamedHandler interface {
	Handler
	Name() string
}

func handlerName(h Handler) string {
	if n, ok := h.(NamedHandler); ok {
		return n.Name()
	}
	return "handler"
}

// CopyFunc deep-copies src into dst. It runs on the submitting goroutine after
// the raw bytes have been copied into dst, and may attach a record carrying
// nested owned resources with SetRecord. Releasing nested resources is the
// handler's job. If the message never reaches its handler, a record that
// implements Releaser is released by the dispatcher.
type CopyFunc func(dst *Payload, src []byte) error

// Releaser is implemented by records that own resources beyond the payload
// block.
type Releaser interface {
	Release()
}

// PayloadKind tags the contents of a Payload.
type PayloadKind uint8

const (
	KindNone   PayloadKind = iota // no payload
	KindBytes                     // owned copy of the submitted bytes
	KindRecord                    // record populated by a copy function
)

func (k PayloadKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindRecord:
		return "record"
	default:
		return "none"
	}
}

// Payload is the owned data attached to a message. It is valid only for the
// duration of the handler call.
type Payload struct {
	kind   PayloadKind
	block  *bufferpool.Block
	record any
}

// Kind reports what the payload carries.
func (p *Payload) Kind() PayloadKind {
	if p == nil {
		return KindNone
	}
	return p.kind
}

// Bytes returns the copied payload bytes, or nil when there is no block.
func (p *Payload) Bytes() []byte {
	if p == nil || p.block == nil {
		return nil
	}
	return p.block.Bytes()
}

// Len returns the payload block size.
func (p *Payload) Len() int {
	if p == nil || p.block == nil {
		return 0
	}
	return p.block.Len()
}

// Record returns the record attached by a copy function or SubmitRecord.
func (p *Payload) Record() any {
	if p == nil {
		return nil
	}
	return p.record
}

// SetRecord attaches a deep-copied record and marks the payload as KindRecord.
func (p *Payload) SetRecord(r any) {
	p.record = r
	p.kind = KindRecord
}

// release frees the top-level block. Nested record resources are untouched.
func (p *Payload) release() error {
	if p == nil || p.block == nil {
		return nil
	}
	err := p.block.Release()
	p.block = nil
	return err
}

// Message is one unit of work on the dispatcher queue.
type Message struct {
	Signal  Signal
	Event   EventID
	Handler Handler
	Payload *Payload
}
