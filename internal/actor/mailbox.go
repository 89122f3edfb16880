// Package actor implements the bounded-mailbox, single-threaded cooperative
// scheduling model described for the node's components (Hopper, Neighborhood,
// ProxyClient, ProxyServer, Accountant, Dispatcher): each component owns a
// mailbox, delivery between components is fire-and-forget, and messages
// from one sender to one recipient are delivered in send order.
//
// Grounded on the channel + sync.RWMutex idioms of the teacher's
// peer_management.go and consensus_network_adapter.go, generalized from
// per-topic pubsub channels to per-component bounded mailboxes.
package actor

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the default mailbox bound. A full mailbox indicates a
// stuck or overwhelmed consumer; the actor system treats it as a fatal
// condition rather than silently dropping or blocking the sender.
const DefaultCapacity = 8192

// Mailbox is a bounded, ordered, single-consumer message queue.
type Mailbox struct {
	name string
	ch   chan any
	log  *logrus.Entry
}

// NewMailbox creates a mailbox with the given capacity (0 selects
// DefaultCapacity).
func NewMailbox(name string, capacity int, log *logrus.Entry) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mailbox{
		name: name,
		ch:   make(chan any, capacity),
		log:  log.WithField("mailbox", name),
	}
}

// Send enqueues msg. A full mailbox is an unrecoverable scheduling failure:
// the process panics rather than blocking the sender or dropping the
// message, matching the "mailbox-full panics the process" invariant.
func (m *Mailbox) Send(msg any) {
	select {
	case m.ch <- msg:
	default:
		m.log.Panicf("mailbox %q is full at capacity %d, message dropped would violate delivery-order guarantee", m.name, cap(m.ch))
	}
}

// Receive returns the channel a consumer ranges over to process messages in
// send order.
func (m *Mailbox) Receive() <-chan any {
	return m.ch
}

// Close stops accepting further sends by closing the underlying channel.
// Callers must ensure no further Send calls race with Close.
func (m *Mailbox) Close() {
	close(m.ch)
}

// Name returns the mailbox's component name, used in panic/log messages and
// by System to address mailboxes by name.
func (m *Mailbox) Name() string { return m.name }

// ErrUnknownMailbox is returned when a System lookup misses.
type ErrUnknownMailbox struct{ Name string }

func (e *ErrUnknownMailbox) Error() string {
	return fmt.Sprintf("actor: no mailbox registered for %q", e.Name)
}
