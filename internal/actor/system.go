package actor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler processes one message pulled off a Mailbox. Handlers run to
// completion without preemption; any blocking I/O inside a handler must
// respect ctx so System.Shutdown can cancel outstanding work.
type Handler func(ctx context.Context, msg any) error

// System owns the full set of component mailboxes and runs one goroutine per
// mailbox, each draining its channel in order and invoking the registered
// handler. This is the concurrency substrate every component (Hopper,
// Neighborhood, ProxyClient, ProxyServer, Accountant, Dispatcher,
// BlockchainBridge) runs inside.
//
// Grounded on the teacher's errgroup-free goroutine-per-subscription
// pattern in consensus_network_adapter.go, generalized with
// golang.org/x/sync/errgroup for coordinated shutdown across every
// component at once.
type System struct {
	mu       sync.RWMutex
	mailboxes map[string]*Mailbox
	handlers  map[string]Handler

	log *logrus.Entry
	grp *errgroup.Group
	ctx context.Context
	cancel context.CancelFunc
}

// NewSystem builds an empty actor System.
func NewSystem(log *logrus.Entry) *System {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &System{
		mailboxes: make(map[string]*Mailbox),
		handlers:  make(map[string]Handler),
		log:       log.WithField("component", "ActorSystem"),
	}
}

// Register wires a named mailbox to the handler that will consume it. Must
// be called before Run.
func (s *System) Register(name string, capacity int, handler Handler) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := NewMailbox(name, capacity, s.log)
	s.mailboxes[name] = mb
	s.handlers[name] = handler
	return mb
}

// Mailbox looks up a previously registered mailbox by name, for components
// that need to hand the other a reference to send into (e.g. RoutingService
// sending into ProxyClient's mailbox).
func (s *System) Mailbox(name string) (*Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.mailboxes[name]
	if !ok {
		return nil, &ErrUnknownMailbox{Name: name}
	}
	return mb, nil
}

// Run starts one consumer goroutine per registered mailbox and blocks until
// ctx is cancelled or a handler returns a non-nil error, at which point
// every other consumer is cancelled too (errgroup semantics).
func (s *System) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	grp, grpCtx := errgroup.WithContext(runCtx)
	s.grp = grp

	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, mb := range s.mailboxes {
		name, mb := name, mb
		handler := s.handlers[name]
		grp.Go(func() error {
			return s.drain(grpCtx, mb, handler)
		})
	}
	return grp.Wait()
}

func (s *System) drain(ctx context.Context, mb *Mailbox, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-mb.Receive():
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				s.log.WithField("mailbox", mb.Name()).Errorf("handler error: %v", err)
				return err
			}
		}
	}
}

// Shutdown cancels every consumer goroutine and waits for the current
// message in flight on each mailbox to finish. Messages still queued in a
// mailbox when the context is cancelled are not handled.
func (s *System) Shutdown() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.grp.Wait()
}
