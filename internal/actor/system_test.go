package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSystemMailboxLookupUnknownReturnsError(t *testing.T) {
	s := NewSystem(nil)
	if _, err := s.Mailbox("ghost"); err == nil {
		t.Fatal("Mailbox lookup on an unregistered name succeeded")
	} else if _, ok := err.(*ErrUnknownMailbox); !ok {
		t.Fatalf("error type = %T, want *ErrUnknownMailbox", err)
	}
}

func TestSystemMailboxLookupReturnsRegisteredMailbox(t *testing.T) {
	s := NewSystem(nil)
	registered := s.Register("hopper", 4, func(context.Context, any) error { return nil })

	got, err := s.Mailbox("hopper")
	if err != nil {
		t.Fatalf("Mailbox: %v", err)
	}
	if got != registered {
		t.Fatal("Mailbox returned a different instance than Register produced")
	}
}

func TestSystemRunDeliversMessagesInOrderThenShutsDown(t *testing.T) {
	s := NewSystem(nil)
	var mu sync.Mutex
	var received []int

	mb := s.Register("worker", 4, func(_ context.Context, msg any) error {
		mu.Lock()
		received = append(received, msg.(int))
		mu.Unlock()
		return nil
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	for _, v := range []int{1, 2, 3} {
		mb.Send(v)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all messages to be handled")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned %v after Shutdown, want nil", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 || received[0] != 1 || received[1] != 2 || received[2] != 3 {
		t.Fatalf("received = %v, want [1 2 3] in order", received)
	}
}

func TestSystemRunPropagatesHandlerErrorAndCancelsSiblings(t *testing.T) {
	s := NewSystem(nil)
	boom := errors.New("boom")

	failing := s.Register("failing", 1, func(context.Context, any) error {
		return boom
	})

	var quietHandled int32
	quiet := s.Register("quiet", 4, func(ctx context.Context, msg any) error {
		quietHandled++
		<-ctx.Done()
		return nil
	})
	_ = quiet

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	failing.Send("trigger")

	select {
	case err := <-runErr:
		if !errors.Is(err, boom) {
			t.Fatalf("Run error = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a handler error")
	}
}
