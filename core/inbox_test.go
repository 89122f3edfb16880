package core

import (
	"context"
	"testing"

	"github.com/substratum-mix/hopper/internal/actor"
)

func TestActorInboxDeliversToNamedMailboxes(t *testing.T) {
	system := actor.NewSystem(nil)
	noop := func(context.Context, any) error { return nil }

	proxyClient := system.Register("ProxyClient", 4, noop)
	proxyServer := system.Register("ProxyServer", 4, noop)
	dnsFailure := system.Register("ProxyServer.dns_failure", 4, noop)
	neighborhood := system.Register("Neighborhood", 4, noop)
	hopper := system.Register("Hopper", 4, noop)

	inbox := NewActorInbox(system, "Hopper")

	pkg := ExpiredCoresPackage{Payload: ClientRequestMessage{Payload: []byte("x")}}
	inbox.DeliverProxyClient(pkg)
	inbox.DeliverProxyServer(pkg)
	inbox.DeliverProxyServerDNSFailure(pkg)
	inbox.DeliverNeighborhood(pkg)
	inbox.ReinjectHopper(InboundClientData{LastData: true})

	if got := <-proxyClient.Receive(); got.(ExpiredCoresPackage).Payload == nil {
		t.Fatal("DeliverProxyClient did not reach the ProxyClient mailbox")
	}
	if got := <-proxyServer.Receive(); got.(ExpiredCoresPackage).Payload == nil {
		t.Fatal("DeliverProxyServer did not reach the ProxyServer mailbox")
	}
	if got := <-dnsFailure.Receive(); got.(ExpiredCoresPackage).Payload == nil {
		t.Fatal("DeliverProxyServerDNSFailure did not reach the dns_failure mailbox")
	}
	if got := <-neighborhood.Receive(); got.(ExpiredCoresPackage).Payload == nil {
		t.Fatal("DeliverNeighborhood did not reach the Neighborhood mailbox")
	}
	if got := <-hopper.Receive(); !got.(InboundClientData).LastData {
		t.Fatal("ReinjectHopper did not reach the Hopper mailbox")
	}
}

func TestActorInboxSilentlyDropsOnUnregisteredMailbox(t *testing.T) {
	system := actor.NewSystem(nil)
	inbox := NewActorInbox(system, "Hopper")

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("delivering to an unregistered mailbox panicked: %v", r)
		}
	}()
	inbox.DeliverNeighborhood(ExpiredCoresPackage{})
}
