package core

import (
	"github.com/substratum-mix/hopper/internal/actor"
)

// actorInbox adapts an actor.System's named mailboxes to the Inbox seam
// RoutingService depends on, so RoutingService itself never imports
// internal/actor directly.
type actorInbox struct {
	system      *actor.System
	hopperName  string
}

// NewActorInbox wires RoutingService's four delivery destinations plus its
// own loop-back mailbox onto an already-registered actor.System.
func NewActorInbox(system *actor.System, hopperMailboxName string) Inbox {
	return &actorInbox{system: system, hopperName: hopperMailboxName}
}

func (a *actorInbox) send(name string, msg any) {
	mb, err := a.system.Mailbox(name)
	if err != nil {
		return
	}
	mb.Send(msg)
}

func (a *actorInbox) DeliverProxyClient(pkg ExpiredCoresPackage) {
	a.send("ProxyClient", pkg)
}

func (a *actorInbox) DeliverProxyServer(pkg ExpiredCoresPackage) {
	a.send("ProxyServer", pkg)
}

func (a *actorInbox) DeliverProxyServerDNSFailure(pkg ExpiredCoresPackage) {
	a.send("ProxyServer.dns_failure", pkg)
}

func (a *actorInbox) DeliverNeighborhood(pkg ExpiredCoresPackage) {
	a.send("Neighborhood", pkg)
}

func (a *actorInbox) ReinjectHopper(icd InboundClientData) {
	a.send(a.hopperName, icd)
}

var _ Inbox = (*actorInbox)(nil)
