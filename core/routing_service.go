package core

import (
	"net"

	"github.com/sirupsen/logrus"
)

// InboundClientData is what Dispatcher hands to RoutingService for every
// clandestine packet read off the wire (spec §4.6).
type InboundClientData struct {
	PeerAddr net.IP
	Data     CryptData
	LastData bool
}

// TransmitDataMsg is what RoutingService hands back to Dispatcher for
// outbound relay (spec §4.6.1).
type TransmitDataMsg struct {
	Endpoint PublicKey
	Data     CryptData
	LastData bool
}

// RoutingServiceProvidedEvent and ExitServiceProvidedEvent are the two
// metering events RoutingService emits toward the accountant (spec §4.7).
type RoutingServiceProvidedEvent struct {
	ConsumingWallet Wallet
	PayloadSize     int
	ServiceRate     uint64
	ByteRate        uint64
}

type ExitServiceProvidedEvent struct {
	ConsumingWallet Wallet
	PayloadSize     int
	ServiceRate     uint64
	ByteRate        uint64
}

// Accountant is the narrow seam RoutingService needs; the full accountant
// (payable curve, settlement bridge) lives in accountant.go.
type Accountant interface {
	ReportRoutingServiceProvided(RoutingServiceProvidedEvent)
	ReportExitServiceProvided(ExitServiceProvidedEvent)
}

// Dispatcher is the narrow seam RoutingService needs for external relay.
type Dispatcher interface {
	Transmit(TransmitDataMsg)
}

// LocalDeliveryOutcome names which mailbox an expired package was routed to
// (spec §4.6.3), so callers/tests can assert on it without a full actor
// substrate.
type LocalDeliveryOutcome int

const (
	DeliveredNowhere LocalDeliveryOutcome = iota
	DeliveredProxyClient
	DeliveredProxyServer
	DeliveredProxyServerDNSFailure
	DeliveredNeighborhood
)

// Inbox receives deliveries and loop-back re-injections; a real node backs
// this with the bounded actor mailboxes of internal/actor, tests back it
// with a plain slice.
type Inbox interface {
	DeliverProxyClient(ExpiredCoresPackage)
	DeliverProxyServer(ExpiredCoresPackage)
	DeliverProxyServerDNSFailure(ExpiredCoresPackage)
	DeliverNeighborhood(ExpiredCoresPackage)
	ReinjectHopper(InboundClientData)
}

// RoutingService is the central state machine (spec §4.6): decode, peek,
// admit, dispatch. Grounded on original_source's routing_service.rs
// control flow (route/route_data/is_destined_for_here/
// route_data_internally/route_data_around_again/
// route_data_to_peripheral_component/route_data_externally).
type RoutingService struct {
	cryptde         CryptDE
	isBootstrapNode bool
	perRoutingByte  uint64
	perRoutingService uint64

	accountant Accountant
	dispatcher Dispatcher
	inbox      Inbox

	log *logrus.Entry
}

// NewRoutingService wires a RoutingService to its collaborators.
func NewRoutingService(cryptde CryptDE, isBootstrapNode bool, perRoutingService, perRoutingByte uint64, accountant Accountant, dispatcher Dispatcher, inbox Inbox, log *logrus.Entry) *RoutingService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RoutingService{
		cryptde:           cryptde,
		isBootstrapNode:   isBootstrapNode,
		perRoutingService: perRoutingService,
		perRoutingByte:    perRoutingByte,
		accountant:        accountant,
		dispatcher:        dispatcher,
		inbox:             inbox,
		log:               log.WithField("component", "RoutingService"),
	}
}

// Route is the single entry point invoked for every InboundClientData (spec
// §4.6 steps 1-4). It never returns an error to the caller: every failure
// mode is logged and the packet is dropped in place, per spec §7's policy
// that routing errors never produce a reply (anonymity preservation).
func (rs *RoutingService) Route(icd InboundClientData) LocalDeliveryOutcome {
	pkg, ok := rs.decode(icd)
	if !ok {
		return DeliveredNowhere
	}

	nextHop, ok := rs.peekNextHop(pkg, len(icd.Data))
	if !ok {
		return DeliveredNowhere
	}

	if !rs.admit(nextHop, icd.PeerAddr) {
		return DeliveredNowhere
	}

	destinedForSelf := nextHop.PublicKey.Equal(rs.cryptde.PublicKey())
	switch {
	case nextHop.Component == ComponentHopper && !destinedForSelf:
		rs.relayExternally(pkg, nextHop, icd, len(pkg.Payload))
		return DeliveredNowhere
	case nextHop.Component == ComponentHopper && destinedForSelf:
		rs.loopBack(pkg, icd)
		return DeliveredNowhere
	default:
		return rs.deliverLocally(pkg, icd)
	}
}

func (rs *RoutingService) decode(icd InboundClientData) (LiveCoresPackage, bool) {
	plain, err := rs.cryptde.Decode(icd.Data)
	if err != nil {
		rs.log.Errorf("Invalid %d-byte CORES package: %v", len(icd.Data), err)
		return LiveCoresPackage{}, false
	}
	pkg, err := DeserializeLiveCoresPackage(plain)
	if err != nil {
		rs.log.Errorf("Invalid %d-byte CORES package: %v", len(icd.Data), err)
		return LiveCoresPackage{}, false
	}
	return pkg, true
}

func (rs *RoutingService) peekNextHop(pkg LiveCoresPackage, byteLen int) (LiveHop, bool) {
	hop, err := pkg.Route.NextHop(rs.cryptde)
	if err != nil {
		rs.log.Errorf("Invalid %d-byte CORES package: %v", byteLen, err)
		return LiveHop{}, false
	}
	return hop, true
}

// admit implements spec §4.6 step 3: ProxyClient/ProxyServer/Hopper traffic
// is rejected at a bootstrap node; Neighborhood is always admitted.
func (rs *RoutingService) admit(nextHop LiveHop, peer net.IP) bool {
	if !rs.isBootstrapNode || nextHop.Component == ComponentNeighborhood {
		return true
	}
	if nextHop.Component == ComponentProxyClient || nextHop.Component == ComponentProxyServer || nextHop.Component == ComponentHopper {
		rs.log.Errorf("Request from %s for Bootstrap Node to route data to %s: rejected", peer, nextHop.Component)
		return false
	}
	return true
}

// relayExternally implements spec §4.6.1.
func (rs *RoutingService) relayExternally(pkg LiveCoresPackage, nextHop LiveHop, icd InboundClientData, payloadSize int) {
	if nextHop.ConsumingWallet == nil {
		rs.log.Errorf("Refusing to route CORES package with %d-byte payload without consuming wallet", payloadSize)
		return
	}

	rs.accountant.ReportRoutingServiceProvided(RoutingServiceProvidedEvent{
		ConsumingWallet: *nextHop.ConsumingWallet,
		PayloadSize:     payloadSize,
		ServiceRate:     rs.perRoutingService,
		ByteRate:        rs.perRoutingByte,
	})

	_, peeled, err := pkg.ToNextLive(rs.cryptde)
	if err != nil {
		rs.log.Errorf("Invalid %d-byte CORES package: %v", len(icd.Data), err)
		return
	}
	serialized, err := peeled.Serialize()
	if err != nil {
		// OQ-3: outbound serialize failures are treated like inbound ones.
		rs.log.Errorf("Couldn't serialize CORES package for relay to %s: %v", formatEndpoint(nextHop.PublicKey), err)
		return
	}
	encrypted, err := rs.cryptde.Encode(nextHop.PublicKey, PlainData(serialized))
	if err != nil {
		rs.log.Errorf("Couldn't encrypt CORES package for relay to %s: %v", formatEndpoint(nextHop.PublicKey), err)
		return
	}
	rs.dispatcher.Transmit(TransmitDataMsg{
		Endpoint: nextHop.PublicKey,
		Data:     encrypted,
		LastData: icd.LastData,
	})
}

// loopBack implements spec §4.6.2: re-encrypt the peeled package to our own
// key and re-inject it as a fresh inbound packet.
func (rs *RoutingService) loopBack(pkg LiveCoresPackage, icd InboundClientData) {
	_, peeled, err := pkg.ToNextLive(rs.cryptde)
	if err != nil {
		rs.log.Errorf("Invalid %d-byte CORES package: %v", len(icd.Data), err)
		return
	}
	serialized, err := peeled.Serialize()
	if err != nil {
		rs.log.Errorf("Couldn't serialize CORES package for loop-back: %v", err)
		return
	}
	encrypted, err := rs.cryptde.Encode(rs.cryptde.PublicKey(), PlainData(serialized))
	if err != nil {
		rs.log.Errorf("Couldn't encrypt CORES package for loop-back: %v", err)
		return
	}
	rs.inbox.ReinjectHopper(InboundClientData{
		PeerAddr: icd.PeerAddr,
		Data:     encrypted,
		LastData: icd.LastData,
	})
}

// deliverLocally implements spec §4.6.3: expire the package and route by
// (component, MessageType) combination.
func (rs *RoutingService) deliverLocally(pkg LiveCoresPackage, icd InboundClientData) LocalDeliveryOutcome {
	expired, err := pkg.ToExpired(icd.PeerAddr, rs.cryptde)
	if err != nil {
		rs.log.Errorf("Couldn't expire CORES package with %d-byte payload: %v", len(icd.Data), err)
		return DeliveredNowhere
	}

	nextHop, err := pkg.Route.NextHop(rs.cryptde)
	if err != nil {
		// Already peeked successfully once in Route(); this branch is
		// unreachable in practice but kept defensive against future
		// reordering of the two peels.
		rs.log.Errorf("Invalid %d-byte CORES package: %v", len(icd.Data), err)
		return DeliveredNowhere
	}

	switch payload := expired.Payload.(type) {
	case ClientRequestMessage:
		if nextHop.Component == ComponentProxyClient {
			rs.maybeReportExit(nextHop, len(pkg.Payload))
			rs.inbox.DeliverProxyClient(expired)
			return DeliveredProxyClient
		}
	case ClientResponseMessage:
		if nextHop.Component == ComponentProxyServer {
			rs.inbox.DeliverProxyServer(expired)
			return DeliveredProxyServer
		}
	case DnsResolveFailedMessage:
		if nextHop.Component == ComponentProxyServer {
			rs.inbox.DeliverProxyServerDNSFailure(expired)
			return DeliveredProxyServerDNSFailure
		}
	case GossipMessage:
		if nextHop.Component == ComponentNeighborhood {
			rs.inbox.DeliverNeighborhood(expired)
			return DeliveredNeighborhood
		}
		_ = payload
	}

	rs.log.Errorf("Attempt to send invalid combination %T to %s", expired.Payload, nextHop.Component)
	return DeliveredNowhere
}

// maybeReportExit emits an exit-service metering event when the delivered
// hop also carries a consuming wallet, i.e. this node is the exit node for
// the route (spec §4.7).
func (rs *RoutingService) maybeReportExit(nextHop LiveHop, payloadSize int) {
	if nextHop.ConsumingWallet == nil {
		return
	}
	rs.accountant.ReportExitServiceProvided(ExitServiceProvidedEvent{
		ConsumingWallet: *nextHop.ConsumingWallet,
		PayloadSize:     payloadSize,
		ServiceRate:     rs.perRoutingService,
		ByteRate:        rs.perRoutingByte,
	})
}
