package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// LiveHop is the addressing envelope for one hop (spec §3): the next node's
// public key, an optional consuming wallet (payment-intent gate, spec §9),
// and which local component the payload is ultimately addressed to.
type LiveHop struct {
	PublicKey        PublicKey
	ConsumingWallet  *Wallet
	Component        Component
}

type wireLiveHop struct {
	PublicKey       PublicKey `json:"public_key"`
	ConsumingWallet *Wallet   `json:"consuming_wallet,omitempty"`
	Component       Component `json:"component"`
}

func (h LiveHop) marshal() ([]byte, error) {
	return json.Marshal(wireLiveHop{PublicKey: h.PublicKey, ConsumingWallet: h.ConsumingWallet, Component: h.Component})
}

func unmarshalLiveHop(data []byte) (LiveHop, error) {
	var w wireLiveHop
	if err := json.Unmarshal(data, &w); err != nil {
		return LiveHop{}, err
	}
	return LiveHop{PublicKey: w.PublicKey, ConsumingWallet: w.ConsumingWallet, Component: w.Component}, nil
}

// Route is an ordered sequence of encrypted hop layers (spec §3). hops[i]
// is a CryptData encrypting the LiveHop for whichever node must read it.
type Route struct {
	Hops []CryptData
}

// ErrEmptyRoute is returned when a peel is attempted on a route with no
// remaining hops (spec §7).
var ErrEmptyRoute = errors.New("cores_package: route is empty")

// NextHop decrypts and deserializes hops[0] using cryptde's private key,
// without consuming the route (spec §4.6 step 2, "peek next hop").
func (r Route) NextHop(cryptde CryptDE) (LiveHop, error) {
	if len(r.Hops) == 0 {
		return LiveHop{}, ErrEmptyRoute
	}
	plain, err := cryptde.Decode(r.Hops[0])
	if err != nil {
		return LiveHop{}, fmt.Errorf("cores_package: decode hop: %w", err)
	}
	return unmarshalLiveHop(plain)
}

// Shift returns a new Route with the first (now-consumed) hop removed
// (spec §3: "Shifting a route removes its first hop").
func (r Route) Shift() Route {
	if len(r.Hops) == 0 {
		return r
	}
	return Route{Hops: append([]CryptData(nil), r.Hops[1:]...)}
}

// LiveCoresPackage is {route, payload}; payload stays encrypted under the
// ultimate recipient's key until the final hop expires it (spec §3).
type LiveCoresPackage struct {
	Route   Route
	Payload CryptData
}

type wireLiveCoresPackage struct {
	Route   wireRoute `json:"route"`
	Payload CryptData `json:"payload"`
}

type wireRoute struct {
	Hops []CryptData `json:"hops"`
}

// Serialize renders the canonical on-wire object serialization described in
// spec §6.
func (p LiveCoresPackage) Serialize() ([]byte, error) {
	return json.Marshal(wireLiveCoresPackage{Route: wireRoute{Hops: p.Route.Hops}, Payload: p.Payload})
}

// DeserializeLiveCoresPackage parses spec §6's wire format.
func DeserializeLiveCoresPackage(data []byte) (LiveCoresPackage, error) {
	var w wireLiveCoresPackage
	if err := json.Unmarshal(data, &w); err != nil {
		return LiveCoresPackage{}, err
	}
	return LiveCoresPackage{Route: Route{Hops: w.Route.Hops}, Payload: w.Payload}, nil
}

// ToNextLive peels one route layer, returning the hop just read and a new
// package whose route has had that hop shifted off; the payload is
// untouched (spec §4.5).
func (p LiveCoresPackage) ToNextLive(cryptde CryptDE) (LiveHop, LiveCoresPackage, error) {
	hop, err := p.Route.NextHop(cryptde)
	if err != nil {
		return LiveHop{}, LiveCoresPackage{}, err
	}
	next := LiveCoresPackage{Route: p.Route.Shift(), Payload: p.Payload}
	return hop, next, nil
}

// ExpiredCoresPackage is the fully-decrypted package delivered to a local
// component (spec §3, §4.6.3).
type ExpiredCoresPackage struct {
	ImmediateNeighborIP net.IP
	ConsumingWallet     *Wallet
	RemainingRoute      Route
	Payload             MessageType
	PayloadLen          int
}

// ToExpired peels one route layer like ToNextLive, but also decrypts and
// deserializes the payload into a typed MessageType (spec §4.5).
func (p LiveCoresPackage) ToExpired(immediateNeighborIP net.IP, cryptde CryptDE) (ExpiredCoresPackage, error) {
	hop, remaining, err := p.ToNextLive(cryptde)
	if err != nil {
		return ExpiredCoresPackage{}, err
	}
	plainPayload, err := cryptde.Decode(p.Payload)
	if err != nil {
		return ExpiredCoresPackage{}, fmt.Errorf("cores_package: decode payload: %w", err)
	}
	msg, err := unmarshalMessageType(plainPayload)
	if err != nil {
		return ExpiredCoresPackage{}, fmt.Errorf("cores_package: deserialize payload: %w", err)
	}
	return ExpiredCoresPackage{
		ImmediateNeighborIP: immediateNeighborIP,
		ConsumingWallet:     hop.ConsumingWallet,
		RemainingRoute:      remaining.Route,
		Payload:             msg,
		PayloadLen:          len(plainPayload),
	}, nil
}

// IncipientCoresPackage is what an originator builds before any hop has
// encrypted it: an ordered list of LiveHop{next_key, consuming_wallet,
// next_component} destined to be peeled off one by one (spec §4.5
// from_incipient).
type IncipientCoresPackage struct {
	Hops    []LiveHop
	Payload MessageType
	// TargetForPayload is the public key the payload itself is encrypted
	// for (the ultimate recipient, spec §3).
	TargetForPayload PublicKey
}

// FromIncipient performs the dual construction of spec §4.5: hop i's layer
// is encrypted under hop i's own key (so that node can open it when its
// turn comes), but its content names hop i+1 — what that node should do
// next — rather than itself; only the terminal hop's layer is
// self-descriptive, carrying the real delivery component. This is what lets
// an intermediate node's peek (core/routing_service.go's peekNextHop) see
// "relay to hop i+1" instead of immediately believing it is itself the
// destination.
func FromIncipient(icp IncipientCoresPackage, cryptde CryptDE) (firstHopKey PublicKey, pkg LiveCoresPackage, err error) {
	if len(icp.Hops) == 0 {
		return nil, LiveCoresPackage{}, ErrEmptyRoute
	}
	plainPayload, err := marshalMessageType(icp.Payload)
	if err != nil {
		return nil, LiveCoresPackage{}, err
	}
	encPayload, err := cryptde.Encode(icp.TargetForPayload, PlainData(plainPayload))
	if err != nil {
		return nil, LiveCoresPackage{}, err
	}

	hops := make([]CryptData, 0, len(icp.Hops))
	for i, hop := range icp.Hops {
		content := hop
		if i < len(icp.Hops)-1 {
			next := icp.Hops[i+1]
			content = LiveHop{PublicKey: next.PublicKey, ConsumingWallet: next.ConsumingWallet, Component: ComponentHopper}
		}
		raw, err := content.marshal()
		if err != nil {
			return nil, LiveCoresPackage{}, err
		}
		enc, err := cryptde.Encode(hop.PublicKey, PlainData(raw))
		if err != nil {
			return nil, LiveCoresPackage{}, err
		}
		hops = append(hops, enc)
	}

	return icp.Hops[0].PublicKey, LiveCoresPackage{Route: Route{Hops: hops}, Payload: encPayload}, nil
}
