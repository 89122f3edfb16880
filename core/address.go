package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Wallet is a textual hex address (spec §3); equality is by address string.
type Wallet struct {
	Address string
}

// NewWallet wraps a 0x-prefixed address, rejecting a missing prefix or an
// empty remainder; the characters after the prefix are not checked to be
// hex digits.
func NewWallet(address string) (Wallet, error) {
	if !strings.HasPrefix(address, "0x") || len(address) <= 2 {
		return Wallet{}, fmt.Errorf("wallet: address %q must be 0x-prefixed hex", address)
	}
	return Wallet{Address: address}, nil
}

func (w Wallet) Equal(other Wallet) bool { return w.Address == other.Address }
func (w Wallet) String() string          { return w.Address }
func (w Wallet) IsZero() bool            { return w.Address == "" }

// RatePack holds the four non-negative per-byte/per-service charges a node
// advertises in its NodeRecord (spec §3).
type RatePack struct {
	RoutingByteRate    uint64
	RoutingServiceRate uint64
	ExitByteRate       uint64
	ExitServiceRate    uint64
}

// NodeAddr is an IP address plus an ordered, deduplicated list of clandestine
// TCP ports (spec §3).
type NodeAddr struct {
	IP    net.IP
	Ports []uint16
}

// NewNodeAddr builds a NodeAddr, deduplicating ports while preserving the
// order of first appearance.
func NewNodeAddr(ip net.IP, ports []uint16) NodeAddr {
	seen := make(map[uint16]struct{}, len(ports))
	deduped := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)
	}
	return NodeAddr{IP: ip, Ports: deduped}
}

// Equal reports whether two NodeAddrs name the same IP and the same
// (order-independent) set of ports.
func (a NodeAddr) Equal(b NodeAddr) bool {
	if !a.IP.Equal(b.IP) {
		return false
	}
	if len(a.Ports) != len(b.Ports) {
		return false
	}
	have := make(map[uint16]struct{}, len(a.Ports))
	for _, p := range a.Ports {
		have[p] = struct{}{}
	}
	for _, p := range b.Ports {
		if _, ok := have[p]; !ok {
			return false
		}
	}
	return true
}

func (a NodeAddr) String() string {
	ports := make([]string, len(a.Ports))
	for i, p := range a.Ports {
		ports[i] = strconv.Itoa(int(p))
	}
	return fmt.Sprintf("%s:%s", a.IP.String(), strings.Join(ports, ","))
}

// NodeDescriptor is the parsed form of the wire node-descriptor string
// (spec §6): BASE64URL(public_key):IP:port[,port…]
type NodeDescriptor struct {
	PublicKey PublicKey
	NodeAddr  NodeAddr
}

// ParseNodeDescriptor parses the spec §6 wire format, erroring on a missing
// colon, an empty key, malformed base64, or a malformed IP/port list.
func ParseNodeDescriptor(s string) (NodeDescriptor, error) {
	firstColon := strings.IndexByte(s, ':')
	if firstColon < 0 {
		return NodeDescriptor{}, errors.New("node descriptor: missing colon separator")
	}
	keyPart := s[:firstColon]
	rest := s[firstColon+1:]
	if keyPart == "" {
		return NodeDescriptor{}, errors.New("node descriptor: empty public key")
	}
	key, err := base64.RawURLEncoding.DecodeString(keyPart)
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("node descriptor: malformed base64 key: %w", err)
	}

	lastColon := strings.LastIndexByte(rest, ':')
	if lastColon < 0 {
		return NodeDescriptor{}, errors.New("node descriptor: missing ip:port separator")
	}
	ipPart, portsPart := rest[:lastColon], rest[lastColon+1:]
	ip := net.ParseIP(ipPart)
	if ip == nil {
		return NodeDescriptor{}, fmt.Errorf("node descriptor: malformed IP %q", ipPart)
	}
	if portsPart == "" {
		return NodeDescriptor{}, errors.New("node descriptor: empty port list")
	}
	portStrs := strings.Split(portsPart, ",")
	ports := make([]uint16, 0, len(portStrs))
	for _, ps := range portStrs {
		n, err := strconv.ParseUint(ps, 10, 16)
		if err != nil {
			return NodeDescriptor{}, fmt.Errorf("node descriptor: malformed port %q: %w", ps, err)
		}
		ports = append(ports, uint16(n))
	}

	return NodeDescriptor{PublicKey: PublicKey(key), NodeAddr: NewNodeAddr(ip, ports)}, nil
}

// String formats the descriptor back into the spec §6 wire format.
func (d NodeDescriptor) String() string {
	key := base64.RawURLEncoding.EncodeToString(d.PublicKey)
	return fmt.Sprintf("%s:%s", key, d.NodeAddr.String())
}
