package core

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// GossipTopic is the GossipSub topic the Neighborhood engine disseminates
// on (SPEC_FULL §4.8).
const GossipTopic = "neighborhood-gossip"

// Dialer manages outbound clandestine TCP connections; adapted from the
// teacher's network.go Dialer, unchanged in shape since it already only
// depends on net.Dialer.
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer creates a Dialer with the given settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to a remote clandestine address over TCP.
func (d *Dialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialer: failed to connect to %s: %w", address, err)
	}
	return conn, nil
}

// clandestineConn wraps a pooled outbound TCP connection with the bookkeeping
// ClandestinePool needs to decide when it has gone stale.
type clandestineConn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// ClandestinePool reuses outbound clandestine TCP connections by remote
// address, so repeated CORES package relays to the same next hop don't each
// pay a fresh TCP handshake (spec §4.8's "dials the clandestine TCP port
// directly" is amortized here across SendTo calls to the same neighbor).
type ClandestinePool struct {
	dialer    *Dialer
	mu        sync.Mutex
	conns     map[string][]*clandestineConn
	maxIdle   int
	idleTTL   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// NewConnPool builds a ClandestinePool dialing through d. maxIdle bounds how
// many idle connections per neighbor address are kept; idleTTL is how long
// an idle connection survives before the reaper closes it.
func NewConnPool(d *Dialer, maxIdle int, idleTTL time.Duration) *ClandestinePool {
	cp := &ClandestinePool{
		dialer:  d,
		conns:   make(map[string][]*clandestineConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go cp.reaper()
	return cp
}

// Acquire returns a pooled connection to addr, dialing a new one if the pool
// is empty for that address.
func (cp *ClandestinePool) Acquire(ctx context.Context, addr string) (net.Conn, error) {
	cp.mu.Lock()
	list := cp.conns[addr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		cp.conns[addr] = list[:n-1]
		cp.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	cp.mu.Unlock()
	if cp.dialer == nil {
		return nil, errors.New("transport: connection pool has no dialer configured")
	}
	conn, err := cp.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &clandestineConn{Conn: conn, addr: addr, lastUsed: time.Now()}, nil
}

// Release returns conn to the pool for reuse by a later SendTo to the same
// neighbor. Connections Acquire did not hand out (or the pool is already
// full for that address) are simply closed.
func (cp *ClandestinePool) Release(conn net.Conn) {
	cc, ok := conn.(*clandestineConn)
	if !ok {
		_ = conn.Close()
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.maxIdle > 0 && len(cp.conns[cc.addr]) < cp.maxIdle {
		cc.lastUsed = time.Now()
		cp.conns[cc.addr] = append(cp.conns[cc.addr], cc)
		return
	}
	_ = cc.Close()
}

// Close closes every pooled connection and stops the reaper.
func (cp *ClandestinePool) Close() {
	cp.closeOnce.Do(func() {
		close(cp.closing)
		cp.mu.Lock()
		defer cp.mu.Unlock()
		for _, list := range cp.conns {
			for _, c := range list {
				_ = c.Close()
			}
		}
		cp.conns = make(map[string][]*clandestineConn)
	})
}

// IdleConnections returns the total number of idle pooled connections across
// every neighbor address, for operators inspecting pool pressure.
func (cp *ClandestinePool) IdleConnections() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	count := 0
	for _, list := range cp.conns {
		count += len(list)
	}
	return count
}

// reaper closes idle connections once they exceed idleTTL.
func (cp *ClandestinePool) reaper() {
	ticker := time.NewTicker(cp.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-cp.idleTTL)
			cp.mu.Lock()
			for addr, list := range cp.conns {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				cp.conns[addr] = list[:i]
			}
			cp.mu.Unlock()
		case <-cp.closing:
			return
		}
	}
}

// ClandestineListener is invoked with each inbound clandestine packet read
// off a direct TCP connection, before it ever reaches RoutingService.
type ClandestineListener func(peerIP net.IP, data []byte)

// ClandestineTransport is the node's networking substrate (SPEC_FULL §4.8):
// it binds the clandestine TCP port for direct hop-to-hop CORES package
// delivery (mixnet hops are addressed by IP:port per spec §3 NodeAddr, not
// libp2p peer IDs), while layering go-libp2p-pubsub's GossipSub on the same
// host for the Neighborhood engine's own dissemination. mDNS discovery is
// retained for LAN test clusters, matching the teacher's network.go.
type ClandestineTransport struct {
	host   libp2pHost
	pubsub *pubsub.PubSub

	gossipTopic *pubsub.Topic
	gossipSub   *pubsub.Subscription

	dialer *Dialer
	pool   *ClandestinePool

	mu        sync.RWMutex
	addrByKey map[string]NodeAddr

	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry
}

// libp2pHost narrows the host.Host interface down to what this file uses,
// so tests can substitute a fake without standing up a real libp2p host.
type libp2pHost interface {
	ID() peer.ID
	Close() error
}

// TransportConfig configures ClandestineTransport construction.
type TransportConfig struct {
	ListenAddr      string // libp2p multiaddr for the pubsub/mdns host
	ClandestinePort uint16 // raw TCP port for direct hop delivery
	DiscoveryTag    string
	DialTimeout     time.Duration
	KeepAlive       time.Duration
}

// NewClandestineTransport brings up the libp2p host, GossipSub, and mDNS
// discovery, and starts listening on the clandestine TCP port. Grounded on
// the teacher's NewNode in network.go, shorn of the NAT-traversal call
// (DESIGN.md documents why NAT support was dropped).
func NewClandestineTransport(cfg TransportConfig, listener ClandestineListener, log *logrus.Entry) (*ClandestineTransport, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: create pubsub: %w", err)
	}

	topic, err := ps.Join(GossipTopic)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: join gossip topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: subscribe gossip topic: %w", err)
	}

	dialer := NewDialer(cfg.DialTimeout, cfg.KeepAlive)
	t := &ClandestineTransport{
		host:        h,
		pubsub:      ps,
		gossipTopic: topic,
		gossipSub:   sub,
		dialer:      dialer,
		pool:        NewConnPool(dialer, 16, 5*time.Minute),
		addrByKey:   make(map[string]NodeAddr),
		ctx:         ctx,
		cancel:      cancel,
		log:         log.WithField("component", "Transport"),
	}

	if err := t.listenClandestine(cfg.ClandestinePort, listener); err != nil {
		h.Close()
		cancel()
		return nil, err
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, t)
	return t, nil
}

// HandlePeerFound implements mdns.Notifee: mDNS-discovered libp2p peers are
// logged but not auto-registered as neighbors — neighbor membership is a
// Neighborhood/Gossip decision (spec §4.1-4.3), not a transport-layer one.
func (t *ClandestineTransport) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == t.host.ID() {
		return
	}
	t.log.Debugf("mDNS discovered candidate peer %s", info.ID.String())
}

var _ mdns.Notifee = (*ClandestineTransport)(nil)

// RegisterPeerAddr records where a neighbor's clandestine port can be
// reached (spec §3 NodeAddr); cmd/node registers the configured neighbor
// descriptors here.
func (t *ClandestineTransport) RegisterPeerAddr(key PublicKey, addr NodeAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrByKey[neighborKey(key)] = addr
}

// AddrOf implements PeerResolver for Dispatcher.
func (t *ClandestineTransport) AddrOf(key PublicKey) (NodeAddr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.addrByKey[neighborKey(key)]
	return addr, ok
}

// PeerAddr implements the Transport seam Dispatcher depends on.
func (t *ClandestineTransport) PeerAddr(key PublicKey) (net.IP, bool) {
	addr, ok := t.AddrOf(key)
	if !ok {
		return nil, false
	}
	return addr.IP, true
}

// SendTo looks up the neighbor's registered NodeAddr, dials its first
// clandestine port directly (through the pool), and writes a length-prefixed
// frame (SPEC_FULL §4.8).
func (t *ClandestineTransport) SendTo(key PublicKey, data CryptData) error {
	addr, ok := t.AddrOf(key)
	if !ok {
		return fmt.Errorf("transport: no known address for %x", []byte(key))
	}
	if len(addr.Ports) == 0 {
		return fmt.Errorf("transport: neighbor %x advertises no ports", []byte(key))
	}
	target := net.JoinHostPort(addr.IP.String(), strconv.Itoa(int(addr.Ports[0])))

	conn, err := t.pool.Acquire(t.ctx, target)
	if err != nil {
		return err
	}
	defer t.pool.Release(conn)

	if err := writeFrame(conn, data); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// listenClandestine accepts raw TCP connections on port and hands each
// length-prefixed frame to listener.
func (t *ClandestineTransport) listenClandestine(port uint16, listener ClandestineListener) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("transport: listen clandestine port %d: %w", port, err)
	}
	go func() {
		<-t.ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-t.ctx.Done():
					return
				default:
					t.log.Warnf("clandestine accept error: %v", err)
					continue
				}
			}
			go t.serveClandestineConn(conn, listener)
		}
	}()
	return nil
}

func (t *ClandestineTransport) serveClandestineConn(conn net.Conn, listener ClandestineListener) {
	defer conn.Close()
	peerIP := remoteIP(conn)
	r := bufio.NewReader(conn)
	for {
		data, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				t.log.Warnf("clandestine read error from %s: %v", peerIP, err)
			}
			return
		}
		if listener != nil {
			listener(peerIP, data)
		}
	}
}

func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// writeFrame/readFrame implement a simple 4-byte-length-prefixed framing
// for the clandestine TCP stream.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PublishGossip broadcasts a serialized Gossip payload on GossipTopic.
func (t *ClandestineTransport) PublishGossip(data []byte) error {
	return t.gossipTopic.Publish(t.ctx, data)
}

// GossipMessages exposes the inbound gossip stream as a channel of raw
// bytes; callers deserialize into Gossip themselves.
func (t *ClandestineTransport) GossipMessages() <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := t.gossipSub.Next(t.ctx)
			if err != nil {
				if t.ctx.Err() == nil {
					t.log.Warnf("gossip subscription error: %v", err)
				}
				return
			}
			if msg.GetFrom() == t.host.ID() {
				continue // ignore our own publications
			}
			select {
			case out <- msg.Data:
			case <-t.ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close tears down the transport.
func (t *ClandestineTransport) Close() error {
	t.cancel()
	t.pool.Close()
	return t.host.Close()
}

var _ Transport = (*ClandestineTransport)(nil)
var _ PeerResolver = (*ClandestineTransport)(nil)
