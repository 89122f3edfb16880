package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// NodeRecordInner is the signed part of a NodeRecord (spec §3).
type NodeRecordInner struct {
	PublicKey       PublicKey    `json:"public_key"`
	EarningWallet   Wallet       `json:"earning_wallet"`
	RatePack        RatePack     `json:"rate_pack"`
	IsBootstrapNode bool         `json:"is_bootstrap_node"`
	Neighbors       []PublicKey  `json:"neighbors"` // kept sorted: an ordered set
	Version         uint32       `json:"version"`
}

func cloneInner(in NodeRecordInner) NodeRecordInner {
	out := in
	out.PublicKey = in.PublicKey.Clone()
	out.Neighbors = append([]PublicKey(nil), in.Neighbors...)
	return out
}

// neighborKey renders a PublicKey comparable/sortable for the ordered-set
// representation of Neighbors.
func neighborKey(k PublicKey) string { return string(k) }

func sortNeighbors(keys []PublicKey) {
	sort.Slice(keys, func(i, j int) bool { return neighborKey(keys[i]) < neighborKey(keys[j]) })
}

// NodeRecordMetadata is local-only bookkeeping never included in the
// signature (spec §3: node_addr_opt is local-only metadata).
type NodeRecordMetadata struct {
	Desirable  bool
	NodeAddr   *NodeAddr
}

// NodeRecord is {inner, node_addr_opt, signed_gossip, signature, desirable}
// from spec §3. Grounded on original_source/node/src/neighborhood/node_record.rs.
type NodeRecord struct {
	inner       NodeRecordInner
	metadata    NodeRecordMetadata
	signedGossip PlainData
	signature   CryptData
}

// ErrNodeAddrAlreadySet is returned by SetNodeAddr when a different address
// is already recorded (spec §3 invariant; OQ-2: caller ignores and keeps the
// existing address).
type ErrNodeAddrAlreadySet struct {
	Existing NodeAddr
}

func (e *ErrNodeAddrAlreadySet) Error() string {
	return fmt.Sprintf("node_record: node_addr already set to %s", e.Existing)
}

// NewNodeRecord constructs a NodeRecord and immediately signs it.
func NewNodeRecord(pubkey PublicKey, earningWallet Wallet, ratePack RatePack, isBootstrap bool, version uint32, cryptde CryptDE) (*NodeRecord, error) {
	nr := &NodeRecord{
		inner: NodeRecordInner{
			PublicKey:       pubkey.Clone(),
			EarningWallet:   earningWallet,
			RatePack:        ratePack,
			IsBootstrapNode: isBootstrap,
			Neighbors:       nil,
			Version:         version,
		},
		metadata: NodeRecordMetadata{Desirable: true},
	}
	if err := nr.RegenerateSignedGossip(cryptde); err != nil {
		return nil, err
	}
	return nr, nil
}

// Inner returns a deep copy of the signed portion — never a mutable alias,
// so callers cannot bypass RegenerateSignedGossip (spec §3/§4.2 invariant).
func (n *NodeRecord) Inner() NodeRecordInner { return cloneInner(n.inner) }

func (n *NodeRecord) PublicKey() PublicKey         { return n.inner.PublicKey.Clone() }
func (n *NodeRecord) IsBootstrapNode() bool         { return n.inner.IsBootstrapNode }
func (n *NodeRecord) IsNotBootstrapNode() bool      { return !n.inner.IsBootstrapNode }
func (n *NodeRecord) Version() uint32               { return n.inner.Version }
func (n *NodeRecord) EarningWallet() Wallet         { return n.inner.EarningWallet }
func (n *NodeRecord) RatePack() RatePack            { return n.inner.RatePack }
func (n *NodeRecord) SignedGossip() PlainData       { return append(PlainData(nil), n.signedGossip...) }
func (n *NodeRecord) Signature() CryptData          { return append(CryptData(nil), n.signature...) }
func (n *NodeRecord) IsDesirable() bool             { return n.metadata.Desirable }
func (n *NodeRecord) SetDesirable(desirable bool)   { n.metadata.Desirable = desirable }

// NodeAddrOpt returns the node's local-only address metadata, or nil.
func (n *NodeRecord) NodeAddrOpt() *NodeAddr {
	if n.metadata.NodeAddr == nil {
		return nil
	}
	cp := *n.metadata.NodeAddr
	return &cp
}

// SetNodeAddr sets node_addr_opt from None to Some(addr); re-setting to the
// same address is a no-op success (returns false, nil); setting to a
// different address is an error (spec §3 invariant).
func (n *NodeRecord) SetNodeAddr(addr NodeAddr) (changed bool, err error) {
	if n.metadata.NodeAddr != nil {
		if n.metadata.NodeAddr.Equal(addr) {
			return false, nil
		}
		return false, &ErrNodeAddrAlreadySet{Existing: *n.metadata.NodeAddr}
	}
	cp := addr
	n.metadata.NodeAddr = &cp
	return true, nil
}

func (n *NodeRecord) UnsetNodeAddr() { n.metadata.NodeAddr = nil }

func (n *NodeRecord) IncrementVersion() { n.inner.Version++ }
func (n *NodeRecord) SetVersion(v uint32) { n.inner.Version = v }

// SetEarningWallet replaces the earning wallet, reporting whether it changed.
func (n *NodeRecord) SetEarningWallet(w Wallet) bool {
	if n.inner.EarningWallet.Equal(w) {
		return false
	}
	n.inner.EarningWallet = w
	return true
}

func (n *NodeRecord) HasHalfNeighbor(key PublicKey) bool {
	for _, k := range n.inner.Neighbors {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

func (n *NodeRecord) HalfNeighborKeys() []PublicKey {
	return append([]PublicKey(nil), n.inner.Neighbors...)
}

func (n *NodeRecord) AddHalfNeighborKey(key PublicKey) {
	if n.HasHalfNeighbor(key) {
		return
	}
	n.inner.Neighbors = append(n.inner.Neighbors, key.Clone())
	sortNeighbors(n.inner.Neighbors)
}

func (n *NodeRecord) AddHalfNeighborKeys(keys []PublicKey) {
	for _, k := range keys {
		n.AddHalfNeighborKey(k)
	}
}

func (n *NodeRecord) RemoveHalfNeighborKey(key PublicKey) (removed bool) {
	for i, k := range n.inner.Neighbors {
		if k.Equal(key) {
			n.inner.Neighbors = append(n.inner.Neighbors[:i], n.inner.Neighbors[i+1:]...)
			return true
		}
	}
	return false
}

func (n *NodeRecord) ClearHalfNeighbors() { n.inner.Neighbors = nil }

// RegenerateSignedGossip re-serializes inner canonically and re-signs it.
// Every mutator above leaves signedGossip/signature stale until this is
// called; callers that need an exposed, verifiable record must call this
// before returning it (spec §3 invariant, enforced centrally by
// NeighborhoodDatabase — see neighborhood_database.go).
func (n *NodeRecord) RegenerateSignedGossip(cryptde CryptDE) error {
	raw, err := json.Marshal(n.inner)
	if err != nil {
		return fmt.Errorf("node_record: serialize inner: %w", err)
	}
	n.signedGossip = PlainData(raw)
	sig, err := cryptde.Sign(n.signedGossip)
	if err != nil {
		return fmt.Errorf("node_record: sign: %w", err)
	}
	n.signature = sig
	return nil
}

// VerifySignedGossip checks testable property 1 (spec §8): the signature
// over signed_gossip verifies under the record's own public key.
func (n *NodeRecord) VerifySignedGossip(cryptde CryptDE) bool {
	return cryptde.VerifySignature(n.signedGossip, n.signature, n.inner.PublicKey)
}

// GossipNodeRecord is the wire form exchanged during gossip (spec §6).
type GossipNodeRecord struct {
	SignedData PlainData
	Signature  CryptData
	NodeAddr   *NodeAddr
}

// ToGossipNodeRecord renders the current signed state for transmission.
func (n *NodeRecord) ToGossipNodeRecord() GossipNodeRecord {
	var addr *NodeAddr
	if n.metadata.NodeAddr != nil {
		cp := *n.metadata.NodeAddr
		addr = &cp
	}
	return GossipNodeRecord{
		SignedData: append(PlainData(nil), n.signedGossip...),
		Signature:  append(CryptData(nil), n.signature...),
		NodeAddr:   addr,
	}
}

// NodeRecordFromGossip verifies gnr's signature and deserializes its inner
// payload, building an unsigned-local-state NodeRecord (gossip.go step 1-2).
func NodeRecordFromGossip(gnr GossipNodeRecord, cryptde CryptDE) (*NodeRecord, error) {
	var inner NodeRecordInner
	if err := json.Unmarshal(gnr.SignedData, &inner); err != nil {
		return nil, fmt.Errorf("node_record: deserialize inner: %w", err)
	}
	if !cryptde.VerifySignature(gnr.SignedData, gnr.Signature, inner.PublicKey) {
		return nil, errors.New("node_record: signature verification failed")
	}
	sortNeighbors(inner.Neighbors)
	nr := &NodeRecord{
		inner:        inner,
		metadata:     NodeRecordMetadata{Desirable: true},
		signedGossip: append(PlainData(nil), gnr.SignedData...),
		signature:    append(CryptData(nil), gnr.Signature...),
	}
	if gnr.NodeAddr != nil {
		cp := *gnr.NodeAddr
		nr.metadata.NodeAddr = &cp
	}
	return nr, nil
}
