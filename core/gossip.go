package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Gossip is the wire payload exchanged between neighbors (spec §6).
type Gossip struct {
	NodeRecords []GossipNodeRecord
}

// GossipEngine accepts incoming Gossip messages and decides which records
// to adopt, per spec §4.3. Grounded on spec §4.3's numbered ingest rules.
type GossipEngine struct {
	db      *NeighborhoodDatabase
	cryptde CryptDE

	// recentlyForwarded suppresses re-emitting a record to the neighbor it
	// was just received from in the same round (SPEC_FULL §4.13); it does
	// not change the eventual-consistency contract (OQ-1).
	recentlyForwarded *lru.Cache[string, struct{}]
}

// NewGossipEngine wires a GossipEngine to its NeighborhoodDatabase.
func NewGossipEngine(db *NeighborhoodDatabase, cryptde CryptDE) (*GossipEngine, error) {
	cache, err := lru.New[string, struct{}](2048)
	if err != nil {
		return nil, err
	}
	return &GossipEngine{db: db, cryptde: cryptde, recentlyForwarded: cache}, nil
}

// IngestResult reports, per incoming record, whether it was adopted and why.
type IngestResult struct {
	Accepted []PublicKey
	Ignored  []PublicKey
}

// Ingest applies spec §4.3 rules 1-5 to every record in incoming. A bad
// signature on ANY record drops the WHOLE gossip (rule 1).
func (g *GossipEngine) Ingest(incoming Gossip, fromNeighbor PublicKey) (IngestResult, error) {
	parsed := make([]*NodeRecord, 0, len(incoming.NodeRecords))
	for _, gnr := range incoming.NodeRecords {
		nr, err := NodeRecordFromGossip(gnr, g.cryptde)
		if err != nil {
			return IngestResult{}, err
		}
		parsed = append(parsed, nr)
	}

	var result IngestResult
	for _, incomingNR := range parsed {
		key := incomingNR.PublicKey()
		existing, known := g.db.NodeByKey(key)
		switch {
		case !known:
			mergeLocalAddr(incomingNR, nil)
			if err := g.db.AddNode(incomingNR); err != nil {
				return IngestResult{}, err
			}
			result.Accepted = append(result.Accepted, key)
		case incomingNR.Version() > existing.Version():
			mergeLocalAddr(incomingNR, existing.NodeAddrOpt())
			g.db.ReplaceNode(incomingNR)
			result.Accepted = append(result.Accepted, key)
		default:
			result.Ignored = append(result.Ignored, key)
		}
	}

	if fromNeighbor != nil {
		g.recentlyForwarded.Add(neighborKey(fromNeighbor), struct{}{})
	}
	return result, nil
}

// mergeLocalAddr implements "keeping local node_addr_opt if incoming omits
// it, updating if incoming provides and local lacks" (spec §4.3 rule 4).
// OQ-2: whenever the local record already has an address, that address is
// kept and a conflicting incoming address is not applied.
func mergeLocalAddr(incoming *NodeRecord, existingAddr *NodeAddr) {
	if existingAddr == nil {
		return
	}
	incoming.UnsetNodeAddr()
	_, _ = incoming.SetNodeAddr(*existingAddr)
}

// OutgoingGossipFor selects what to send to a given direct half-neighbor
// after an ingest round: the current state of each record named in changed,
// minus whatever was just received from that same neighbor (SPEC_FULL
// §4.13).
func (g *GossipEngine) OutgoingGossipFor(neighbor PublicKey, changed []PublicKey) Gossip {
	if _, skip := g.recentlyForwarded.Get(neighborKey(neighbor)); skip {
		return Gossip{}
	}
	out := Gossip{NodeRecords: make([]GossipNodeRecord, 0, len(changed))}
	for _, key := range changed {
		nr, ok := g.db.NodeByKey(key)
		if !ok {
			continue
		}
		out.NodeRecords = append(out.NodeRecords, nr.ToGossipNodeRecord())
	}
	return out
}

// BroadcastTargets returns the root's current direct half-neighbors, the
// recipients of an outgoing gossip burst (spec §4.3 "emit outgoing gossip
// to direct half-neighbors").
func (g *GossipEngine) BroadcastTargets() []PublicKey {
	return g.db.Root().HalfNeighborKeys()
}
