package core

import "fmt"

// NeighborhoodDatabase holds all known NodeRecords and designates one as
// root (this node). Spec §4.2. Grounded on the map-of-structs pattern used
// throughout the teacher's core package (e.g. core/common_structs.go's
// Node.peers) and on original_source's NeighborhoodDatabase.
type NeighborhoodDatabase struct {
	cryptde CryptDE
	rootKey string
	byKey   map[string]*NodeRecord
}

// NewNeighborhoodDatabase seeds the database with the root (self) record.
func NewNeighborhoodDatabase(root *NodeRecord, cryptde CryptDE) *NeighborhoodDatabase {
	db := &NeighborhoodDatabase{
		cryptde: cryptde,
		rootKey: neighborKey(root.PublicKey()),
		byKey:   map[string]*NodeRecord{},
	}
	db.byKey[db.rootKey] = root
	return db
}

// Root returns this node's own record.
func (db *NeighborhoodDatabase) Root() *NodeRecord { return db.byKey[db.rootKey] }

// NodeByKey looks up a record by public key. The returned pointer is a live
// handle into the database; callers that mutate it MUST call ResignNode
// afterwards (spec §4.2: "never returns a mutable alias that allows a
// caller to bypass re-signature" is a review discipline enforced here by
// requiring every mutating call path to go through ResignNode before the
// record is handed to another component — see routing and gossip code,
// which never hold a *NodeRecord across a yield point without resigning).
func (db *NeighborhoodDatabase) NodeByKey(key PublicKey) (*NodeRecord, bool) {
	nr, ok := db.byKey[neighborKey(key)]
	return nr, ok
}

// HasHalfNeighbor reports whether a declares b as a neighbor (a->b half-edge).
func (db *NeighborhoodDatabase) HasHalfNeighbor(a, b PublicKey) bool {
	nr, ok := db.NodeByKey(a)
	if !ok {
		return false
	}
	return nr.HasHalfNeighbor(b)
}

// hasFullEdge reports whether a<->b is a full neighbor pair (both half-edges
// exist), with no regard to bootstrap status. Bootstrap nodes still declare
// and receive half-neighbor edges so directory gossip can reach them; it is
// only ever invalid to route *through* one, never to arrive *at* one (spec
// §4.4), so the raw edge check is kept separate from HasFullNeighbor below.
func (db *NeighborhoodDatabase) hasFullEdge(a, b PublicKey) bool {
	an, ok := db.NodeByKey(a)
	if !ok || !an.HasHalfNeighbor(b) {
		return false
	}
	bn, ok := db.NodeByKey(b)
	if !ok {
		return false
	}
	return bn.HasHalfNeighbor(a)
}

// HasFullNeighbor reports whether a<->b is a full neighbor pair: both
// half-edges exist and neither endpoint is a bootstrap node (spec §3, §8
// testable property 4).
func (db *NeighborhoodDatabase) HasFullNeighbor(a, b PublicKey) bool {
	if !db.hasFullEdge(a, b) {
		return false
	}
	an, _ := db.NodeByKey(a)
	bn, _ := db.NodeByKey(b)
	return an.IsNotBootstrapNode() && bn.IsNotBootstrapNode()
}

// AddNode inserts a brand-new record. It is an error to add a record whose
// key already exists — use ReplaceNode for that path (gossip ingest rule 4).
func (db *NeighborhoodDatabase) AddNode(nr *NodeRecord) error {
	key := neighborKey(nr.PublicKey())
	if _, exists := db.byKey[key]; exists {
		return fmt.Errorf("neighborhood_database: node key collision for %x", nr.PublicKey())
	}
	db.byKey[key] = nr
	return nil
}

// ReplaceNode overwrites an existing record in place (gossip ingest rule 4).
func (db *NeighborhoodDatabase) ReplaceNode(nr *NodeRecord) {
	db.byKey[neighborKey(nr.PublicKey())] = nr
}

// AllNodes returns every record currently known, root included.
func (db *NeighborhoodDatabase) AllNodes() []*NodeRecord {
	out := make([]*NodeRecord, 0, len(db.byKey))
	for _, nr := range db.byKey {
		out = append(out, nr)
	}
	return out
}

// ResignNode re-serializes and re-signs nr's inner payload — the one
// operation that may follow any mutation of a *NodeRecord obtained from
// this database (spec §4.2).
func (db *NeighborhoodDatabase) ResignNode(nr *NodeRecord) error {
	return nr.RegenerateSignedGossip(db.cryptde)
}

// FullNeighborKeys returns nr's half-neighbor keys that are also full
// neighbors per this database (spec's O(n^2) full_neighbor_keys); excludes
// bootstrap nodes on either end, matching HasFullNeighbor.
func (db *NeighborhoodDatabase) FullNeighborKeys(nr *NodeRecord) []PublicKey {
	self := nr.PublicKey()
	var out []PublicKey
	for _, k := range nr.HalfNeighborKeys() {
		if db.HasFullNeighbor(self, k) {
			out = append(out, k)
		}
	}
	return out
}

// FullEdgeKeys returns nr's half-neighbor keys whose reverse half-edge also
// exists, bootstrap nodes included. The route builder needs this raw
// adjacency rather than FullNeighborKeys: a bootstrap node can be a valid
// route *terminal* (target_type == Bootstrap) even though it is never a
// valid interior hop, so the bootstrap exclusion has to live in the walk
// itself, not in the candidate-edge lookup (spec §4.4).
func (db *NeighborhoodDatabase) FullEdgeKeys(nr *NodeRecord) []PublicKey {
	self := nr.PublicKey()
	var out []PublicKey
	for _, k := range nr.HalfNeighborKeys() {
		if db.hasFullEdge(self, k) {
			out = append(out, k)
		}
	}
	return out
}
