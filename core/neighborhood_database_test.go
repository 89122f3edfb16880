package core

import "testing"

func newTestRecord(t *testing.T, cryptde CryptDE, bootstrap bool) *NodeRecord {
	t.Helper()
	wallet, _ := NewWallet("0xabc123")
	nr, err := NewNodeRecord(cryptde.PublicKey(), wallet, RatePack{}, bootstrap, 0, cryptde)
	if err != nil {
		t.Fatalf("NewNodeRecord: %v", err)
	}
	return nr
}

func TestNeighborhoodDatabaseRootIsSeeded(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	if db.Root() != root {
		t.Fatal("Root() did not return the seeded record")
	}
	got, ok := db.NodeByKey(self.PublicKey())
	if !ok || got != root {
		t.Fatal("NodeByKey(self) did not find the root record")
	}
}

func TestNeighborhoodDatabaseAddNodeRejectsCollision(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	if err := db.AddNode(root); err == nil {
		t.Fatal("AddNode accepted a duplicate key")
	}

	peer := mustCryptDE(t)
	peerRecord := newTestRecord(t, peer, false)
	if err := db.AddNode(peerRecord); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if len(db.AllNodes()) != 2 {
		t.Fatalf("AllNodes has %d entries, want 2", len(db.AllNodes()))
	}
}

func TestNeighborhoodDatabaseReplaceNodeOverwrites(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	peer := mustCryptDE(t)
	v1 := newTestRecord(t, peer, false)
	if err := db.AddNode(v1); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	v2 := newTestRecord(t, peer, false)
	v2.SetVersion(5)
	if err := v2.RegenerateSignedGossip(peer); err != nil {
		t.Fatalf("RegenerateSignedGossip: %v", err)
	}
	db.ReplaceNode(v2)

	got, ok := db.NodeByKey(peer.PublicKey())
	if !ok {
		t.Fatal("NodeByKey after ReplaceNode returned not-found")
	}
	if got.Version() != 5 {
		t.Fatalf("replaced record version = %d, want 5", got.Version())
	}
	if len(db.AllNodes()) != 2 {
		t.Fatalf("AllNodes has %d entries after replace, want 2 (no duplicate insert)", len(db.AllNodes()))
	}
}

func TestNeighborhoodDatabaseHasHalfAndFullNeighbor(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	peer := mustCryptDE(t)
	peerRecord := newTestRecord(t, peer, false)
	if err := db.AddNode(peerRecord); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	root.AddHalfNeighborKey(peer.PublicKey())
	if err := db.ResignNode(root); err != nil {
		t.Fatalf("ResignNode(root): %v", err)
	}

	if !db.HasHalfNeighbor(self.PublicKey(), peer.PublicKey()) {
		t.Fatal("root->peer half neighbor not recorded")
	}
	if db.HasFullNeighbor(self.PublicKey(), peer.PublicKey()) {
		t.Fatal("full neighbor reported before peer declares the reverse half-edge")
	}

	peerRecord.AddHalfNeighborKey(self.PublicKey())
	if err := peerRecord.RegenerateSignedGossip(peer); err != nil {
		t.Fatalf("RegenerateSignedGossip(peer): %v", err)
	}

	if !db.HasFullNeighbor(self.PublicKey(), peer.PublicKey()) {
		t.Fatal("full neighbor not recognized once both half-edges exist")
	}
}

func TestNeighborhoodDatabaseFullNeighborExcludesBootstrapNodes(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	bootstrap := mustCryptDE(t)
	bootstrapRecord := newTestRecord(t, bootstrap, true)
	if err := db.AddNode(bootstrapRecord); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	root.AddHalfNeighborKey(bootstrap.PublicKey())
	if err := db.ResignNode(root); err != nil {
		t.Fatalf("ResignNode(root): %v", err)
	}
	bootstrapRecord.AddHalfNeighborKey(self.PublicKey())
	if err := bootstrapRecord.RegenerateSignedGossip(bootstrap); err != nil {
		t.Fatalf("RegenerateSignedGossip(bootstrap): %v", err)
	}

	if db.HasFullNeighbor(self.PublicKey(), bootstrap.PublicKey()) {
		t.Fatal("a bootstrap node was reported as a full neighbor")
	}

	edgeKeys := db.FullEdgeKeys(root)
	if len(edgeKeys) != 1 || !edgeKeys[0].Equal(bootstrap.PublicKey()) {
		t.Fatalf("FullEdgeKeys(root) = %v, want [bootstrap] (raw edge, bootstrap exclusion belongs to HasFullNeighbor only)", edgeKeys)
	}
	if keys := db.FullNeighborKeys(root); len(keys) != 0 {
		t.Fatalf("FullNeighborKeys(root) = %v, want empty (bootstrap excluded)", keys)
	}
}

func TestNeighborhoodDatabaseFullNeighborKeys(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	full := mustCryptDE(t)
	fullRecord := newTestRecord(t, full, false)
	half := mustCryptDE(t)
	halfRecord := newTestRecord(t, half, false)
	if err := db.AddNode(fullRecord); err != nil {
		t.Fatalf("AddNode(full): %v", err)
	}
	if err := db.AddNode(halfRecord); err != nil {
		t.Fatalf("AddNode(half): %v", err)
	}

	root.AddHalfNeighborKeys([]PublicKey{full.PublicKey(), half.PublicKey()})
	if err := db.ResignNode(root); err != nil {
		t.Fatalf("ResignNode(root): %v", err)
	}
	fullRecord.AddHalfNeighborKey(self.PublicKey())
	if err := fullRecord.RegenerateSignedGossip(full); err != nil {
		t.Fatalf("RegenerateSignedGossip(full): %v", err)
	}
	// halfRecord deliberately never declares the reverse edge.

	keys := db.FullNeighborKeys(root)
	if len(keys) != 1 || !keys[0].Equal(full.PublicKey()) {
		t.Fatalf("FullNeighborKeys(root) = %v, want exactly [full]", keys)
	}
}
