package core

import "testing"

// linkFullNeighbors declares a<->b on both sides and resigns each record
// under its own cryptde, producing a genuine full-neighbor edge.
func linkFullNeighbors(t *testing.T, db *NeighborhoodDatabase, a *NodeRecord, aCryptde CryptDE, b *NodeRecord, bCryptde CryptDE) {
	t.Helper()
	a.AddHalfNeighborKey(b.PublicKey())
	if err := a.RegenerateSignedGossip(aCryptde); err != nil {
		t.Fatalf("RegenerateSignedGossip(a): %v", err)
	}
	b.AddHalfNeighborKey(a.PublicKey())
	if err := b.RegenerateSignedGossip(bCryptde); err != nil {
		t.Fatalf("RegenerateSignedGossip(b): %v", err)
	}
}

func TestBuildRouteFindsSingleHopExit(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	exitCryptde := mustCryptDE(t)
	exit := newTestRecord(t, exitCryptde, false)
	if err := db.AddNode(exit); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	linkFullNeighbors(t, db, root, self, exit, exitCryptde)

	rb := NewRouteBuilder(db)
	resp, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1})
	if !ok {
		t.Fatal("BuildRoute failed to find the only available single-hop path")
	}
	if len(resp.Route) != 2 || !resp.Route[0].Equal(self.PublicKey()) || !resp.Route[1].Equal(exitCryptde.PublicKey()) {
		t.Fatalf("route = %v, want [self, exit]", resp.Route)
	}
	if len(resp.ExpectedServices) != 2 {
		t.Fatalf("expected services count = %d, want 2", len(resp.ExpectedServices))
	}
	if resp.ExpectedServices[0].Kind != ServiceNothing {
		t.Fatalf("self hop service kind = %v, want ServiceNothing", resp.ExpectedServices[0].Kind)
	}
	if resp.ExpectedServices[1].Kind != ServiceExit {
		t.Fatalf("exit hop service kind = %v, want ServiceExit", resp.ExpectedServices[1].Kind)
	}
}

func TestBuildRouteFailsWhenNoPathOfRequiredLengthExists(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)
	rb := NewRouteBuilder(db)

	if _, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1}); ok {
		t.Fatal("BuildRoute succeeded with an empty neighborhood")
	}
}

func TestBuildRouteExcludesBootstrapNodesFromPath(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	bootstrapCryptde := mustCryptDE(t)
	bootstrap := newTestRecord(t, bootstrapCryptde, true)
	if err := db.AddNode(bootstrap); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	linkFullNeighbors(t, db, root, self, bootstrap, bootstrapCryptde)

	rb := NewRouteBuilder(db)
	if _, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1}); ok {
		t.Fatal("BuildRoute returned a path through/to a bootstrap node for a Standard query")
	}
}

func TestBuildRouteTieBreakPrefersDesirableExit(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	cheapCryptde := mustCryptDE(t)
	cheap := newTestRecord(t, cheapCryptde, false)
	cheap.SetDesirable(true)
	if err := cheap.RegenerateSignedGossip(cheapCryptde); err != nil {
		t.Fatalf("RegenerateSignedGossip(cheap): %v", err)
	}
	if err := db.AddNode(cheap); err != nil {
		t.Fatalf("AddNode(cheap): %v", err)
	}
	linkFullNeighbors(t, db, root, self, cheap, cheapCryptde)

	undesirableCryptde := mustCryptDE(t)
	undesirable := newTestRecord(t, undesirableCryptde, false)
	undesirable.SetDesirable(false)
	if err := undesirable.RegenerateSignedGossip(undesirableCryptde); err != nil {
		t.Fatalf("RegenerateSignedGossip(undesirable): %v", err)
	}
	if err := db.AddNode(undesirable); err != nil {
		t.Fatalf("AddNode(undesirable): %v", err)
	}
	linkFullNeighbors(t, db, root, self, undesirable, undesirableCryptde)

	rb := NewRouteBuilder(db)
	resp, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1})
	if !ok {
		t.Fatal("BuildRoute found no path")
	}
	if !resp.Route[1].Equal(cheapCryptde.PublicKey()) {
		t.Fatalf("chosen exit = %x, want the desirable node %x", resp.Route[1], cheapCryptde.PublicKey())
	}
}

func TestBuildRoundTripReversesForwardHops(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	exitCryptde := mustCryptDE(t)
	exit := newTestRecord(t, exitCryptde, false)
	if err := db.AddNode(exit); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	linkFullNeighbors(t, db, root, self, exit, exitCryptde)

	returnComponent := ComponentProxyClient
	rb := NewRouteBuilder(db)
	rt, ok := rb.BuildRoundTrip(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1, ReturnComponent: &returnComponent}, 42)
	if !ok {
		t.Fatal("BuildRoundTrip failed")
	}
	if rt.ReturnRouteID != 42 {
		t.Fatalf("ReturnRouteID = %d, want 42", rt.ReturnRouteID)
	}
	if len(rt.Back.Route) != len(rt.Forward.Route) {
		t.Fatalf("back route length = %d, want %d", len(rt.Back.Route), len(rt.Forward.Route))
	}
	for i, k := range rt.Forward.Route {
		if !rt.Back.Route[len(rt.Back.Route)-1-i].Equal(k) {
			t.Fatalf("back route is not the reverse of forward route: %v vs %v", rt.Back.Route, rt.Forward.Route)
		}
	}
}

func TestBuildRoundTripWithoutReturnComponentOmitsBack(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	exitCryptde := mustCryptDE(t)
	exit := newTestRecord(t, exitCryptde, false)
	if err := db.AddNode(exit); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	linkFullNeighbors(t, db, root, self, exit, exitCryptde)

	rb := NewRouteBuilder(db)
	rt, ok := rb.BuildRoundTrip(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 1}, 0)
	if !ok {
		t.Fatal("BuildRoundTrip failed")
	}
	if len(rt.Back.Route) != 0 {
		t.Fatalf("back route = %v, want empty when ReturnComponent is nil", rt.Back.Route)
	}
}

func TestBuildRouteReachesDirectBootstrapTarget(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	bootstrapCryptde := mustCryptDE(t)
	bootstrap := newTestRecord(t, bootstrapCryptde, true)
	if err := db.AddNode(bootstrap); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	linkFullNeighbors(t, db, root, self, bootstrap, bootstrapCryptde)

	rb := NewRouteBuilder(db)
	resp, ok := rb.BuildRoute(RouteQuery{TargetType: TargetBootstrap, MinimumHopCount: 1})
	if !ok {
		t.Fatal("BuildRoute failed to reach a direct full-neighbor bootstrap target")
	}
	if len(resp.Route) != 2 || !resp.Route[0].Equal(self.PublicKey()) || !resp.Route[1].Equal(bootstrapCryptde.PublicKey()) {
		t.Fatalf("route = %v, want [self, bootstrap]", resp.Route)
	}
}

func TestBuildRouteNeverRoutesThroughBootstrapToReachAStandardExit(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)

	bootstrapCryptde := mustCryptDE(t)
	bootstrap := newTestRecord(t, bootstrapCryptde, true)
	if err := db.AddNode(bootstrap); err != nil {
		t.Fatalf("AddNode(bootstrap): %v", err)
	}
	linkFullNeighbors(t, db, root, self, bootstrap, bootstrapCryptde)

	exitCryptde := mustCryptDE(t)
	exit := newTestRecord(t, exitCryptde, false)
	if err := db.AddNode(exit); err != nil {
		t.Fatalf("AddNode(exit): %v", err)
	}
	linkFullNeighbors(t, db, bootstrap, bootstrapCryptde, exit, exitCryptde)

	rb := NewRouteBuilder(db)
	if _, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 2}); ok {
		t.Fatal("BuildRoute found a 2-hop standard path that must have routed through the bootstrap node")
	}
}

func TestBuildRouteMinimumHopCountZeroDoesNotPanic(t *testing.T) {
	self := mustCryptDE(t)
	root := newTestRecord(t, self, false)
	db := NewNeighborhoodDatabase(root, self)
	rb := NewRouteBuilder(db)

	if _, ok := rb.BuildRoute(RouteQuery{TargetType: TargetStandard, MinimumHopCount: 0}); ok {
		t.Fatal("BuildRoute succeeded with an empty neighborhood and MinimumHopCount 0")
	}
}
