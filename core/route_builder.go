package core

import "sort"

// TargetType distinguishes a Standard route target from the Bootstrap
// directory-delivery case (spec §4.4).
type TargetType int

const (
	TargetStandard TargetType = iota
	TargetBootstrap
)

// RouteQuery is the input to the route builder (spec §4.4).
type RouteQuery struct {
	TargetType      TargetType
	TargetKey       PublicKey // nil selects any qualifying exit
	TargetComponent Component
	MinimumHopCount int
	ReturnComponent *Component
}

// ExpectedService mirrors one hop of a selected route for the accountant's
// benefit (spec §4.4).
type ExpectedServiceKind int

const (
	ServiceNothing ExpectedServiceKind = iota
	ServiceRouting
	ServiceExit
)

type ExpectedService struct {
	Kind          ExpectedServiceKind
	Key           PublicKey
	EarningWallet Wallet
	RatePack      RatePack
}

// RouteQueryResponse is the route builder's successful result.
type RouteQueryResponse struct {
	Route           []PublicKey // ordered hop keys, self first
	ExpectedServices []ExpectedService
}

// RoundTripRoute bundles a forward and backward path plus a correlation id
// for the return leg (spec §4.4).
type RoundTripRoute struct {
	Forward      RouteQueryResponse
	Back         RouteQueryResponse
	ReturnRouteID uint32
}

// RouteBuilder selects ordered hop sequences out of a NeighborhoodDatabase
// (spec §4.4). Grounded directly on spec.md's selection/tie-break rules;
// no teacher file implements pathfinding, so this is new code reusing the
// database's FullEdgeKeys primitive.
type RouteBuilder struct {
	db *NeighborhoodDatabase
}

func NewRouteBuilder(db *NeighborhoodDatabase) *RouteBuilder {
	return &RouteBuilder{db: db}
}

type candidatePath struct {
	keys       []PublicKey // interior hops + exit, self excluded
	desirable  int         // count of desirable non-bootstrap hops (exit included), for tie-break
	totalRate  uint64      // sum of routing_byte_rate over the same hops
}

// BuildRoute finds a path satisfying q, or returns (nil, false) if none
// exists of the required length (spec §4.4's "fails ... when no path of
// the required length exists").
func (b *RouteBuilder) BuildRoute(q RouteQuery) (*RouteQueryResponse, bool) {
	self := b.db.Root().PublicKey()
	candidates := b.enumeratePaths(self, q)
	if len(candidates) == 0 {
		return nil, false
	}
	best := pickBest(candidates)

	resp := &RouteQueryResponse{Route: append([]PublicKey{self}, best.keys...)}
	for i, key := range best.keys {
		nr, _ := b.db.NodeByKey(key)
		isExit := i == len(best.keys)-1
		kind := ServiceRouting
		if isExit {
			kind = ServiceExit
		}
		resp.ExpectedServices = append(resp.ExpectedServices, ExpectedService{
			Kind:          kind,
			Key:           key,
			EarningWallet: nr.EarningWallet(),
			RatePack:      nr.RatePack(),
		})
	}
	// Self hop carries Nothing, prepended to mirror the self-first route.
	resp.ExpectedServices = append([]ExpectedService{{Kind: ServiceNothing, Key: self}}, resp.ExpectedServices...)
	return resp, true
}

// BuildRoundTrip builds a forward route and, if q.ReturnComponent is set, a
// reverse route using the forward path's hops in reverse order, addressed
// back to the originator via ReturnComponent (spec §4.4).
func (b *RouteBuilder) BuildRoundTrip(q RouteQuery, returnRouteID uint32) (*RoundTripRoute, bool) {
	fwd, ok := b.BuildRoute(q)
	if !ok {
		return nil, false
	}
	if q.ReturnComponent == nil {
		return &RoundTripRoute{Forward: *fwd}, true
	}
	backKeys := reverseHops(fwd.Route)
	back := &RouteQueryResponse{Route: backKeys}
	for i := len(fwd.ExpectedServices) - 1; i >= 0; i-- {
		back.ExpectedServices = append(back.ExpectedServices, fwd.ExpectedServices[i])
	}
	return &RoundTripRoute{Forward: *fwd, Back: *back, ReturnRouteID: returnRouteID}, true
}

func reverseHops(keys []PublicKey) []PublicKey {
	out := make([]PublicKey, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}

// enumeratePaths does a bounded depth-first search over full-neighbor edges,
// returning every simple path of at least the minimum required length (and
// at most MinimumHopCount+4 hops) that ends at a node matching the target
// constraints.
func (b *RouteBuilder) enumeratePaths(self PublicKey, q RouteQuery) []candidatePath {
	var results []candidatePath
	visited := map[string]bool{neighborKey(self): true}

	addResult := func(path []PublicKey, desirable int, rate uint64) {
		results = append(results, candidatePath{
			keys:      append([]PublicKey(nil), path...),
			desirable: desirable,
			totalRate: rate,
		})
	}

	var walk func(current PublicKey, path []PublicKey, desirable int, rate uint64)
	walk = func(current PublicKey, path []PublicKey, desirable int, rate uint64) {
		if len(path) > 0 && len(path) >= q.MinimumHopCount && b.qualifiesAsTerminal(path[len(path)-1], q) {
			addResult(path, desirable, rate)
		}
		if len(path) >= q.MinimumHopCount+4 { // bound search depth
			return
		}
		curNR, ok := b.db.NodeByKey(current)
		if !ok {
			return
		}
		for _, next := range b.db.FullEdgeKeys(curNR) {
			if visited[neighborKey(next)] {
				continue
			}
			nextNR, ok := b.db.NodeByKey(next)
			if !ok {
				continue
			}
			nextPath := append(path, next)
			if nextNR.IsBootstrapNode() {
				// Bootstrap nodes never route or exit (spec §4.4): they may
				// only ever be the terminal hop of a Bootstrap-targeted
				// route, never an interior one, so they are tested as a
				// terminal candidate here but never recursed into.
				if len(nextPath) >= q.MinimumHopCount && b.qualifiesAsTerminal(next, q) {
					addResult(nextPath, desirable, rate)
				}
				continue
			}
			visited[neighborKey(next)] = true
			d := desirable
			if nextNR.IsDesirable() {
				d++
			}
			walk(next, nextPath, d, rate+nextNR.RatePack().RoutingByteRate)
			visited[neighborKey(next)] = false
		}
	}
	walk(self, nil, 0, 0)
	return results
}

// qualifiesAsTerminal checks whether the path ending at key is an
// acceptable final hop for q (spec §4.4: bootstrap nodes only as the
// target when target_type == Bootstrap; otherwise any non-bootstrap node,
// optionally pinned to target_key).
func (b *RouteBuilder) qualifiesAsTerminal(key PublicKey, q RouteQuery) bool {
	nr, ok := b.db.NodeByKey(key)
	if !ok {
		return false
	}
	if q.TargetType == TargetBootstrap {
		if !nr.IsBootstrapNode() {
			return false
		}
	} else if nr.IsBootstrapNode() {
		return false
	}
	if q.TargetKey != nil && !key.Equal(q.TargetKey) {
		return false
	}
	return true
}

// pickBest keeps only the shortest candidates, then applies the spec §4.4
// tie-break among them: prefer higher desirable count, then lower total
// rate.
func pickBest(candidates []candidatePath) candidatePath {
	minLen := candidates[0].keys
	shortest := len(minLen)
	for _, c := range candidates {
		if len(c.keys) < shortest {
			shortest = len(c.keys)
		}
	}
	var pool []candidatePath
	for _, c := range candidates {
		if len(c.keys) == shortest {
			pool = append(pool, c)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].desirable != pool[j].desirable {
			return pool[i].desirable > pool[j].desirable
		}
		return pool[i].totalRate < pool[j].totalRate
	})
	return pool[0]
}
