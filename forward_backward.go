package hacrf

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// engine runs inference for a single training example. It owns the
// example's lattice and its scratch tables; the weight vector it is
// handed is treated as an immutable snapshot for the duration of one
// pass.
type engine struct {
	x    *FeatureTensor
	sm   *StateMachine
	lat  *Lattice
	gold int // class ID of the example's label

	nodeScore []float64 // log local potential per node
	edgeScore []float64 // log potential per edge, features at the destination
	alpha     []float64 // log forward mass per node
	beta      []float64 // log backward mass per node

	logZGold float64
	logZAll  float64
	ll       float64
}

// newEngine builds the example's lattice and scratch tables.
func newEngine(x *FeatureTensor, sm *StateMachine, gold int) (*engine, error) {
	lat, err := NewLattice(x, sm)
	if err != nil {
		return nil, err
	}
	n := len(lat.Nodes)
	return &engine{
		x:         x,
		sm:        sm,
		lat:       lat,
		gold:      gold,
		nodeScore: make([]float64, n),
		edgeScore: make([]float64, len(lat.Edges)),
		alpha:     make([]float64, n),
		beta:      make([]float64, n),
	}, nil
}

// degenerate reports whether the example can never contribute: either no
// alignment consumes both strings, or none does so in the gold class.
// This is a property of the lattice alone, independent of the weights.
func (e *engine) degenerate() bool {
	for _, v := range e.lat.finals {
		if e.sm.classOf(e.lat.Nodes[v].State) == e.gold {
			return false
		}
	}
	return true
}

// computeScores fills the log potential tables for the current weight
// snapshot. Node scores take the features at the node's position; edge
// scores take the features at the edge's destination position, the
// convention that fixes which tensor slice each transition weight
// multiplies.
func (e *engine) computeScores(w []float64) {
	nStates := e.sm.NumStates()
	nf := e.x.NumFeatures()
	for v, nd := range e.lat.Nodes {
		e.nodeScore[v] = floats.Dot(e.x.features(nd.I, nd.J), w[nd.State*nf:(nd.State+1)*nf])
	}
	for k, ed := range e.lat.Edges {
		dst := e.lat.Nodes[ed.Dst]
		col := nStates + ed.Transition
		e.edgeScore[k] = floats.Dot(e.x.features(dst.I, dst.J), w[col*nf:(col+1)*nf])
	}
}

// forwardBackward runs both passes in the log domain and stores the
// example's log-likelihood log Z_gold - log Z_all. All accumulation is
// log-space; the only exponentiations happen on normalized quantities, so
// large scores cannot overflow into the tables.
func (e *engine) forwardBackward(w []float64) {
	lat := e.lat
	e.computeScores(w)

	// Forward. Nodes are in topological order, so alpha[v] is complete
	// by the time v's out-edges are relaxed.
	for v := range e.alpha {
		e.alpha[v] = math.Inf(-1)
	}
	for _, v := range lat.starts {
		e.alpha[v] = 0
	}
	for v := range lat.Nodes {
		e.alpha[v] += e.nodeScore[v]
		lo, hi := lat.outEdges(v)
		for k := lo; k < hi; k++ {
			dst := lat.Edges[k].Dst
			e.alpha[dst] = logAddExp(e.alpha[dst], e.alpha[v]+e.edgeScore[k])
		}
	}

	// Backward, seeded at the accepting nodes. Dead-end nodes keep
	// beta = -inf and drop out of every marginal.
	for v := range e.beta {
		e.beta[v] = math.Inf(-1)
	}
	for _, v := range lat.finals {
		e.beta[v] = 0
	}
	for v := len(lat.Nodes) - 1; v >= 0; v-- {
		lo, hi := lat.outEdges(v)
		for k := lo; k < hi; k++ {
			dst := lat.Edges[k].Dst
			e.beta[v] = logAddExp(e.beta[v], e.edgeScore[k]+e.nodeScore[dst]+e.beta[dst])
		}
	}

	e.logZAll = math.Inf(-1)
	e.logZGold = math.Inf(-1)
	for _, v := range lat.finals {
		e.logZAll = logAddExp(e.logZAll, e.alpha[v])
		if e.sm.classOf(lat.Nodes[v].State) == e.gold {
			e.logZGold = logAddExp(e.logZGold, e.alpha[v])
		}
	}
	e.ll = e.logZGold - e.logZAll
	if math.IsInf(e.logZGold, -1) {
		// No gold-class path; log-likelihood is -inf regardless of Z_all.
		e.ll = math.Inf(-1)
	}
}

// addDerivative accumulates d(ll)/dw into grad: the gold-class feature
// expectation minus the all-class feature expectation. State columns take
// the features at the node's position; transition columns take the
// features at the edge's destination position. Must run after
// forwardBackward; a degenerate example contributes nothing.
func (e *engine) addDerivative(grad []float64) {
	if math.IsInf(e.ll, 0) || math.IsNaN(e.ll) {
		return
	}
	lat := e.lat
	nStates := e.sm.NumStates()
	nf := e.x.NumFeatures()

	for v, nd := range lat.Nodes {
		mass := e.alpha[v] + e.beta[v]
		if math.IsInf(mass, -1) {
			continue
		}
		mw := -math.Exp(mass - e.logZAll)
		if e.sm.classOf(nd.State) == e.gold {
			mw += math.Exp(mass - e.logZGold)
		}
		if mw == 0 {
			continue
		}
		floats.AddScaled(grad[nd.State*nf:(nd.State+1)*nf], mw, e.x.features(nd.I, nd.J))
	}
	for k, ed := range lat.Edges {
		dst := lat.Nodes[ed.Dst]
		mass := e.alpha[ed.Src] + e.edgeScore[k] + e.nodeScore[ed.Dst] + e.beta[ed.Dst]
		if math.IsInf(mass, -1) {
			continue
		}
		mw := -math.Exp(mass - e.logZAll)
		if e.sm.classOf(dst.State) == e.gold {
			mw += math.Exp(mass - e.logZGold)
		}
		if mw == 0 {
			continue
		}
		col := nStates + ed.Transition
		floats.AddScaled(grad[col*nf:(col+1)*nf], mw, e.x.features(dst.I, dst.J))
	}
}

// logAddExp returns log(exp(a) + exp(b)) without overflow.
func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}
