package hacrf

import "fmt"

// Node is one lattice vertex: prefixes of length I and J have been
// aligned and the machine is in State.
type Node struct {
	I     int
	J     int
	State int
}

// Edge is one application of a transition, from node index Src to node
// index Dst. Transition indexes the state machine's transition list and
// selects the edge's parameter column.
type Edge struct {
	Src        int
	Dst        int
	Transition int
}

// Lattice is the DAG of alignment states for one example. It is built
// once per example and immutable thereafter. Nodes are emitted in
// lexicographic (I, J, State) order, which is a topological order because
// every edge strictly increases (I, J) in the product order; edges are
// grouped by source node in that same order.
type Lattice struct {
	Nodes []Node
	Edges []Edge

	edgeStart []int // CSR: out-edges of node v are Edges[edgeStart[v]:edgeStart[v+1]]
	starts    []int // node indices of the entry states at (0, 0)
	finals    []int // node indices at (len1-1, len2-1)
	len1      int
	len2      int
}

// NewLattice builds the reachable lattice for one feature tensor under a
// state machine. Positions on or beyond the tensor bounds are pruned, so
// alignments can never run off either string; a tensor with a zero
// dimension yields an empty lattice.
//
// Construction marks the start states reachable at (0, 0) and scans cells
// in row-major order. Every transition delta is component-wise
// non-negative and not (0, 0), so each edge's destination lies strictly
// later in the scan and emission order is already topological; no
// post-hoc sort is needed. Data-dependent deltas are evaluated at the
// exact position under consideration.
func NewLattice(x *FeatureTensor, sm *StateMachine) (*Lattice, error) {
	len1, len2, _ := x.Dims()
	nStates := sm.NumStates()
	lat := &Lattice{len1: len1, len2: len2}
	if len1 == 0 || len2 == 0 {
		lat.edgeStart = []int{0}
		return lat, nil
	}

	cell := func(i, j, s int) int { return (i*len2+j)*nStates + s }

	reach := make([]bool, len1*len2*nStates)
	nodeID := make([]int, len1*len2*nStates)
	for _, s := range sm.StartStates {
		reach[cell(0, 0, s)] = true
	}

	// Destination cells are resolved to node indices after the scan; a
	// marked cell is always emitted, so the lookup cannot miss.
	dstCells := make([]int, 0, 16)

	for i := 0; i < len1; i++ {
		for j := 0; j < len2; j++ {
			for s := 0; s < nStates; s++ {
				c := cell(i, j, s)
				if !reach[c] {
					continue
				}
				id := len(lat.Nodes)
				nodeID[c] = id
				lat.Nodes = append(lat.Nodes, Node{I: i, J: j, State: s})
				lat.edgeStart = append(lat.edgeStart, len(lat.Edges))
				if i == 0 && j == 0 && isStart(sm, s) {
					lat.starts = append(lat.starts, id)
				}
				if i == len1-1 && j == len2-1 {
					lat.finals = append(lat.finals, id)
				}
				for _, ti := range sm.byFrom[s] {
					di, dj := sm.stepAt(ti, i, j, x)
					if di < 0 || dj < 0 || (di == 0 && dj == 0) {
						return nil, fmt.Errorf("hacrf: transition %d produced invalid delta (%d, %d) at (%d, %d)", ti, di, dj, i, j)
					}
					i1, j1 := i+di, j+dj
					if i1 >= len1 || j1 >= len2 {
						continue
					}
					dc := cell(i1, j1, sm.Transitions[ti].To)
					reach[dc] = true
					lat.Edges = append(lat.Edges, Edge{Src: id, Transition: ti})
					dstCells = append(dstCells, dc)
				}
			}
		}
	}
	lat.edgeStart = append(lat.edgeStart, len(lat.Edges))

	for k := range lat.Edges {
		lat.Edges[k].Dst = nodeID[dstCells[k]]
	}
	return lat, nil
}

// outEdges returns the indices of node v's outgoing edges.
func (l *Lattice) outEdges(v int) (lo, hi int) {
	return l.edgeStart[v], l.edgeStart[v+1]
}

// Starts returns the node indices of the entry states.
func (l *Lattice) Starts() []int { return l.starts }

// Finals returns the node indices at the final position, the accepting
// nodes whose forward mass forms the partition function. Empty when no
// alignment consumes both strings.
func (l *Lattice) Finals() []int { return l.finals }

func isStart(sm *StateMachine, s int) bool {
	for _, st := range sm.StartStates {
		if st == s {
			return true
		}
	}
	return false
}
