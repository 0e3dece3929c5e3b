package hacrf

import (
	"fmt"
	"math"
	"slices"
)

// PredictProba returns the conditional class distribution P(class | x):
// each class's partition function over the full one. Fails with
// ErrNoAlignment when no alignment consumes both strings.
func (m *Model) PredictProba(x *FeatureTensor) (map[string]float64, error) {
	if x.NumFeatures() != m.NumFeatures {
		return nil, fmt.Errorf("hacrf: input has %d features, model expects %d", x.NumFeatures(), m.NumFeatures)
	}
	sm := m.StateMachine()
	e, err := newEngine(x, sm, 0)
	if err != nil {
		return nil, err
	}
	e.forwardBackward(m.Weights)
	if math.IsInf(e.logZAll, -1) {
		return nil, ErrNoAlignment
	}

	logZ := make([]float64, m.Classes.Size())
	for c := range logZ {
		logZ[c] = math.Inf(-1)
	}
	for _, v := range e.lat.finals {
		c := sm.classOf(e.lat.Nodes[v].State)
		logZ[c] = logAddExp(logZ[c], e.alpha[v])
	}

	probs := make(map[string]float64, len(logZ))
	for c, label := range m.Classes.ToStr {
		if math.IsInf(logZ[c], -1) {
			probs[label] = 0
			continue
		}
		probs[label] = math.Exp(logZ[c] - e.logZAll)
	}
	return probs, nil
}

// Predict returns the most probable class for the string pair. Ties
// break toward the class seen first during training.
func (m *Model) Predict(x *FeatureTensor) (string, error) {
	probs, err := m.PredictProba(x)
	if err != nil {
		return "", err
	}
	best := ""
	bestP := math.Inf(-1)
	for _, label := range m.Classes.ToStr {
		if p := probs[label]; p > bestP {
			best, bestP = label, p
		}
	}
	return best, nil
}

// BestAlignment decodes the highest-scoring alignment path for a class
// using the Viterbi algorithm over the lattice: the forward recurrence
// with max in place of sum, plus a backpointer per node. Returns the node
// path from the start state to the final position and the path's log
// score.
func (m *Model) BestAlignment(x *FeatureTensor, class string) ([]Node, float64, error) {
	cid := m.Classes.Get(class)
	if cid < 0 {
		return nil, 0, fmt.Errorf("hacrf: unknown class %q", class)
	}
	if x.NumFeatures() != m.NumFeatures {
		return nil, 0, fmt.Errorf("hacrf: input has %d features, model expects %d", x.NumFeatures(), m.NumFeatures)
	}
	sm := m.StateMachine()
	e, err := newEngine(x, sm, cid)
	if err != nil {
		return nil, 0, err
	}
	lat := e.lat
	e.computeScores(m.Weights)

	// delta[v] = best path score ending at v; bestIn[v] = the edge it
	// arrived through, -1 for start nodes.
	delta := make([]float64, len(lat.Nodes))
	bestIn := make([]int, len(lat.Nodes))
	for v := range delta {
		delta[v] = math.Inf(-1)
		bestIn[v] = -1
	}
	for _, v := range lat.starts {
		if sm.classOf(lat.Nodes[v].State) == cid {
			delta[v] = 0
		}
	}
	for v := range lat.Nodes {
		delta[v] += e.nodeScore[v]
		if math.IsInf(delta[v], -1) {
			continue
		}
		lo, hi := lat.outEdges(v)
		for k := lo; k < hi; k++ {
			dst := lat.Edges[k].Dst
			if cand := delta[v] + e.edgeScore[k]; cand > delta[dst] {
				delta[dst] = cand
				bestIn[dst] = k
			}
		}
	}

	// Best accepting node of the class.
	end := -1
	for _, v := range lat.finals {
		if sm.classOf(lat.Nodes[v].State) != cid {
			continue
		}
		if end < 0 || delta[v] > delta[end] {
			end = v
		}
	}
	if end < 0 || math.IsInf(delta[end], -1) {
		return nil, 0, ErrNoAlignment
	}

	var rev []Node
	for v := end; ; {
		rev = append(rev, lat.Nodes[v])
		k := bestIn[v]
		if k < 0 {
			break
		}
		v = lat.Edges[k].Src
	}
	slices.Reverse(rev)
	return rev, delta[end], nil
}
