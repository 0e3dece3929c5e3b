package hacrf

import (
	"math"
	"testing"
)

// bruteBestScore enumerates all complete paths for one class and returns
// the best log score.
func bruteBestScore(lat *Lattice, x *FeatureTensor, sm *StateMachine, w []float64, class int) float64 {
	nf := x.NumFeatures()
	nStates := sm.NumStates()
	score := func(i, j, col int) float64 {
		var s float64
		for f := 0; f < nf; f++ {
			s += x.At(i, j, f) * w[col*nf+f]
		}
		return s
	}
	isFinal := make(map[int]bool)
	for _, v := range lat.Finals() {
		isFinal[v] = true
	}

	best := math.Inf(-1)
	var walk func(v int, acc float64)
	walk = func(v int, acc float64) {
		nd := lat.Nodes[v]
		acc += score(nd.I, nd.J, nd.State)
		if isFinal[v] && sm.classOf(nd.State) == class && acc > best {
			best = acc
		}
		lo, hi := lat.outEdges(v)
		for k := lo; k < hi; k++ {
			ed := lat.Edges[k]
			dst := lat.Nodes[ed.Dst]
			walk(ed.Dst, acc+score(dst.I, dst.J, nStates+ed.Transition))
		}
	}
	for _, v := range lat.Starts() {
		if sm.classOf(lat.Nodes[v].State) == class {
			walk(v, 0)
		}
	}
	return best
}

func TestBestAlignmentAgainstBruteForce(t *testing.T) {
	x := pairTensor("abc", "abd")
	classes := NewAlphabet()
	classes.Add("same")
	classes.Add("different")
	sm := DefaultStateMachine(2)
	model := &Model{
		Classes:     classes,
		NumFeatures: x.NumFeatures(),
		Weights:     testWeights(x.NumFeatures() * sm.numParamColumns()),
	}

	path, got, err := model.BestAlignment(x, "same")
	if err != nil {
		t.Fatal(err)
	}

	lat, err := NewLattice(x, model.StateMachine())
	if err != nil {
		t.Fatal(err)
	}
	want := bruteBestScore(lat, x, model.StateMachine(), model.Weights, 0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("best score = %v, brute force %v", got, want)
	}

	// The path starts at (0,0), ends at the final position, and only
	// advances.
	if path[0].I != 0 || path[0].J != 0 {
		t.Errorf("path starts at (%d, %d), want (0, 0)", path[0].I, path[0].J)
	}
	last := path[len(path)-1]
	if last.I != 2 || last.J != 2 {
		t.Errorf("path ends at (%d, %d), want (2, 2)", last.I, last.J)
	}
	for i := 1; i < len(path); i++ {
		prev, cur := path[i-1], path[i]
		if cur.I < prev.I || cur.J < prev.J || (cur.I == prev.I && cur.J == prev.J) {
			t.Errorf("path step %d does not advance: %+v -> %+v", i, prev, cur)
		}
	}
}

func TestBestAlignmentPrefersMatches(t *testing.T) {
	// With a strong positive weight on the match transition's match
	// feature, the decoded path for an identical pair is the diagonal.
	x := pairTensor("abc", "abc")
	classes := NewAlphabet()
	classes.Add("same")
	sm := DefaultStateMachine(1)
	nf := x.NumFeatures()
	w := make([]float64, nf*sm.numParamColumns())
	// Transition 0 is the match self-loop; reward its match feature.
	w[(sm.NumStates()+0)*nf+1] = 5
	model := &Model{Classes: classes, NumFeatures: nf, Weights: w}

	path, _, err := model.BestAlignment(x, "same")
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 {
		t.Fatalf("path length = %d, want 3", len(path))
	}
	for i, nd := range path {
		if nd.I != i || nd.J != i {
			t.Errorf("path[%d] = (%d, %d), want the diagonal (%d, %d)", i, nd.I, nd.J, i, i)
		}
	}
}

func TestBestAlignmentNoAlignment(t *testing.T) {
	classes := NewAlphabet()
	classes.Add("same")
	sm := DefaultStateMachine(1)
	model := &Model{Classes: classes, NumFeatures: 2, Weights: make([]float64, 2*sm.numParamColumns())}

	if _, _, err := model.BestAlignment(NewFeatureTensor(0, 3, 2), "same"); err == nil {
		t.Error("expected error for degenerate input")
	}
	if _, _, err := model.BestAlignment(pairTensor("ab", "ab"), "missing"); err == nil {
		t.Error("expected error for unknown class")
	}
}
