// Package hacrf trains Hidden Alignment Conditional Random Fields.
//
// An HACRF scores the alignment between two strings under a finite-state
// machine of edit operations (match, insertion, deletion) and learns
// per-feature weights by maximizing the regularized conditional
// log-likelihood of labeled string pairs. See McCallum, Bellare, and
// Pereira, "A Conditional Random Field for Discriminatively-trained
// Finite-state String Edit Distance".
//
//	model, _ := hacrf.Train(examples, labels, hacrf.DefaultTrainConfig())
//	class, _ := model.Predict(x)
//	probs, _ := model.PredictProba(x)
package hacrf

import "errors"

var (
	// ErrExampleCount indicates that the number of training examples does
	// not match the number of labels.
	ErrExampleCount = errors.New("hacrf: number of examples does not match number of labels")

	// ErrNoExamples indicates an empty training set.
	ErrNoExamples = errors.New("hacrf: empty training set")

	// ErrFeatureCount indicates training examples that disagree on the
	// number of features per position.
	ErrFeatureCount = errors.New("hacrf: examples disagree on feature count")

	// ErrNonFinite indicates that an objective evaluation produced a
	// non-finite value or gradient.
	ErrNonFinite = errors.New("hacrf: objective evaluation became non-finite")

	// ErrNoAlignment indicates an input for which no complete alignment
	// exists under the state machine.
	ErrNoAlignment = errors.New("hacrf: no complete alignment for input")
)

// Alphabet maps between string class labels and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// Model holds the trained HACRF parameters.
type Model struct {
	Classes     *Alphabet `json:"classes"`
	NumFeatures int       `json:"num_features"`
	Weights     []float64 `json:"weights"`
	// Weight layout: one contiguous column of NumFeatures weights per
	// state followed by one per transition, so column c is
	// Weights[c*NumFeatures : (c+1)*NumFeatures].
	// State s occupies column s; transition t occupies column numStates+t.

	sm *StateMachine
}

// StateMachine returns the machine the model scores alignments under.
// Models trained with the default machine (and models loaded from disk)
// rebuild it from the class list.
func (m *Model) StateMachine() *StateMachine {
	if m.sm == nil {
		m.sm = DefaultStateMachine(m.Classes.Size())
	}
	return m.sm
}

// SetStateMachine attaches a custom state machine to a loaded model. The
// machine must produce the same parameter column count the weights were
// trained with.
func (m *Model) SetStateMachine(sm *StateMachine) error {
	if cols := sm.NumStates() + sm.NumTransitions(); cols*m.NumFeatures != len(m.Weights) {
		return errors.New("hacrf: state machine does not match weight shape")
	}
	m.sm = sm
	return nil
}

// BuildClassAlphabet builds the class alphabet from training labels.
func BuildClassAlphabet(labels []string) *Alphabet {
	alpha := NewAlphabet()
	for _, label := range labels {
		alpha.Add(label)
	}
	return alpha
}
