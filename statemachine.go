package hacrf

import (
	"errors"
	"fmt"
)

// DeltaFunc computes a data-dependent step for a transition considered at
// position (i, j). It must return non-negative offsets that are not both
// zero.
type DeltaFunc func(i, j int, x *FeatureTensor) (di, dj int)

// Transition is one permissible alignment operation: from state From to
// state To, consuming (DI, DJ) positions of the two strings. When Delta
// is non-nil it overrides the fixed offsets and is evaluated at the exact
// position where the transition is considered, never precomputed.
//
// A transition's identity is its index in StateMachine.Transitions; that
// index selects its parameter column.
type Transition struct {
	From  int
	To    int
	DI    int
	DJ    int
	Delta DeltaFunc
}

// StateMachine declares the states and transitions alignments may use.
// States are dense integer IDs; StatesToClasses maps every state to the
// class its sub-lattice scores. Transitions never cross classes, so each
// class's sub-lattice is disjoint from the others.
type StateMachine struct {
	StartStates     []int
	Transitions     []Transition
	StatesToClasses map[int]int

	byFrom [][]int // transition indices grouped by source state
}

// NewStateMachine validates and builds a custom state machine.
// statesToClasses must cover a dense ID range 0..n-1.
func NewStateMachine(startStates []int, transitions []Transition, statesToClasses map[int]int) (*StateMachine, error) {
	n := len(statesToClasses)
	if n == 0 {
		return nil, errors.New("hacrf: state machine has no states")
	}
	for s := 0; s < n; s++ {
		if _, ok := statesToClasses[s]; !ok {
			return nil, fmt.Errorf("hacrf: state IDs must be dense, missing %d", s)
		}
	}
	if len(startStates) == 0 {
		return nil, errors.New("hacrf: state machine has no start states")
	}
	for _, s := range startStates {
		if s < 0 || s >= n {
			return nil, fmt.Errorf("hacrf: start state %d out of range", s)
		}
	}
	for ti, tr := range transitions {
		if tr.From < 0 || tr.From >= n || tr.To < 0 || tr.To >= n {
			return nil, fmt.Errorf("hacrf: transition %d references unknown state", ti)
		}
		if statesToClasses[tr.From] != statesToClasses[tr.To] {
			return nil, fmt.Errorf("hacrf: transition %d crosses classes", ti)
		}
		if tr.Delta == nil {
			if tr.DI < 0 || tr.DJ < 0 {
				return nil, fmt.Errorf("hacrf: transition %d has a negative delta", ti)
			}
			if tr.DI == 0 && tr.DJ == 0 {
				return nil, fmt.Errorf("hacrf: transition %d has a (0,0) delta", ti)
			}
		}
	}
	sm := &StateMachine{
		StartStates:     startStates,
		Transitions:     transitions,
		StatesToClasses: statesToClasses,
	}
	sm.index()
	return sm, nil
}

// DefaultStateMachine constructs the classic edit-operation machine: one
// start state per class with three self-transitions. Transition order is
// all matches (1,1), then all insertions (0,1), then all deletions (1,0);
// this ordering fixes the parameter column each operation trains, so it
// must not change.
func DefaultStateMachine(nClasses int) *StateMachine {
	starts := make([]int, nClasses)
	classes := make(map[int]int, nClasses)
	for c := 0; c < nClasses; c++ {
		starts[c] = c
		classes[c] = c
	}
	transitions := make([]Transition, 0, 3*nClasses)
	for c := 0; c < nClasses; c++ {
		transitions = append(transitions, Transition{From: c, To: c, DI: 1, DJ: 1}) // match
	}
	for c := 0; c < nClasses; c++ {
		transitions = append(transitions, Transition{From: c, To: c, DI: 0, DJ: 1}) // insertion
	}
	for c := 0; c < nClasses; c++ {
		transitions = append(transitions, Transition{From: c, To: c, DI: 1, DJ: 0}) // deletion
	}
	sm := &StateMachine{
		StartStates:     starts,
		Transitions:     transitions,
		StatesToClasses: classes,
	}
	sm.index()
	return sm
}

// NumStates returns the number of states.
func (sm *StateMachine) NumStates() int {
	return len(sm.StatesToClasses)
}

// NumTransitions returns the number of transitions.
func (sm *StateMachine) NumTransitions() int {
	return len(sm.Transitions)
}

// numParamColumns returns the width of the parameter matrix: one column
// per state followed by one per transition.
func (sm *StateMachine) numParamColumns() int {
	return sm.NumStates() + sm.NumTransitions()
}

// stepAt resolves transition ti's delta at position (i, j). This is the
// single dispatch point between fixed and data-dependent deltas.
func (sm *StateMachine) stepAt(ti, i, j int, x *FeatureTensor) (di, dj int) {
	tr := &sm.Transitions[ti]
	if tr.Delta != nil {
		return tr.Delta(i, j, x)
	}
	return tr.DI, tr.DJ
}

// classOf returns the class whose sub-lattice state s belongs to.
func (sm *StateMachine) classOf(s int) int {
	return sm.StatesToClasses[s]
}

func (sm *StateMachine) index() {
	sm.byFrom = make([][]int, sm.NumStates())
	for ti, tr := range sm.Transitions {
		sm.byFrom[tr.From] = append(sm.byFrom[tr.From], ti)
	}
}
