package hacrf

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// TrainConfig holds HACRF training hyperparameters.
type TrainConfig struct {
	L2                float64 // L2 regularization strength
	MaxIterations     int     // optimizer iteration cap
	GradientTolerance float64 // convergence threshold on the gradient norm
	Workers           int     // parallel example evaluations; 0 means GOMAXPROCS
	Verbose           bool
}

// DefaultTrainConfig returns the default training config. The reference
// model regularizes with L2 only and defaults it to zero.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		L2:                0,
		MaxIterations:     200,
		GradientTolerance: 1e-5,
	}
}

// Train fits an HACRF on labeled feature tensors using the default
// edit-operation state machine, one start state per class. Each tensor's
// shape is (len1, len2, nf) for one string pair; all examples must share
// nf. Returns the trained model.
func Train(examples []*FeatureTensor, labels []string, config TrainConfig) (*Model, error) {
	if len(examples) != len(labels) {
		return nil, ErrExampleCount
	}
	if len(examples) == 0 {
		return nil, ErrNoExamples
	}
	classes := BuildClassAlphabet(labels)
	return TrainWithStateMachine(examples, labels, classes, DefaultStateMachine(classes.Size()), config)
}

// TrainWithStateMachine fits an HACRF under a custom state machine.
// classes fixes the label-to-class-ID mapping the machine's
// StatesToClasses values refer to; every label must be a member.
func TrainWithStateMachine(examples []*FeatureTensor, labels []string, classes *Alphabet, sm *StateMachine, config TrainConfig) (*Model, error) {
	if len(examples) != len(labels) {
		return nil, ErrExampleCount
	}
	if len(examples) == 0 {
		return nil, ErrNoExamples
	}
	nf := examples[0].NumFeatures()
	for _, x := range examples {
		if x.NumFeatures() != nf {
			return nil, ErrFeatureCount
		}
	}

	// Lattices are built once, before optimization, and reused across
	// every objective evaluation.
	engines := make([]*engine, 0, len(examples))
	degenerate := 0
	for i, x := range examples {
		gold := classes.Get(labels[i])
		if gold < 0 {
			return nil, fmt.Errorf("hacrf: label %q not in class alphabet", labels[i])
		}
		e, err := newEngine(x, sm, gold)
		if err != nil {
			return nil, err
		}
		if e.degenerate() {
			degenerate++
			continue
		}
		engines = append(engines, e)
	}
	if degenerate > 0 {
		slog.Warn("skipping degenerate training examples", "count", degenerate, "total", len(examples))
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("hacrf: all %d training examples are degenerate", len(examples))
	}

	obj := &objective{
		engines: engines,
		l2:      config.L2,
		workers: config.Workers,
	}
	if obj.workers <= 0 {
		obj.workers = runtime.GOMAXPROCS(0)
	}

	nParams := nf * sm.numParamColumns()
	w0 := make([]float64, nParams)

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			return obj.evaluate(w, nil)
		},
		Grad: func(grad, w []float64) {
			obj.evaluate(w, grad)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   config.MaxIterations,
		GradientThreshold: config.GradientTolerance,
	}
	if config.Verbose {
		settings.Recorder = slogRecorder{}
	}

	result, err := optimize.Minimize(problem, w0, settings, &optimize.LBFGS{})
	if obj.err != nil {
		return nil, obj.err
	}
	if err != nil {
		if result == nil {
			return nil, fmt.Errorf("hacrf: optimization failed: %w", err)
		}
		slog.Warn("optimizer stopped early", "status", result.Status, "err", err)
	}
	slog.Debug("training finished", "status", result.Status, "nll", result.F, "iterations", result.Stats.MajorIterations)

	return &Model{
		Classes:     classes,
		NumFeatures: nf,
		Weights:     result.X,
		sm:          sm,
	}, nil
}

// objective aggregates per-example log-likelihoods and gradients into the
// negated quantities the minimizer consumes. It is handed to the external
// optimizer as a pair of Func/Grad closures and is deterministic for a
// given weight vector up to floating-point summation order (exactly so
// with Workers = 1).
type objective struct {
	engines []*engine
	l2      float64
	workers int

	mu  sync.Mutex
	err error // sticky: non-finite evaluation detected
}

// evaluate returns the regularized negative log-likelihood at w and, when
// grad is non-nil, fills it with the negative gradient. The gradient
// accumulator is zeroed at the start of each evaluation. Examples are
// evaluated in parallel; each worker owns private scratch accumulators
// merged under a lock, a reduction that is order-independent in exact
// arithmetic.
func (o *objective) evaluate(w, grad []float64) float64 {
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}

	var total float64
	chunk := (len(o.engines) + o.workers - 1) / o.workers

	var g errgroup.Group
	g.SetLimit(o.workers)
	for lo := 0; lo < len(o.engines); lo += chunk {
		hi := min(lo+chunk, len(o.engines))
		part := o.engines[lo:hi]
		g.Go(func() error {
			var ll float64
			var localGrad []float64
			if grad != nil {
				localGrad = make([]float64, len(grad))
			}
			for _, e := range part {
				e.forwardBackward(w)
				ll += e.ll
				if grad != nil {
					e.addDerivative(localGrad)
				}
			}
			o.mu.Lock()
			total += ll
			if grad != nil {
				floats.Add(grad, localGrad)
			}
			o.mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// The optimizer minimizes, so negate both quantities.
	nll := -total
	if grad != nil {
		floats.Scale(-1, grad)
	}

	if o.l2 > 0 {
		nll += 0.5 * o.l2 * floats.Dot(w, w)
		if grad != nil {
			floats.AddScaled(grad, o.l2, w)
		}
	}

	if !isFinite(nll) || (grad != nil && !allFinite(grad)) {
		o.mu.Lock()
		if o.err == nil {
			o.err = ErrNonFinite
		}
		o.mu.Unlock()
	}
	return nll
}

// slogRecorder streams optimizer progress through slog.
type slogRecorder struct{}

func (slogRecorder) Init() error { return nil }

func (slogRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op == optimize.MajorIteration {
		slog.Debug("training iteration", "iteration", stats.MajorIterations, "nll", loc.F)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
