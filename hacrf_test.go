package hacrf

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestAlphabet(t *testing.T) {
	a := NewAlphabet()
	id0 := a.Add("same")
	id1 := a.Add("different")
	id2 := a.Add("same") // duplicate

	if id0 != 0 || id1 != 1 || id2 != 0 {
		t.Errorf("IDs: %d, %d, %d; want 0, 1, 0", id0, id1, id2)
	}
	if a.Size() != 2 {
		t.Errorf("Size = %d, want 2", a.Size())
	}
	if a.Get("missing") != -1 {
		t.Error("Get missing should return -1")
	}
}

func TestTrainConfigErrors(t *testing.T) {
	examples := []*FeatureTensor{
		pairTensor("ab", "ab"),
		pairTensor("cd", "ce"),
		pairTensor("ef", "ef"),
	}
	_, err := Train(examples, []string{"same", "different"}, DefaultTrainConfig())
	if !errors.Is(err, ErrExampleCount) {
		t.Errorf("err = %v, want ErrExampleCount", err)
	}

	_, err = Train(nil, nil, DefaultTrainConfig())
	if !errors.Is(err, ErrNoExamples) {
		t.Errorf("err = %v, want ErrNoExamples", err)
	}

	mixed := []*FeatureTensor{
		pairTensor("ab", "ab"),
		NewFeatureTensor(2, 2, 3),
	}
	_, err = Train(mixed, []string{"same", "same"}, DefaultTrainConfig())
	if !errors.Is(err, ErrFeatureCount) {
		t.Errorf("err = %v, want ErrFeatureCount", err)
	}
}

func trainToyModel(t *testing.T) *Model {
	t.Helper()
	examples := []*FeatureTensor{
		pairTensor("aaa", "aaa"),
		pairTensor("bbb", "bbb"),
		pairTensor("abc", "abc"),
		pairTensor("cba", "cba"),
		pairTensor("abc", "xyz"),
		pairTensor("aaa", "zzz"),
		pairTensor("foo", "bar"),
		pairTensor("qrs", "tuv"),
	}
	labels := []string{
		"same", "same", "same", "same",
		"different", "different", "different", "different",
	}

	config := DefaultTrainConfig()
	config.MaxIterations = 100
	config.L2 = 0.01

	model, err := Train(examples, labels, config)
	if err != nil {
		t.Fatal(err)
	}
	return model
}

func TestTrainSeparableToy(t *testing.T) {
	model := trainToyModel(t)

	// Held-out pairs of the same patterns.
	heldOut := []struct {
		a, b, want string
	}{
		{"ddd", "ddd", "same"},
		{"xy", "xy", "same"},
		{"abc", "qrs", "different"},
		{"mmm", "nop", "different"},
	}
	for _, tc := range heldOut {
		probs, err := model.PredictProba(pairTensor(tc.a, tc.b))
		if err != nil {
			t.Fatalf("PredictProba(%q, %q): %v", tc.a, tc.b, err)
		}
		var sum float64
		for _, p := range probs {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("probabilities sum to %v, want 1", sum)
		}
		pred, err := model.Predict(pairTensor(tc.a, tc.b))
		if err != nil {
			t.Fatal(err)
		}
		if pred != tc.want {
			t.Errorf("Predict(%q, %q) = %q (probs %v), want %q", tc.a, tc.b, pred, probs, tc.want)
		}
	}
}

func TestTrainSkipsDegenerateExamples(t *testing.T) {
	examples := []*FeatureTensor{
		pairTensor("abc", "abc"),
		pairTensor("abc", "xyz"),
		NewFeatureTensor(0, 3, 2), // no possible alignment
	}
	labels := []string{"same", "different", "same"}

	config := DefaultTrainConfig()
	config.MaxIterations = 30
	config.L2 = 0.1

	model, err := Train(examples, labels, config)
	if err != nil {
		t.Fatal(err)
	}
	if model == nil || len(model.Weights) == 0 {
		t.Fatal("expected a trained model despite the degenerate example")
	}
}

func TestTrainAllDegenerate(t *testing.T) {
	examples := []*FeatureTensor{NewFeatureTensor(0, 2, 2)}
	_, err := Train(examples, []string{"same"}, DefaultTrainConfig())
	if err == nil {
		t.Error("expected error when every example is degenerate")
	}
}

func TestModelSaveLoad(t *testing.T) {
	model := trainToyModel(t)

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(model, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.NumFeatures != model.NumFeatures {
		t.Errorf("NumFeatures = %d, want %d", loaded.NumFeatures, model.NumFeatures)
	}
	if len(loaded.Weights) != len(model.Weights) {
		t.Fatalf("weights length = %d, want %d", len(loaded.Weights), len(model.Weights))
	}
	for i := range model.Weights {
		if loaded.Weights[i] != model.Weights[i] {
			t.Fatalf("Weights[%d] = %v, want %v", i, loaded.Weights[i], model.Weights[i])
		}
	}

	// The loaded model rebuilds the default machine and predicts the
	// same distribution.
	x := pairTensor("klm", "klm")
	want, err := model.PredictProba(x)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.PredictProba(x)
	if err != nil {
		t.Fatal(err)
	}
	for label, p := range want {
		if math.Abs(got[label]-p) > 1e-12 {
			t.Errorf("P(%s) = %v after reload, want %v", label, got[label], p)
		}
	}
}

func TestPredictDegenerateInput(t *testing.T) {
	model := trainToyModel(t)
	_, err := model.PredictProba(NewFeatureTensor(0, 2, 2))
	if !errors.Is(err, ErrNoAlignment) {
		t.Errorf("err = %v, want ErrNoAlignment", err)
	}
}

func TestObjectiveSingleWorkerMatchesParallel(t *testing.T) {
	examples := []*FeatureTensor{
		pairTensor("abcd", "abed"),
		pairTensor("xy", "xyz"),
		pairTensor("q", "q"),
	}
	labels := []string{"same", "same", "different"}
	classes := BuildClassAlphabet(labels)
	sm := DefaultStateMachine(classes.Size())

	build := func(workers int) *objective {
		engines := make([]*engine, len(examples))
		for i, x := range examples {
			e, err := newEngine(x, sm, classes.Get(labels[i]))
			if err != nil {
				t.Fatal(err)
			}
			engines[i] = e
		}
		return &objective{engines: engines, workers: workers}
	}

	n := examples[0].NumFeatures() * sm.numParamColumns()
	w := testWeights(n)

	serial := build(1)
	parallel := build(4)
	gradS := make([]float64, n)
	gradP := make([]float64, n)
	nllS := serial.evaluate(w, gradS)
	nllP := parallel.evaluate(w, gradP)

	if math.Abs(nllS-nllP) > 1e-9 {
		t.Errorf("nll differs across worker counts: %v vs %v", nllS, nllP)
	}
	for i := range gradS {
		if math.Abs(gradS[i]-gradP[i]) > 1e-9 {
			t.Fatalf("grad[%d] differs across worker counts: %v vs %v", i, gradS[i], gradP[i])
		}
	}
}
