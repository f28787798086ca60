package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"minilm-go/tensor"
)

func testModel(t *testing.T, opts ...ConfigOption) *Transformer {
	t.Helper()
	base := []ConfigOption{
		WithDim(16),
		WithNumLayers(2),
		WithNumHeads(4),
		WithNumKVHeads(2),
		WithMaxSeqLen(16),
		WithVocabSize(32),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	m, err := NewTransformer(cfg)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	m.RandomInit(rand.New(rand.NewSource(42)))
	return m
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		opts []ConfigOption
	}{
		{"heads not divisible by kv heads", []ConfigOption{WithNumHeads(4), WithNumKVHeads(3)}},
		{"dim not divisible by heads", []ConfigOption{WithDim(10), WithNumHeads(4)}},
		{"odd head dim", []ConfigOption{WithDim(12), WithNumHeads(4), WithNumKVHeads(4)}},
		{"zero layers", []ConfigOption{WithNumLayers(0)}},
		{"zero vocab", []ConfigOption{WithVocabSize(0)}},
		{"zero max seq len", []ConfigOption{WithMaxSeqLen(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConfig(tc.opts...); !errors.Is(err, ErrConfig) {
				t.Errorf("NewConfig = %v, want ErrConfig", err)
			}
		})
	}
}

func TestFFNHiddenDim(t *testing.T) {
	cfg, err := NewConfig(WithDim(512))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	// 2*4*512/3 = 1365.33 rounded up to a multiple of 64.
	if got := cfg.FFNHiddenDim(); got != 1408 {
		t.Errorf("FFNHiddenDim = %d, want 1408", got)
	}

	cfg.HiddenDim = 100
	if got := cfg.FFNHiddenDim(); got != 100 {
		t.Errorf("explicit hidden dim = %d, want 100", got)
	}
}

func TestForwardShapes(t *testing.T) {
	m := testModel(t)
	tokens := [][]int{{1, 2, 3}, {4, 5, 6}}

	logits, cache, err := m.Forward(tokens, nil, true, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	wantShape := []int{2, 3, 32}
	for i, d := range wantShape {
		if logits.Shape[i] != d {
			t.Fatalf("logits shape = %v, want %v", logits.Shape, wantShape)
		}
	}
	if cache == nil || cache.Len() != 3 {
		t.Errorf("cache length = %v, want 3", cache.Len())
	}
	if cache.NumLayers() != 2 {
		t.Errorf("cache layers = %d, want 2", cache.NumLayers())
	}
}

func TestForwardCausality(t *testing.T) {
	m := testModel(t)

	a := [][]int{{1, 2, 3, 4}}
	b := [][]int{{1, 2, 3, 9}}

	la, _, err := m.Forward(a, nil, false, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	lb, _, err := m.Forward(b, nil, false, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Changing the last token must not affect logits at earlier positions.
	vocab := m.Config().VocabSize
	for pos := 0; pos < 3; pos++ {
		for v := 0; v < vocab; v++ {
			x, y := la.At(0, pos, v), lb.At(0, pos, v)
			if diff := math.Abs(float64(x - y)); diff > 1e-6 {
				t.Fatalf("position %d logit %d changed with future token: %f vs %f", pos, v, x, y)
			}
		}
	}

	// The final position must see the change.
	changed := false
	for v := 0; v < vocab; v++ {
		if math.Abs(float64(la.At(0, 3, v)-lb.At(0, 3, v))) > 1e-6 {
			changed = true
			break
		}
	}
	if !changed {
		t.Errorf("final-position logits identical despite different last token")
	}
}

func TestForwardIncrementalMatchesFullPass(t *testing.T) {
	m := testModel(t)
	tokens := []int{3, 1, 4, 1, 5}

	full, _, err := m.Forward([][]int{tokens}, nil, false, 0)
	if err != nil {
		t.Fatalf("full Forward: %v", err)
	}

	// Prompt pass over the first token, then one decode step per token.
	logits, cache, err := m.Forward([][]int{tokens[:1]}, nil, true, 0)
	if err != nil {
		t.Fatalf("prompt Forward: %v", err)
	}
	vocab := m.Config().VocabSize
	for pos := 1; pos <= len(tokens); pos++ {
		for v := 0; v < vocab; v++ {
			got := logits.At(0, logits.Shape[1]-1, v)
			want := full.At(0, pos-1, v)
			if diff := math.Abs(float64(got - want)); diff > 1e-4 {
				t.Fatalf("position %d logit %d: incremental %f, full %f", pos-1, v, got, want)
			}
		}
		if pos == len(tokens) {
			break
		}
		logits, cache, err = m.Forward([][]int{{tokens[pos]}}, cache, true, pos)
		if err != nil {
			t.Fatalf("decode Forward at %d: %v", pos, err)
		}
	}
}

func TestTiedEmbeddingAndOutput(t *testing.T) {
	m := testModel(t)

	if m.TokEmbedding != m.Output {
		t.Fatalf("embedding and output projection are distinct tensors")
	}
	m.TokEmbedding.Data[0] = 123
	if m.Output.Data[0] != 123 {
		t.Errorf("write to embedding not visible through output projection")
	}
}

func TestForwardErrors(t *testing.T) {
	m := testModel(t)

	if _, _, err := m.Forward([][]int{{1, 2}, {3}}, nil, false, 0); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("ragged batch = %v, want ErrShapeMismatch", err)
	}
	if _, _, err := m.Forward([][]int{{100}}, nil, false, 0); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("out-of-vocab token = %v, want ErrShapeMismatch", err)
	}
	long := make([]int, 17)
	if _, _, err := m.Forward([][]int{long}, nil, false, 0); !errors.Is(err, ErrSequenceTooLong) {
		t.Errorf("over-length input = %v, want ErrSequenceTooLong", err)
	}
	if _, _, err := m.Forward([][]int{{1}}, nil, false, 16); !errors.Is(err, ErrSequenceTooLong) {
		t.Errorf("out-of-range start position = %v, want ErrSequenceTooLong", err)
	}
}

func zeroWeights(cfg Config) Weights {
	hd := cfg.HeadDim()
	hidden := cfg.FFNHiddenDim()
	w := Weights{
		TokEmbedding: tensor.New(cfg.VocabSize, cfg.Dim),
		FinalNorm:    tensor.New(cfg.Dim),
		Layers:       make([]LayerWeights, cfg.NumLayers),
	}
	for i := range w.FinalNorm.Data {
		w.FinalNorm.Data[i] = 1
	}
	for i := range w.Layers {
		lw := LayerWeights{
			Wq:       tensor.New(cfg.Dim, cfg.NumHeads*hd),
			Wk:       tensor.New(cfg.Dim, cfg.NumKVHeads*hd),
			Wv:       tensor.New(cfg.Dim, cfg.NumKVHeads*hd),
			Wo:       tensor.New(cfg.NumHeads*hd, cfg.Dim),
			W1:       tensor.New(cfg.Dim, hidden),
			W2:       tensor.New(hidden, cfg.Dim),
			W3:       tensor.New(cfg.Dim, hidden),
			AttnNorm: tensor.New(cfg.Dim),
			FFNNorm:  tensor.New(cfg.Dim),
		}
		for j := range lw.AttnNorm.Data {
			lw.AttnNorm.Data[j] = 1
			lw.FFNNorm.Data[j] = 1
		}
		w.Layers[i] = lw
	}
	return w
}

func TestLoadWeights(t *testing.T) {
	m := testModel(t)
	w := zeroWeights(m.Config())
	w.TokEmbedding.Data[5] = 7

	if err := m.LoadWeights(w); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if m.TokEmbedding.Data[5] != 7 {
		t.Errorf("embedding not applied")
	}

	bad := zeroWeights(m.Config())
	bad.Layers[1].Wq = tensor.New(3, 3)
	before := append([]float32(nil), m.TokEmbedding.Data...)
	if err := m.LoadWeights(bad); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("bad shape load = %v, want ErrShapeMismatch", err)
	}
	// A failed load must not have touched anything.
	for i, v := range before {
		if m.TokEmbedding.Data[i] != v {
			t.Fatalf("failed load modified embedding at %d", i)
		}
	}
}
