package model

import (
	"fmt"
	"math"
	"math/rand"

	"minilm-go/tensor"
)

// LayerWeights holds the learned parameters of one decoder block, shaped
// per the configuration.
type LayerWeights struct {
	Wq *tensor.Tensor // [dim, num_heads * head_dim]
	Wk *tensor.Tensor // [dim, num_kv_heads * head_dim]
	Wv *tensor.Tensor // [dim, num_kv_heads * head_dim]
	Wo *tensor.Tensor // [num_heads * head_dim, dim]

	W1 *tensor.Tensor // [dim, ffn_hidden]
	W2 *tensor.Tensor // [ffn_hidden, dim]
	W3 *tensor.Tensor // [dim, ffn_hidden]

	AttnNorm *tensor.Tensor // [dim]
	FFNNorm  *tensor.Tensor // [dim]
}

// Weights holds a full parameter set for a Transformer. The embedding
// table doubles as the output projection (tied weights), so no separate
// output matrix exists.
type Weights struct {
	TokEmbedding *tensor.Tensor // [vocab, dim]
	Layers       []LayerWeights
	FinalNorm    *tensor.Tensor // [dim]
}

// LoadWeights copies a parameter set into the model. Every shape is
// checked against the configuration before anything is applied, so a
// mismatch never leaves the model partially updated.
func (t *Transformer) LoadWeights(w Weights) error {
	cfg := t.cfg
	hd := cfg.HeadDim()
	hidden := cfg.FFNHiddenDim()

	if err := checkShape("tok_embedding", w.TokEmbedding, cfg.VocabSize, cfg.Dim); err != nil {
		return err
	}
	if err := checkShape("final_norm", w.FinalNorm, cfg.Dim); err != nil {
		return err
	}
	if len(w.Layers) != cfg.NumLayers {
		return fmt.Errorf("%w: got %d layers, want %d", ErrShapeMismatch, len(w.Layers), cfg.NumLayers)
	}
	for i, lw := range w.Layers {
		prefix := fmt.Sprintf("layer %d ", i)
		checks := []struct {
			name string
			t    *tensor.Tensor
			dims []int
		}{
			{prefix + "wq", lw.Wq, []int{cfg.Dim, cfg.NumHeads * hd}},
			{prefix + "wk", lw.Wk, []int{cfg.Dim, cfg.NumKVHeads * hd}},
			{prefix + "wv", lw.Wv, []int{cfg.Dim, cfg.NumKVHeads * hd}},
			{prefix + "wo", lw.Wo, []int{cfg.NumHeads * hd, cfg.Dim}},
			{prefix + "w1", lw.W1, []int{cfg.Dim, hidden}},
			{prefix + "w2", lw.W2, []int{hidden, cfg.Dim}},
			{prefix + "w3", lw.W3, []int{cfg.Dim, hidden}},
			{prefix + "attn_norm", lw.AttnNorm, []int{cfg.Dim}},
			{prefix + "ffn_norm", lw.FFNNorm, []int{cfg.Dim}},
		}
		for _, c := range checks {
			if err := checkShape(c.name, c.t, c.dims...); err != nil {
				return err
			}
		}
	}

	copy(t.TokEmbedding.Data, w.TokEmbedding.Data)
	copy(t.Norm.Weight.Data, w.FinalNorm.Data)
	for i, lw := range w.Layers {
		blk := t.Blocks[i]
		copy(blk.Attention.Wq.Data, lw.Wq.Data)
		copy(blk.Attention.Wk.Data, lw.Wk.Data)
		copy(blk.Attention.Wv.Data, lw.Wv.Data)
		copy(blk.Attention.Wo.Data, lw.Wo.Data)
		copy(blk.FFN.W1.Data, lw.W1.Data)
		copy(blk.FFN.W2.Data, lw.W2.Data)
		copy(blk.FFN.W3.Data, lw.W3.Data)
		copy(blk.AttnNorm.Weight.Data, lw.AttnNorm.Data)
		copy(blk.FFNNorm.Weight.Data, lw.FFNNorm.Data)
	}
	return nil
}

func checkShape(name string, t *tensor.Tensor, dims ...int) error {
	if t == nil {
		return fmt.Errorf("%w: %s is missing", ErrShapeMismatch, name)
	}
	if len(t.Shape) != len(dims) {
		return fmt.Errorf("%w: %s has shape %v, want %v", ErrShapeMismatch, name, t.Shape, dims)
	}
	for i, d := range dims {
		if t.Shape[i] != d {
			return fmt.Errorf("%w: %s has shape %v, want %v", ErrShapeMismatch, name, t.Shape, dims)
		}
	}
	return nil
}

// RandomInit fills all weights with scaled gaussian noise. Useful for
// tests and demos; real parameters come from LoadWeights.
func (t *Transformer) RandomInit(rng *rand.Rand) {
	scale := float32(1.0 / math.Sqrt(float64(t.cfg.Dim)))
	fill := func(ts *tensor.Tensor) {
		for i := range ts.Data {
			ts.Data[i] = float32(rng.NormFloat64()) * scale
		}
	}
	fill(t.TokEmbedding)
	for _, blk := range t.Blocks {
		fill(blk.Attention.Wq)
		fill(blk.Attention.Wk)
		fill(blk.Attention.Wv)
		fill(blk.Attention.Wo)
		fill(blk.FFN.W1)
		fill(blk.FFN.W2)
		fill(blk.FFN.W3)
	}
}
