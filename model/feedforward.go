package model

import "minilm-go/tensor"

// FeedForward is a gated two-branch expansion network (SwiGLU): the first
// branch is SiLU-activated and gates the second, and the product is
// projected back to model width. It acts independently per position.
type FeedForward struct {
	W1 *tensor.Tensor // [dim, hidden] gate branch
	W2 *tensor.Tensor // [hidden, dim] down projection
	W3 *tensor.Tensor // [dim, hidden] up branch

	Drop *Dropout
}

// NewFeedForward creates a feed-forward block with the configured
// intermediate width (derived from Dim and MultipleOf when not explicit).
func NewFeedForward(cfg Config) *FeedForward {
	hidden := cfg.FFNHiddenDim()
	return &FeedForward{
		W1:   tensor.New(cfg.Dim, hidden),
		W2:   tensor.New(hidden, cfg.Dim),
		W3:   tensor.New(cfg.Dim, hidden),
		Drop: &Dropout{P: cfg.Dropout},
	}
}

// Forward computes drop(W2(silu(W1 x) * W3 x)) over x [batch, seq, dim].
func (f *FeedForward) Forward(x *tensor.Tensor) *tensor.Tensor {
	batch, seqLen, dim := x.Shape[0], x.Shape[1], x.Shape[2]
	xFlat := x.Reshape(batch*seqLen, dim)

	gate := tensor.SiLU(tensor.MatMul(xFlat, f.W1))
	up := tensor.MatMul(xFlat, f.W3)
	down := tensor.MatMul(tensor.Mul(gate, up), f.W2)

	return f.Drop.Forward(down.Reshape(batch, seqLen, dim))
}
