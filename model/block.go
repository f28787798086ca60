package model

import "minilm-go/tensor"

// Block is one decoder layer in pre-normalization residual form:
// h = x + Attention(Norm(x)); out = h + FeedForward(Norm(h)).
type Block struct {
	Attention *Attention
	FFN       *FeedForward
	AttnNorm  *RMSNorm
	FFNNorm   *RMSNorm
}

// NewBlock creates a decoder block sharing the given rotary table and mask.
func NewBlock(cfg Config, rope *RopeTable, mask *CausalMask) *Block {
	return &Block{
		Attention: NewAttention(cfg, rope, mask),
		FFN:       NewFeedForward(cfg),
		AttnNorm:  NewRMSNorm(cfg.Dim, cfg.NormEps),
		FFNNorm:   NewRMSNorm(cfg.Dim, cfg.NormEps),
	}
}

// Forward applies the block to x [batch, seq, dim], threading this layer's
// cache entry through attention.
func (blk *Block) Forward(x *tensor.Tensor, startPos int, pastK, pastV *tensor.Tensor, useCache bool) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	attnOut, newK, newV, err := blk.Attention.Forward(blk.AttnNorm.Forward(x), startPos, pastK, pastV, useCache)
	if err != nil {
		return nil, nil, nil, err
	}
	h := tensor.Add(x, attnOut)
	out := tensor.Add(h, blk.FFN.Forward(blk.FFNNorm.Forward(h)))
	return out, newK, newV, nil
}
