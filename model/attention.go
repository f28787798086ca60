package model

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"minilm-go/tensor"
)

// Attention implements causal self-attention with grouped-query heads:
// NumHeads query heads share NumKVHeads key/value heads, each key/value
// head serving NumHeads/NumKVHeads query heads. Rotary position embeddings
// are applied to queries and keys before caching, so cached keys never
// need re-rotation.
type Attention struct {
	cfg Config

	Wq *tensor.Tensor // [dim, num_heads * head_dim]
	Wk *tensor.Tensor // [dim, num_kv_heads * head_dim]
	Wv *tensor.Tensor // [dim, num_kv_heads * head_dim]
	Wo *tensor.Tensor // [num_heads * head_dim, dim]

	rope *RopeTable
	mask *CausalMask

	AttnDropout  *Dropout
	ResidDropout *Dropout
}

// NewAttention creates an attention layer sharing the given rotary table
// and causal mask. Weights are zero until initialized or loaded.
func NewAttention(cfg Config, rope *RopeTable, mask *CausalMask) *Attention {
	hd := cfg.HeadDim()
	return &Attention{
		cfg:          cfg,
		Wq:           tensor.New(cfg.Dim, cfg.NumHeads*hd),
		Wk:           tensor.New(cfg.Dim, cfg.NumKVHeads*hd),
		Wv:           tensor.New(cfg.Dim, cfg.NumKVHeads*hd),
		Wo:           tensor.New(cfg.NumHeads*hd, cfg.Dim),
		rope:         rope,
		mask:         mask,
		AttnDropout:  &Dropout{P: cfg.Dropout},
		ResidDropout: &Dropout{P: cfg.Dropout},
	}
}

// Forward runs attention over x [batch, seq, dim]. startPos is the
// absolute position of the first token in x; pastK/pastV, when non-nil,
// hold this layer's cached keys/values for positions [0, startPos). When
// useCache is true the (possibly extended) key/value tensors are returned
// for reuse on the next decode step.
func (a *Attention) Forward(x *tensor.Tensor, startPos int, pastK, pastV *tensor.Tensor, useCache bool) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor, error) {
	batch, seqLen, dim := x.Shape[0], x.Shape[1], x.Shape[2]
	if dim != a.cfg.Dim {
		return nil, nil, nil, fmt.Errorf("%w: attention input width %d, want %d", ErrShapeMismatch, dim, a.cfg.Dim)
	}

	hd := a.cfg.HeadDim()
	nh, nkv := a.cfg.NumHeads, a.cfg.NumKVHeads

	xFlat := x.Reshape(batch*seqLen, dim)
	q := splitHeads(tensor.MatMul(xFlat, a.Wq), batch, seqLen, nh, hd)
	k := splitHeads(tensor.MatMul(xFlat, a.Wk), batch, seqLen, nkv, hd)
	v := splitHeads(tensor.MatMul(xFlat, a.Wv), batch, seqLen, nkv, hd)

	if err := a.rope.Apply(q, k, startPos); err != nil {
		return nil, nil, nil, err
	}

	cachedLen := 0
	if pastK != nil {
		if pastK.Shape[0] != batch || pastK.Shape[1] != nkv || pastK.Shape[3] != hd {
			return nil, nil, nil, fmt.Errorf("%w: cached keys %v incompatible with [%d, %d, *, %d]",
				ErrShapeMismatch, pastK.Shape, batch, nkv, hd)
		}
		if pastK.Shape[2] != startPos {
			return nil, nil, nil, fmt.Errorf("%w: cache holds %d positions but start position is %d",
				ErrShapeMismatch, pastK.Shape[2], startPos)
		}
		cachedLen = pastK.Shape[2]
		k = tensor.ConcatSeq(pastK, k)
		v = tensor.ConcatSeq(pastV, v)
	}

	var newK, newV *tensor.Tensor
	if useCache {
		newK, newV = k, v
	}

	// Repeat key/value heads so every query head has a matching slot.
	rep := nh / nkv
	kr := repeatKVHeads(k, rep)
	vr := repeatKVHeads(v, rep)

	out := a.scaledDotProduct(q, kr, vr, cachedLen)

	merged := mergeHeads(out, batch, seqLen, nh, hd)
	proj := tensor.MatMul(merged.Reshape(batch*seqLen, nh*hd), a.Wo)
	result := a.ResidDropout.Forward(proj.Reshape(batch, seqLen, dim))

	return result, newK, newV, nil
}

// scaledDotProduct computes masked attention per (batch, head) pair.
// Query row i sits at absolute position cachedLen+i while key column j
// sits at absolute position j, so the precomputed mask row/column can be
// read directly; attention to positions beyond the query is always forced
// to zero probability regardless of cache state.
func (a *Attention) scaledDotProduct(q, k, v *tensor.Tensor, cachedLen int) *tensor.Tensor {
	batch, nh, qLen, hd := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	kvLen := k.Shape[2]
	scale := float32(1.0 / math.Sqrt(float64(hd)))

	result := tensor.New(batch, nh, qLen, hd)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for b := 0; b < batch; b++ {
		for h := 0; h < nh; h++ {
			g.Go(func() error {
				qOff := ((b*nh + h) * qLen) * hd
				kvOff := ((b*nh + h) * kvLen) * hd

				scores := tensor.New(qLen, kvLen)
				for i := 0; i < qLen; i++ {
					qRow := q.Data[qOff+i*hd : qOff+(i+1)*hd]
					for j := 0; j < kvLen; j++ {
						kRow := k.Data[kvOff+j*hd : kvOff+(j+1)*hd]
						sum := float32(0)
						for d, qv := range qRow {
							sum += qv * kRow[d]
						}
						scores.Data[i*kvLen+j] = sum*scale + a.mask.At(cachedLen+i, j)
					}
				}

				tensor.SoftmaxRows(scores)
				weights := a.AttnDropout.Forward(scores)

				for i := 0; i < qLen; i++ {
					outRow := result.Data[qOff+i*hd : qOff+(i+1)*hd]
					for j := 0; j < kvLen; j++ {
						w := weights.Data[i*kvLen+j]
						if w == 0 {
							continue
						}
						vRow := v.Data[kvOff+j*hd : kvOff+(j+1)*hd]
						for d, vv := range vRow {
							outRow[d] += w * vv
						}
					}
				}
				return nil
			})
		}
	}
	g.Wait()

	return result
}

// splitHeads reshapes [batch*seq, heads*headDim] into
// [batch, heads, seq, headDim].
func splitHeads(x *tensor.Tensor, batch, seqLen, heads, headDim int) *tensor.Tensor {
	width := heads * headDim
	result := tensor.New(batch, heads, seqLen, headDim)
	for b := 0; b < batch; b++ {
		for s := 0; s < seqLen; s++ {
			src := (b*seqLen + s) * width
			for h := 0; h < heads; h++ {
				dst := ((b*heads+h)*seqLen + s) * headDim
				copy(result.Data[dst:dst+headDim], x.Data[src+h*headDim:src+(h+1)*headDim])
			}
		}
	}
	return result
}

// mergeHeads reshapes [batch, heads, seq, headDim] back into
// [batch, seq, heads*headDim].
func mergeHeads(x *tensor.Tensor, batch, seqLen, heads, headDim int) *tensor.Tensor {
	width := heads * headDim
	result := tensor.New(batch, seqLen, width)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seqLen; s++ {
				src := ((b*heads+h)*seqLen + s) * headDim
				dst := (b*seqLen+s)*width + h*headDim
				copy(result.Data[dst:dst+headDim], x.Data[src:src+headDim])
			}
		}
	}
	return result
}

// repeatKVHeads repeats each key/value head rep times along the head axis
// so grouped key/value heads line up with their query heads.
func repeatKVHeads(x *tensor.Tensor, rep int) *tensor.Tensor {
	if rep == 1 {
		return x
	}
	batch, nkv, seqLen, headDim := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	result := tensor.New(batch, nkv*rep, seqLen, headDim)
	rowLen := seqLen * headDim
	for b := 0; b < batch; b++ {
		for kv := 0; kv < nkv; kv++ {
			src := ((b*nkv + kv) * seqLen) * headDim
			for r := 0; r < rep; r++ {
				dst := ((b*nkv*rep + kv*rep + r) * seqLen) * headDim
				copy(result.Data[dst:dst+rowLen], x.Data[src:src+rowLen])
			}
		}
	}
	return result
}
