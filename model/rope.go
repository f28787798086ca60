package model

import (
	"fmt"
	"math"

	"minilm-go/tensor"
)

// RopeTable holds precomputed unit rotations for rotary position
// embeddings: one (cos, sin) pair per position and frequency. It is built
// once at model construction, shared by every layer, and never mutated.
//
// The head dimension is treated as headDim/2 adjacent coordinate pairs
// (interleaved layout), each rotated by an angle proportional to absolute
// position and the pair's frequency 1/theta^(2i/headDim).
type RopeTable struct {
	Cos       []float32 // [maxSeqLen * headDim/2]
	Sin       []float32 // [maxSeqLen * headDim/2]
	HeadDim   int
	MaxSeqLen int
}

// NewRopeTable precomputes rotations for all positions in [0, maxSeqLen).
func NewRopeTable(headDim, maxSeqLen int, theta float64) *RopeTable {
	half := headDim / 2
	rt := &RopeTable{
		Cos:       make([]float32, maxSeqLen*half),
		Sin:       make([]float32, maxSeqLen*half),
		HeadDim:   headDim,
		MaxSeqLen: maxSeqLen,
	}

	for i := 0; i < half; i++ {
		freq := 1.0 / math.Pow(theta, float64(2*i)/float64(headDim))
		for pos := 0; pos < maxSeqLen; pos++ {
			angle := float64(pos) * freq
			rt.Cos[pos*half+i] = float32(math.Cos(angle))
			rt.Sin[pos*half+i] = float32(math.Sin(angle))
		}
	}

	return rt
}

// Apply rotates query and key tensors in place. Both are laid out as
// [batch, heads, seq, headDim]; the two may carry different head counts
// (grouped-query attention). Position s in the sequence axis is rotated
// with the table row for absolute position startPos+s, which keeps rotary
// phases consistent between cached and newly computed tokens.
func (rt *RopeTable) Apply(q, k *tensor.Tensor, startPos int) error {
	if len(q.Shape) != 4 || len(k.Shape) != 4 {
		return fmt.Errorf("%w: rope expects 4D [batch, heads, seq, head_dim] tensors", ErrShapeMismatch)
	}
	seqLen := q.Shape[2]
	if k.Shape[2] != seqLen {
		return fmt.Errorf("%w: query and key sequence lengths differ (%d vs %d)", ErrShapeMismatch, seqLen, k.Shape[2])
	}
	if q.Shape[3] != rt.HeadDim || k.Shape[3] != rt.HeadDim {
		return fmt.Errorf("%w: head dim %d does not match rope table %d", ErrShapeMismatch, q.Shape[3], rt.HeadDim)
	}
	if startPos < 0 || startPos+seqLen > rt.MaxSeqLen {
		return fmt.Errorf("%w: positions [%d, %d) exceed rope table extent %d",
			ErrSequenceTooLong, startPos, startPos+seqLen, rt.MaxSeqLen)
	}

	rt.rotate(q, startPos)
	rt.rotate(k, startPos)
	return nil
}

func (rt *RopeTable) rotate(x *tensor.Tensor, startPos int) {
	batch, heads, seqLen := x.Shape[0], x.Shape[1], x.Shape[2]
	half := rt.HeadDim / 2

	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seqLen; s++ {
				base := ((b*heads+h)*seqLen + s) * rt.HeadDim
				tbl := (startPos + s) * half
				for i := 0; i < half; i++ {
					re := x.Data[base+2*i]
					im := x.Data[base+2*i+1]
					cos := rt.Cos[tbl+i]
					sin := rt.Sin[tbl+i]
					// Complex multiply (re + i·im) * (cos + i·sin).
					x.Data[base+2*i] = re*cos - im*sin
					x.Data[base+2*i+1] = re*sin + im*cos
				}
			}
		}
	}
}
