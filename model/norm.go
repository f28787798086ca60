package model

import (
	"math"

	"minilm-go/tensor"
)

// RMSNorm rescales each feature vector by its inverse root-mean-square
// magnitude, weighted by a learned per-feature scale. Unlike LayerNorm it
// subtracts no mean and carries no shift term.
type RMSNorm struct {
	Weight *tensor.Tensor // [dim]
	Eps    float32
}

// NewRMSNorm creates an RMSNorm layer with weight initialized to ones.
func NewRMSNorm(dim int, eps float32) *RMSNorm {
	w := tensor.New(dim)
	for i := range w.Data {
		w.Data[i] = 1.0
	}
	return &RMSNorm{Weight: w, Eps: eps}
}

// Forward normalizes the last dimension of x, preserving its shape.
func (n *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	dim := x.Shape[len(x.Shape)-1]
	if dim != len(n.Weight.Data) {
		panic("RMSNorm dimension mismatch")
	}

	rows := x.Size() / dim
	result := tensor.New(x.Shape...)

	for i := 0; i < rows; i++ {
		row := x.Data[i*dim : (i+1)*dim]
		out := result.Data[i*dim : (i+1)*dim]

		meanSq := float32(0)
		for _, v := range row {
			meanSq += v * v
		}
		meanSq /= float32(dim)

		inv := float32(1.0 / math.Sqrt(float64(meanSq+n.Eps)))
		for j, v := range row {
			out[j] = n.Weight.Data[j] * v * inv
		}
	}

	return result
}
