package model

import "math"

// CausalMask is a precomputed [maxSeqLen, maxSeqLen] additive mask:
// negative infinity above the diagonal, zero elsewhere. It is built once
// at model construction, shared read-only by every layer and decode step;
// only the top-left submatrix matching the current lengths is read.
type CausalMask struct {
	data      []float32
	maxSeqLen int
}

// NewCausalMask builds the mask for sequences up to maxSeqLen.
func NewCausalMask(maxSeqLen int) *CausalMask {
	negInf := float32(math.Inf(-1))
	data := make([]float32, maxSeqLen*maxSeqLen)
	for i := 0; i < maxSeqLen; i++ {
		for j := i + 1; j < maxSeqLen; j++ {
			data[i*maxSeqLen+j] = negInf
		}
	}
	return &CausalMask{data: data, maxSeqLen: maxSeqLen}
}

// At returns the mask value for query position row attending to key
// position col, both absolute.
func (m *CausalMask) At(row, col int) float32 {
	return m.data[row*m.maxSeqLen+col]
}

// MaxSeqLen returns the mask extent.
func (m *CausalMask) MaxSeqLen() int {
	return m.maxSeqLen
}
