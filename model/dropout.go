package model

import (
	"math/rand"

	"minilm-go/tensor"
)

// Dropout zeroes elements with probability P and rescales the survivors by
// 1/(1-P). It is a no-op unless training mode is enabled; inference always
// passes activations through unchanged.
type Dropout struct {
	P        float32
	Training bool
}

// Forward applies dropout to x, returning x unchanged when inactive.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.Training || d.P <= 0 {
		return x
	}
	keep := 1.0 - d.P
	result := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if rand.Float32() < keep {
			result.Data[i] = v / keep
		}
	}
	return result
}
