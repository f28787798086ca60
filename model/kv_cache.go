package model

import "minilm-go/tensor"

// KVCache stores per-layer key and value projections for all tokens
// processed so far in one generation run. Each layer's tensors grow along
// the sequence axis as decoding proceeds. A cache is owned by exactly one
// generation run and must not be shared across concurrent runs.
type KVCache struct {
	keys   []*tensor.Tensor // per layer [batch, num_kv_heads, seq, head_dim]
	values []*tensor.Tensor
}

// NewKVCache creates an empty cache with one slot per layer.
func NewKVCache(numLayers int) *KVCache {
	return &KVCache{
		keys:   make([]*tensor.Tensor, numLayers),
		values: make([]*tensor.Tensor, numLayers),
	}
}

// Layer returns the cached key and value tensors for a layer, or nil when
// nothing has been cached yet.
func (c *KVCache) Layer(i int) (*tensor.Tensor, *tensor.Tensor) {
	if c == nil || i < 0 || i >= len(c.keys) {
		return nil, nil
	}
	return c.keys[i], c.values[i]
}

// SetLayer replaces the cached tensors for a layer.
func (c *KVCache) SetLayer(i int, k, v *tensor.Tensor) {
	if i >= 0 && i < len(c.keys) {
		c.keys[i] = k
		c.values[i] = v
	}
}

// NumLayers returns the number of layer slots.
func (c *KVCache) NumLayers() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Len returns the number of cached positions, zero for an empty cache.
func (c *KVCache) Len() int {
	if c == nil || len(c.keys) == 0 || c.keys[0] == nil {
		return 0
	}
	return c.keys[0].Shape[2]
}
