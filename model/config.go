// Package model implements a decoder-only transformer with RMS
// normalization, rotary position embeddings, grouped-query attention with
// KV caching, and a SwiGLU feed-forward network, plus the autoregressive
// generation loop that drives it.
package model

import "fmt"

// Config holds the decoder hyperparameters. All fields are fixed at
// construction time.
type Config struct {
	// Dim is the model width (hidden size).
	Dim int
	// NumLayers is the number of decoder blocks.
	NumLayers int
	// NumHeads is the number of query heads.
	NumHeads int
	// NumKVHeads is the number of key/value heads. Must evenly divide
	// NumHeads. Equal to NumHeads for standard multi-head attention.
	NumKVHeads int
	// HiddenDim is the feed-forward intermediate width. When zero it is
	// derived as 2/3 * 4 * Dim rounded up to a multiple of MultipleOf.
	HiddenDim int
	// MultipleOf is the rounding multiple for the derived HiddenDim.
	MultipleOf int
	// NormEps is the RMS normalization epsilon.
	NormEps float32
	// RopeTheta is the rotary base frequency.
	RopeTheta float64
	// MaxSeqLen bounds the rotary table and causal mask extent.
	MaxSeqLen int
	// Dropout is the dropout probability, active only in training mode.
	Dropout float32
	// VocabSize is the token vocabulary size.
	VocabSize int
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a Config with small-model defaults, applies the
// given options, and validates the result.
func NewConfig(opts ...ConfigOption) (Config, error) {
	c := Config{
		Dim:        512,
		NumLayers:  8,
		NumHeads:   8,
		NumKVHeads: 2,
		MultipleOf: 64,
		NormEps:    1e-5,
		RopeTheta:  1e6,
		MaxSeqLen:  512,
		Dropout:    0.0,
		VocabSize:  6400,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Dim <= 0 || c.NumLayers <= 0 || c.VocabSize <= 0 || c.MaxSeqLen <= 0 {
		return fmt.Errorf("%w: dim=%d layers=%d vocab=%d max_seq_len=%d must all be positive",
			ErrConfig, c.Dim, c.NumLayers, c.VocabSize, c.MaxSeqLen)
	}
	if c.NumHeads <= 0 || c.NumKVHeads <= 0 {
		return fmt.Errorf("%w: num_heads=%d num_kv_heads=%d must be positive", ErrConfig, c.NumHeads, c.NumKVHeads)
	}
	if c.NumHeads%c.NumKVHeads != 0 {
		return fmt.Errorf("%w: num_heads (%d) must be a multiple of num_kv_heads (%d)",
			ErrConfig, c.NumHeads, c.NumKVHeads)
	}
	if c.Dim%c.NumHeads != 0 {
		return fmt.Errorf("%w: dim (%d) must be divisible by num_heads (%d)", ErrConfig, c.Dim, c.NumHeads)
	}
	if c.HeadDim()%2 != 0 {
		return fmt.Errorf("%w: head dimension (%d) must be even for rotary pairs", ErrConfig, c.HeadDim())
	}
	if c.HiddenDim < 0 || c.MultipleOf <= 0 {
		return fmt.Errorf("%w: hidden_dim=%d multiple_of=%d", ErrConfig, c.HiddenDim, c.MultipleOf)
	}
	if c.NormEps <= 0 {
		return fmt.Errorf("%w: norm_eps must be positive, got %g", ErrConfig, c.NormEps)
	}
	if c.RopeTheta <= 0 {
		return fmt.Errorf("%w: rope_theta must be positive, got %g", ErrConfig, c.RopeTheta)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrConfig, c.Dropout)
	}
	return nil
}

// HeadDim returns the per-head dimension.
func (c Config) HeadDim() int {
	return c.Dim / c.NumHeads
}

// FFNHiddenDim returns the effective feed-forward intermediate width.
func (c Config) FFNHiddenDim() int {
	if c.HiddenDim > 0 {
		return c.HiddenDim
	}
	hidden := 2 * (4 * c.Dim) / 3
	return c.MultipleOf * ((hidden + c.MultipleOf - 1) / c.MultipleOf)
}

// WithDim sets the model width.
func WithDim(n int) ConfigOption { return func(c *Config) { c.Dim = n } }

// WithNumLayers sets the number of decoder blocks.
func WithNumLayers(n int) ConfigOption { return func(c *Config) { c.NumLayers = n } }

// WithNumHeads sets the number of query heads.
func WithNumHeads(n int) ConfigOption { return func(c *Config) { c.NumHeads = n } }

// WithNumKVHeads sets the number of key/value heads.
func WithNumKVHeads(n int) ConfigOption { return func(c *Config) { c.NumKVHeads = n } }

// WithHiddenDim sets an explicit feed-forward intermediate width.
func WithHiddenDim(n int) ConfigOption { return func(c *Config) { c.HiddenDim = n } }

// WithMaxSeqLen sets the maximum supported sequence length.
func WithMaxSeqLen(n int) ConfigOption { return func(c *Config) { c.MaxSeqLen = n } }

// WithVocabSize sets the vocabulary size.
func WithVocabSize(n int) ConfigOption { return func(c *Config) { c.VocabSize = n } }

// WithDropout sets the dropout probability.
func WithDropout(p float32) ConfigOption { return func(c *Config) { c.Dropout = p } }

// WithRopeTheta sets the rotary base frequency.
func WithRopeTheta(theta float64) ConfigOption { return func(c *Config) { c.RopeTheta = theta } }

// WithNormEps sets the RMS normalization epsilon.
func WithNormEps(eps float32) ConfigOption { return func(c *Config) { c.NormEps = eps } }
