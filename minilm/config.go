// Package minilm is the serving layer around the decoder: request
// sequences, KV block accounting, a two-phase scheduler, and an engine
// that drives a ModelRunner until every sequence has finished.
package minilm

import "fmt"

// Config holds the engine configuration.
type Config struct {
	MaxNumSeqs       int
	MaxBatchedTokens int
	MaxModelLen      int
	EOS              int
	KVCacheBlockSize int
	NumKVCacheBlocks int
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a Config with default values and validates it.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		MaxNumSeqs:       64,
		MaxBatchedTokens: 4096,
		MaxModelLen:      512,
		EOS:              2,
		KVCacheBlockSize: 16,
		NumKVCacheBlocks: 1024,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

func (c *Config) validate() error {
	if c.MaxNumSeqs <= 0 {
		return fmt.Errorf("max_num_seqs must be positive")
	}
	if c.MaxModelLen <= 0 {
		return fmt.Errorf("max_model_len must be positive")
	}
	if c.MaxBatchedTokens < c.MaxModelLen {
		return fmt.Errorf("max_batched_tokens must be >= max_model_len")
	}
	if c.KVCacheBlockSize <= 0 {
		return fmt.Errorf("kv_cache_block_size must be positive")
	}
	if c.NumKVCacheBlocks <= 0 {
		return fmt.Errorf("num_kv_cache_blocks must be positive")
	}
	return nil
}

// WithMaxNumSeqs sets the maximum number of concurrently running sequences.
func WithMaxNumSeqs(n int) ConfigOption {
	return func(c *Config) { c.MaxNumSeqs = n }
}

// WithMaxBatchedTokens sets the prefill token budget per step.
func WithMaxBatchedTokens(n int) ConfigOption {
	return func(c *Config) { c.MaxBatchedTokens = n }
}

// WithMaxModelLen sets the maximum sequence length.
func WithMaxModelLen(n int) ConfigOption {
	return func(c *Config) { c.MaxModelLen = n }
}

// WithEOS sets the end-of-sequence token id.
func WithEOS(id int) ConfigOption {
	return func(c *Config) { c.EOS = id }
}

// WithKVCacheBlockSize sets the logical KV block size in tokens.
func WithKVCacheBlockSize(n int) ConfigOption {
	return func(c *Config) { c.KVCacheBlockSize = n }
}

// WithNumKVCacheBlocks sets the total number of KV blocks.
func WithNumKVCacheBlocks(n int) ConfigOption {
	return func(c *Config) { c.NumKVCacheBlocks = n }
}
