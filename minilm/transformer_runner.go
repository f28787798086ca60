package minilm

import (
	"fmt"
	"math/rand"

	"minilm-go/model"
)

// TransformerRunner runs the in-process decoder. It keeps one KV cache
// per live sequence: prefill builds the cache from the full prompt,
// decode extends it by a single token.
type TransformerRunner struct {
	model  *model.Transformer
	caches map[int64]*model.KVCache
	rng    *rand.Rand
}

// NewTransformerRunner creates a runner over the given decoder. rng may be
// nil for non-deterministic sampling.
func NewTransformerRunner(m *model.Transformer, rng *rand.Rand) *TransformerRunner {
	return &TransformerRunner{
		model:  m,
		caches: make(map[int64]*model.KVCache),
		rng:    rng,
	}
}

// Run implements ModelRunner. Sequences in a batch may have different
// lengths, so each one is forwarded individually.
func (r *TransformerRunner) Run(seqs []*Sequence, isPrefill bool) ([]int, error) {
	tokenIDs := make([]int, len(seqs))

	for i, seq := range seqs {
		var (
			inputs   [][]int
			cache    *model.KVCache
			startPos int
		)
		if isPrefill {
			inputs = [][]int{seq.TokenIDs}
		} else {
			cache = r.caches[seq.SeqID]
			if cache == nil {
				return nil, fmt.Errorf("sequence %d scheduled for decode without a cache", seq.SeqID)
			}
			inputs = [][]int{{seq.LastToken}}
			startPos = cache.Len()
		}

		logits, newCache, err := r.model.Forward(inputs, cache, true, startPos)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		r.caches[seq.SeqID] = newCache

		row := model.LastLogits(logits)[0]
		next, err := model.SampleLogits(row, seq.Temperature, seq.TopP, seq.RepetitionPenalty, seq.SeenTokens(), r.rng)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = next
	}

	return tokenIDs, nil
}

// Release drops the KV cache held for seq.
func (r *TransformerRunner) Release(seq *Sequence) {
	delete(r.caches, seq.SeqID)
}

// Close implements ModelRunner.
func (r *TransformerRunner) Close() error {
	r.caches = nil
	return nil
}
