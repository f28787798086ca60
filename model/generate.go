package model

import (
	"context"
	"fmt"
	"math/rand"
)

// GenerateOptions controls one call to Generate.
type GenerateOptions struct {
	EOSTokenID        int
	PadTokenID        int
	MaxNewTokens      int
	Temperature       float32
	TopP              float32
	RepetitionPenalty float32
	UseCache          bool
	// Rand, when set, makes sampling reproducible. Nil uses the shared
	// math/rand source.
	Rand *rand.Rand
}

// DefaultGenerateOptions returns the standard generation defaults.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		EOSTokenID:        2,
		PadTokenID:        0,
		MaxNewTokens:      1024,
		Temperature:       0.75,
		TopP:              0.90,
		RepetitionPenalty: 1.0,
		UseCache:          true,
	}
}

// Generate runs batched autoregressive decoding. The first pass consumes
// the whole prompt; each later step consumes only the newest token and
// reuses the cache. The result is one row per prompt of length
// promptLen+MaxNewTokens, seeded with the prompt and padded with
// PadTokenID past each sequence's end token.
//
// Every prompt row must have the same length. Sequences finish
// independently: a row stops the step its sampled token equals
// EOSTokenID, and the loop exits as soon as no row remains active or the
// position budget is spent. Cancellation is honored between decode steps,
// never mid-step; on cancellation the partial output is returned together
// with the context error.
func (t *Transformer) Generate(ctx context.Context, prompts [][]int, opts GenerateOptions) ([][]int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	batch := len(prompts)
	if batch == 0 {
		return nil, fmt.Errorf("%w: no prompts", ErrShapeMismatch)
	}
	promptLen := len(prompts[0])
	if promptLen == 0 {
		return nil, fmt.Errorf("%w: empty prompt", ErrShapeMismatch)
	}
	for i, p := range prompts {
		if len(p) != promptLen {
			return nil, fmt.Errorf("%w: prompt %d has length %d, want %d", ErrShapeMismatch, i, len(p), promptLen)
		}
	}
	if opts.MaxNewTokens < 0 {
		return nil, fmt.Errorf("%w: negative max_new_tokens", ErrConfig)
	}

	// Output buffer pre-filled with the pad id and seeded with the prompt.
	totalLen := promptLen + opts.MaxNewTokens
	output := make([][]int, batch)
	for b := range output {
		output[b] = make([]int, totalLen)
		for i := range output[b] {
			output[b][i] = opts.PadTokenID
		}
		copy(output[b], prompts[b])
	}

	// A prompt already at the table extent generates nothing.
	limit := totalLen
	if limit > t.cfg.MaxSeqLen {
		limit = t.cfg.MaxSeqLen
	}

	active := make([]bool, batch)
	for b := range active {
		active[b] = true
	}

	var cache *KVCache
	for curPos := promptLen; curPos < limit; curPos++ {
		if !anyActive(active) {
			break
		}
		select {
		case <-ctx.Done():
			return output, ctx.Err()
		default:
		}

		var inputs [][]int
		var startPos int
		switch {
		case !opts.UseCache:
			// Recompute the full prefix every step.
			inputs = columns(output, 0, curPos)
			startPos = 0
		case cache == nil:
			// Prompt pass.
			inputs = columns(output, 0, curPos)
			startPos = 0
		default:
			// Incremental pass over the newest token only.
			inputs = columns(output, curPos-1, curPos)
			startPos = curPos - 1
		}

		logits, newCache, err := t.Forward(inputs, cache, opts.UseCache, startPos)
		if err != nil {
			return nil, err
		}
		if opts.UseCache {
			cache = newCache
		}

		last := LastLogits(logits)
		for b := 0; b < batch; b++ {
			if !active[b] {
				continue
			}
			row := last[b]
			applyTemperature(row, opts.Temperature)
			if opts.RepetitionPenalty != 1.0 {
				applyRepetitionPenalty(row, seenTokens(output[b][:curPos]), opts.RepetitionPenalty)
			}
			if opts.TopP < 1.0 {
				applyTopP(row, float64(opts.TopP))
			}
			next, err := sampleCategorical(row, opts.Rand)
			if err != nil {
				return nil, fmt.Errorf("sequence %d at position %d: %w", b, curPos, err)
			}
			output[b][curPos] = next
			if next == opts.EOSTokenID {
				active[b] = false
			}
		}
	}

	return output, nil
}

func anyActive(active []bool) bool {
	for _, a := range active {
		if a {
			return true
		}
	}
	return false
}

// columns extracts output[:, start:end] as fresh rows.
func columns(output [][]int, start, end int) [][]int {
	rows := make([][]int, len(output))
	for b, row := range output {
		rows[b] = row[start:end]
	}
	return rows
}

// seenTokens returns the distinct token ids in the row so far.
func seenTokens(row []int) map[int]struct{} {
	seen := make(map[int]struct{}, len(row))
	for _, id := range row {
		seen[id] = struct{}{}
	}
	return seen
}
