package model

import (
	"fmt"

	"minilm-go/tensor"
)

// Transformer is the decoder stack: token embedding, an ordered list of
// decoder blocks sharing one rotary table and causal mask, a final RMS
// normalization, and a vocabulary projection tied to the embedding table.
type Transformer struct {
	cfg Config

	// TokEmbedding and Output are the same tensor: the output projection
	// reuses the embedding table (tied weights), so logits and parameter
	// count depend on a single [vocab, dim] matrix.
	TokEmbedding *tensor.Tensor
	Output       *tensor.Tensor

	Blocks []*Block
	Norm   *RMSNorm

	rope *RopeTable
	mask *CausalMask

	EmbedDropout *Dropout
}

// NewTransformer builds a decoder stack for the given configuration. The
// rotary table and causal mask are precomputed here and shared read-only
// by every layer and every forward call. Weights start at zero; use
// RandomInit or LoadWeights.
func NewTransformer(cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rope := NewRopeTable(cfg.HeadDim(), cfg.MaxSeqLen, cfg.RopeTheta)
	mask := NewCausalMask(cfg.MaxSeqLen)

	emb := tensor.New(cfg.VocabSize, cfg.Dim)
	t := &Transformer{
		cfg:          cfg,
		TokEmbedding: emb,
		Output:       emb,
		Blocks:       make([]*Block, cfg.NumLayers),
		Norm:         NewRMSNorm(cfg.Dim, cfg.NormEps),
		rope:         rope,
		mask:         mask,
		EmbedDropout: &Dropout{P: cfg.Dropout},
	}
	for i := range t.Blocks {
		t.Blocks[i] = NewBlock(cfg, rope, mask)
	}
	return t, nil
}

// Config returns the model configuration.
func (t *Transformer) Config() Config {
	return t.cfg
}

// SetTraining toggles dropout on every layer.
func (t *Transformer) SetTraining(training bool) {
	t.EmbedDropout.Training = training
	for _, blk := range t.Blocks {
		blk.Attention.AttnDropout.Training = training
		blk.Attention.ResidDropout.Training = training
		blk.FFN.Drop.Training = training
	}
}

// Forward runs the decoder over a batch of equal-length token rows and
// returns vocabulary logits [batch, seq, vocab]. startPos is the absolute
// position of the first input token: 0 for a fresh prompt pass, the cache
// length for an incremental single-token pass. When useCache is true the
// returned cache holds each layer's extended keys/values; otherwise the
// returned cache is nil.
//
// The returned logits tensor is freshly allocated per call; nothing is
// shared between calls except the read-only rotary table and mask.
func (t *Transformer) Forward(tokens [][]int, cache *KVCache, useCache bool, startPos int) (*tensor.Tensor, *KVCache, error) {
	batch := len(tokens)
	if batch == 0 || len(tokens[0]) == 0 {
		return nil, nil, fmt.Errorf("%w: empty input", ErrShapeMismatch)
	}
	seqLen := len(tokens[0])
	for i, row := range tokens {
		if len(row) != seqLen {
			return nil, nil, fmt.Errorf("%w: row %d has length %d, want %d", ErrShapeMismatch, i, len(row), seqLen)
		}
	}
	if startPos < 0 || startPos+seqLen > t.cfg.MaxSeqLen {
		return nil, nil, fmt.Errorf("%w: positions [%d, %d) exceed max_seq_len %d",
			ErrSequenceTooLong, startPos, startPos+seqLen, t.cfg.MaxSeqLen)
	}
	if cache != nil && cache.NumLayers() != len(t.Blocks) {
		return nil, nil, fmt.Errorf("%w: cache has %d layers, model has %d",
			ErrShapeMismatch, cache.NumLayers(), len(t.Blocks))
	}

	h, err := t.embed(tokens)
	if err != nil {
		return nil, nil, err
	}
	h = t.EmbedDropout.Forward(h)

	var newCache *KVCache
	if useCache {
		newCache = NewKVCache(len(t.Blocks))
	}

	for i, blk := range t.Blocks {
		pastK, pastV := cache.Layer(i)
		var newK, newV *tensor.Tensor
		h, newK, newV, err = blk.Forward(h, startPos, pastK, pastV, useCache)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if useCache {
			newCache.SetLayer(i, newK, newV)
		}
	}

	h = t.Norm.Forward(h)
	logits := tensor.MatMulT(h.Reshape(batch*seqLen, t.cfg.Dim), t.Output)

	return logits.Reshape(batch, seqLen, t.cfg.VocabSize), newCache, nil
}

func (t *Transformer) embed(tokens [][]int) (*tensor.Tensor, error) {
	batch, seqLen, dim := len(tokens), len(tokens[0]), t.cfg.Dim
	result := tensor.New(batch, seqLen, dim)
	for b, row := range tokens {
		for s, id := range row {
			if id < 0 || id >= t.cfg.VocabSize {
				return nil, fmt.Errorf("%w: token id %d outside vocabulary of size %d",
					ErrShapeMismatch, id, t.cfg.VocabSize)
			}
			dst := (b*seqLen + s) * dim
			copy(result.Data[dst:dst+dim], t.TokEmbedding.Data[id*dim:(id+1)*dim])
		}
	}
	return result, nil
}

// LastLogits extracts the logits row for the final position of each batch
// entry from a [batch, seq, vocab] tensor. The returned slices alias the
// tensor's backing array.
func LastLogits(logits *tensor.Tensor) [][]float32 {
	batch, seqLen, vocab := logits.Shape[0], logits.Shape[1], logits.Shape[2]
	rows := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		off := ((b*seqLen + seqLen - 1)) * vocab
		rows[b] = logits.Data[off : off+vocab]
	}
	return rows
}
