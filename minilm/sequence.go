package minilm

import "sync/atomic"

// SequenceStatus represents the lifecycle state of a sequence.
type SequenceStatus int

const (
	StatusWaiting SequenceStatus = iota
	StatusRunning
	StatusFinished
)

// Sequence is one generation request: the prompt, tokens appended so far,
// KV block bookkeeping, and a copy of the request's sampling parameters.
type Sequence struct {
	SeqID           int64
	Status          SequenceStatus
	TokenIDs        []int
	LastToken       int
	NumPromptTokens int
	NumCachedTokens int
	BlockTable      []int
	BlockSize       int

	Temperature       float32
	TopP              float32
	RepetitionPenalty float32
	MaxNewTokens      int
	IgnoreEOS         bool
}

var seqCounter atomic.Int64

// NewSequence creates a sequence from prompt token ids and sampling
// parameters. The prompt is copied.
func NewSequence(tokenIDs []int, params *SamplingParams, blockSize int) *Sequence {
	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	return &Sequence{
		SeqID:             seqCounter.Add(1) - 1,
		Status:            StatusWaiting,
		TokenIDs:          tokens,
		LastToken:         tokens[len(tokens)-1],
		NumPromptTokens:   len(tokens),
		BlockTable:        make([]int, 0),
		BlockSize:         blockSize,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
		MaxNewTokens:      params.MaxNewTokens,
		IgnoreEOS:         params.IgnoreEOS,
	}
}

// Len returns the total number of tokens in the sequence.
func (s *Sequence) Len() int {
	return len(s.TokenIDs)
}

// IsFinished reports whether the sequence is done generating.
func (s *Sequence) IsFinished() bool {
	return s.Status == StatusFinished
}

// NumCompletionTokens returns the number of generated tokens.
func (s *Sequence) NumCompletionTokens() int {
	return len(s.TokenIDs) - s.NumPromptTokens
}

// PromptTokenIDs returns the prompt portion of the sequence.
func (s *Sequence) PromptTokenIDs() []int {
	return s.TokenIDs[:s.NumPromptTokens]
}

// CompletionTokenIDs returns the generated portion of the sequence.
func (s *Sequence) CompletionTokenIDs() []int {
	return s.TokenIDs[s.NumPromptTokens:]
}

// NumBlocks returns the number of KV blocks the sequence occupies.
func (s *Sequence) NumBlocks() int {
	return (s.Len() + s.BlockSize - 1) / s.BlockSize
}

// Block returns the token ids covered by the i-th KV block.
func (s *Sequence) Block(i int) []int {
	if i < 0 || i >= s.NumBlocks() {
		return nil
	}
	start := i * s.BlockSize
	end := min(start+s.BlockSize, len(s.TokenIDs))
	return s.TokenIDs[start:end]
}

// AppendToken appends a generated token.
func (s *Sequence) AppendToken(tokenID int) {
	s.TokenIDs = append(s.TokenIDs, tokenID)
	s.LastToken = tokenID
}

// SeenTokens returns the distinct token ids emitted so far, for the
// repetition penalty.
func (s *Sequence) SeenTokens() map[int]struct{} {
	seen := make(map[int]struct{}, len(s.TokenIDs))
	for _, id := range s.TokenIDs {
		seen[id] = struct{}{}
	}
	return seen
}
