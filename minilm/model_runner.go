package minilm

// ModelRunner executes one model step over a batch of sequences and
// returns the next token id for each. Implementations own whatever
// per-sequence state they need (KV caches, sessions) and release it when
// told a sequence is done.
type ModelRunner interface {
	// Run executes inference for the given sequences. During prefill the
	// full prompt is consumed; during decode only the newest token.
	Run(seqs []*Sequence, isPrefill bool) ([]int, error)

	// Release drops any per-sequence state held for seq.
	Release(seq *Sequence)

	// Close cleans up resources.
	Close() error
}

// Tokenizer converts between text and token ids. Real tokenization lives
// outside this module; the engine only needs this contract.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokenIDs []int) (string, error)
	EOSTokenID() int
}

// MockModelRunner emits deterministic tokens, for tests and demos.
type MockModelRunner struct {
	eos       int
	vocabSize int
	eosAfter  int
}

// NewMockModelRunner creates a mock runner that emits eos after eosAfter
// completion tokens.
func NewMockModelRunner(eos, vocabSize, eosAfter int) *MockModelRunner {
	return &MockModelRunner{eos: eos, vocabSize: vocabSize, eosAfter: eosAfter}
}

// Run generates mock output tokens.
func (m *MockModelRunner) Run(seqs []*Sequence, isPrefill bool) ([]int, error) {
	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		if m.eosAfter > 0 && seq.NumCompletionTokens() >= m.eosAfter-1 {
			tokenIDs[i] = m.eos
			continue
		}
		tokenIDs[i] = int((seq.SeqID + int64(seq.Len())) % int64(m.vocabSize))
	}
	return tokenIDs, nil
}

// Release implements ModelRunner.
func (m *MockModelRunner) Release(seq *Sequence) {}

// Close implements ModelRunner.
func (m *MockModelRunner) Close() error { return nil }

// MockTokenizer maps characters to token ids, for tests and demos.
type MockTokenizer struct {
	eosTokenID int
}

// NewMockTokenizer creates a mock tokenizer.
func NewMockTokenizer(eosTokenID int) *MockTokenizer {
	return &MockTokenizer{eosTokenID: eosTokenID}
}

// Encode converts each character to a token id.
func (t *MockTokenizer) Encode(text string) ([]int, error) {
	tokens := make([]int, 0, len(text))
	for _, c := range text {
		tokens = append(tokens, int(c)%1000)
	}
	return tokens, nil
}

// Decode converts token ids back to characters.
func (t *MockTokenizer) Decode(tokenIDs []int) (string, error) {
	result := make([]rune, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if id != t.eosTokenID {
			result = append(result, rune(id+32))
		}
	}
	return string(result), nil
}

// EOSTokenID returns the end-of-sequence token id.
func (t *MockTokenizer) EOSTokenID() int {
	return t.eosTokenID
}
