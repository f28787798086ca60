package minilm

import (
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"minilm-go/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineGenerateWithMockRunner(t *testing.T) {
	config := NewConfig(WithEOS(99))
	runner := NewMockModelRunner(99, 10, 3)
	engine := NewEngine(config, runner, NewMockTokenizer(99), discardLogger())
	defer engine.Close()

	prompts := []any{
		[]int{1, 2, 3},
		[]int{4, 5},
		[]int{6},
	}
	outputs, err := engine.Generate(prompts, NewSamplingParams(WithMaxNewTokens(16)), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outputs) != len(prompts) {
		t.Fatalf("got %d outputs, want %d", len(outputs), len(prompts))
	}

	for i, out := range outputs {
		if got := len(out.TokenIDs); got != 3 {
			t.Errorf("output %d has %d tokens, want 3", i, got)
		}
		if out.TokenIDs[len(out.TokenIDs)-1] != 99 {
			t.Errorf("output %d does not end with the end token: %v", i, out.TokenIDs)
		}
	}

	// Outputs come back in request order.
	for i := 1; i < len(outputs); i++ {
		if outputs[i].SeqID <= outputs[i-1].SeqID {
			t.Errorf("outputs out of request order: %d then %d", outputs[i-1].SeqID, outputs[i].SeqID)
		}
	}
}

func TestEngineHonorsMaxNewTokens(t *testing.T) {
	config := NewConfig(WithEOS(99))
	runner := NewMockModelRunner(99, 10, 0) // never emits the end token
	engine := NewEngine(config, runner, NewMockTokenizer(99), discardLogger())
	defer engine.Close()

	outputs, err := engine.Generate([]any{[]int{1, 2}}, NewSamplingParams(WithMaxNewTokens(4)), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := len(outputs[0].TokenIDs); got != 4 {
		t.Errorf("completion length = %d, want the 4-token budget", got)
	}
}

func TestEngineStringPromptRoundTrip(t *testing.T) {
	config := NewConfig(WithEOS(99))
	runner := NewMockModelRunner(99, 10, 2)
	engine := NewEngine(config, runner, NewMockTokenizer(99), discardLogger())
	defer engine.Close()

	outputs, err := engine.Generate([]any{"hi"}, NewSamplingParams(WithMaxNewTokens(8)), false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// The decoded text skips the end token.
	if strings.ContainsRune(outputs[0].Text, rune(99+32)) {
		t.Errorf("decoded text contains the end token: %q", outputs[0].Text)
	}
}

func TestEngineAddRequestValidation(t *testing.T) {
	config := NewConfig(WithMaxModelLen(4), WithMaxBatchedTokens(4))
	engine := NewEngine(config, NewMockModelRunner(2, 10, 1), NewMockTokenizer(2), discardLogger())
	defer engine.Close()

	params := NewSamplingParams()
	if _, err := engine.AddRequest(3.14, params); err == nil {
		t.Errorf("unsupported prompt type accepted")
	}
	if _, err := engine.AddRequest([]int{}, params); err == nil {
		t.Errorf("empty prompt accepted")
	}
	if _, err := engine.AddRequest([]int{1, 2, 3, 4, 5}, params); err == nil {
		t.Errorf("over-length prompt accepted")
	}
	if _, err := engine.AddRequest([]int{1, 2}, params); err != nil {
		t.Errorf("valid prompt rejected: %v", err)
	}
}

func TestEngineWithTransformerRunner(t *testing.T) {
	cfg, err := model.NewConfig(
		model.WithDim(16),
		model.WithNumLayers(2),
		model.WithNumHeads(4),
		model.WithNumKVHeads(2),
		model.WithMaxSeqLen(32),
		model.WithVocabSize(16),
	)
	if err != nil {
		t.Fatalf("model.NewConfig: %v", err)
	}
	m, err := model.NewTransformer(cfg)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	m.RandomInit(rand.New(rand.NewSource(1)))

	config := NewConfig(WithMaxModelLen(32), WithMaxBatchedTokens(32), WithEOS(2))
	runner := NewTransformerRunner(m, rand.New(rand.NewSource(2)))
	engine := NewEngine(config, runner, NewMockTokenizer(2), discardLogger())
	defer engine.Close()

	// IgnoreEOS pins every completion to the exact token budget, making
	// the run deterministic in shape regardless of what gets sampled.
	params := NewSamplingParams(WithMaxNewTokens(4), WithIgnoreEOS(true))
	outputs, err := engine.Generate([]any{[]int{1, 2, 3}, []int{4, 5}}, params, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i, out := range outputs {
		if got := len(out.TokenIDs); got != 4 {
			t.Errorf("output %d completion length = %d, want 4", i, got)
		}
		for _, id := range out.TokenIDs {
			if id < 0 || id >= 16 {
				t.Errorf("output %d contains out-of-vocabulary token %d", i, id)
			}
		}
	}
}
