package minilm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSequenceCopiesPrompt(t *testing.T) {
	prompt := []int{1, 2, 3}
	seq := NewSequence(prompt, NewSamplingParams(), 16)

	prompt[0] = 99
	if seq.TokenIDs[0] != 1 {
		t.Errorf("sequence aliases caller's prompt slice")
	}
	if seq.LastToken != 3 {
		t.Errorf("LastToken = %d, want 3", seq.LastToken)
	}
	if seq.NumPromptTokens != 3 {
		t.Errorf("NumPromptTokens = %d, want 3", seq.NumPromptTokens)
	}
	if seq.Status != StatusWaiting {
		t.Errorf("new sequence status = %v, want StatusWaiting", seq.Status)
	}
}

func TestSequenceIDsAreUnique(t *testing.T) {
	a := NewSequence([]int{1}, NewSamplingParams(), 16)
	b := NewSequence([]int{1}, NewSamplingParams(), 16)
	if a.SeqID == b.SeqID {
		t.Errorf("two sequences share id %d", a.SeqID)
	}
}

func TestSequenceBlocks(t *testing.T) {
	seq := NewSequence([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, NewSamplingParams(), 4)

	if got := seq.NumBlocks(); got != 3 {
		t.Fatalf("NumBlocks = %d, want 3", got)
	}
	if diff := cmp.Diff([]int{4, 5, 6, 7}, seq.Block(1)); diff != "" {
		t.Errorf("Block(1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{8, 9}, seq.Block(2)); diff != "" {
		t.Errorf("partial Block(2) mismatch (-want +got):\n%s", diff)
	}
	if seq.Block(3) != nil {
		t.Errorf("out-of-range block = %v, want nil", seq.Block(3))
	}
}

func TestSequenceAppendAndCompletion(t *testing.T) {
	seq := NewSequence([]int{5, 6}, NewSamplingParams(), 16)
	seq.AppendToken(7)
	seq.AppendToken(7)

	if seq.LastToken != 7 {
		t.Errorf("LastToken = %d, want 7", seq.LastToken)
	}
	if got := seq.NumCompletionTokens(); got != 2 {
		t.Errorf("NumCompletionTokens = %d, want 2", got)
	}
	if diff := cmp.Diff([]int{5, 6}, seq.PromptTokenIDs()); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{7, 7}, seq.CompletionTokenIDs()); diff != "" {
		t.Errorf("completion mismatch (-want +got):\n%s", diff)
	}

	seen := seq.SeenTokens()
	for _, id := range []int{5, 6, 7} {
		if _, ok := seen[id]; !ok {
			t.Errorf("SeenTokens missing %d", id)
		}
	}
	if len(seen) != 3 {
		t.Errorf("SeenTokens has %d entries, want 3", len(seen))
	}
}

func TestSequenceCopiesSamplingParams(t *testing.T) {
	params := NewSamplingParams(WithTemperature(0.3), WithMaxNewTokens(7), WithIgnoreEOS(true))
	seq := NewSequence([]int{1}, params, 16)

	params.Temperature = 0.9
	if seq.Temperature != 0.3 {
		t.Errorf("sequence temperature = %f, want snapshot 0.3", seq.Temperature)
	}
	if seq.MaxNewTokens != 7 || !seq.IgnoreEOS {
		t.Errorf("sampling params not carried: %+v", seq)
	}
}
