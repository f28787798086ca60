package minilm

import (
	"fmt"
	"math/rand"

	ort "github.com/yalue/onnxruntime_go"

	"minilm-go/model"
)

// ONNXRunner implements ModelRunner over an exported ONNX graph of the
// decoder. The graph consumes "input_ids" [1, seq] and produces "logits"
// [1, seq, vocab]; the full context is re-run each step, so no KV state is
// held outside the session.
type ONNXRunner struct {
	modelPath string
	vocabSize int
	rng       *rand.Rand
}

// NewONNXRunner initializes the ONNX runtime and creates a runner for the
// given model file.
func NewONNXRunner(modelPath string, vocabSize int, rng *rand.Rand) (*ONNXRunner, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	return &ONNXRunner{
		modelPath: modelPath,
		vocabSize: vocabSize,
		rng:       rng,
	}, nil
}

// Run implements ModelRunner.
func (r *ONNXRunner) Run(seqs []*Sequence, isPrefill bool) ([]int, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(4); err != nil {
		return nil, fmt.Errorf("failed to set threads: %w", err)
	}

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		next, err := r.runSequence(seq, options)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = next
	}
	return tokenIDs, nil
}

func (r *ONNXRunner) runSequence(seq *Sequence, options *ort.SessionOptions) (int, error) {
	seqLen := seq.Len()

	inputData := make([]int64, seqLen)
	for j, id := range seq.TokenIDs {
		inputData[j] = int64(id)
	}
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen)), inputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputData := make([]float32, seqLen*r.vocabSize)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen), int64(r.vocabSize)), outputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(
		r.modelPath,
		[]string{"input_ids"},
		[]string{"logits"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	logits := outputTensor.GetData()
	last := make([]float32, r.vocabSize)
	copy(last, logits[(seqLen-1)*r.vocabSize:seqLen*r.vocabSize])

	return model.SampleLogits(last, seq.Temperature, seq.TopP, seq.RepetitionPenalty, seq.SeenTokens(), r.rng)
}

// Release implements ModelRunner; the ONNX path holds no per-sequence
// state.
func (r *ONNXRunner) Release(seq *Sequence) {}

// Close implements ModelRunner.
func (r *ONNXRunner) Close() error { return nil }
