package minilm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Output is the result of one generation request.
type Output struct {
	SeqID    int64
	Text     string
	TokenIDs []int
}

// Engine drives a ModelRunner over scheduled sequences until every
// request has finished.
type Engine struct {
	config    *Config
	runner    ModelRunner
	tokenizer Tokenizer
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewEngine creates an engine from a configuration, a runner, and a
// tokenizer. A nil logger uses slog's default.
func NewEngine(config *Config, runner ModelRunner, tokenizer Tokenizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:    config,
		runner:    runner,
		tokenizer: tokenizer,
		scheduler: NewScheduler(config),
		logger:    logger,
	}
}

// Close cleans up runner resources.
func (e *Engine) Close() error {
	return e.runner.Close()
}

// AddRequest queues a prompt for generation and returns its sequence id.
// The prompt is either a string (encoded through the tokenizer) or a
// token id slice.
func (e *Engine) AddRequest(prompt any, params *SamplingParams) (int64, error) {
	var tokenIDs []int
	switch p := prompt.(type) {
	case string:
		ids, err := e.tokenizer.Encode(p)
		if err != nil {
			return 0, fmt.Errorf("failed to encode prompt: %w", err)
		}
		tokenIDs = ids
	case []int:
		tokenIDs = p
	default:
		return 0, fmt.Errorf("prompt must be string or []int, got %T", prompt)
	}

	if len(tokenIDs) == 0 {
		return 0, fmt.Errorf("empty prompt")
	}
	if len(tokenIDs) > e.config.MaxModelLen {
		return 0, fmt.Errorf("prompt length %d exceeds max_model_len %d", len(tokenIDs), e.config.MaxModelLen)
	}

	seq := NewSequence(tokenIDs, params, e.config.KVCacheBlockSize)
	e.scheduler.Add(seq)
	return seq.SeqID, nil
}

// Step schedules and runs one model step, returning outputs for any
// sequences that finished. The token count is positive for prefill steps
// and negative for decode steps.
func (e *Engine) Step() ([]Output, int, error) {
	seqs, isPrefill := e.scheduler.Schedule()

	tokenIDs, err := e.runner.Run(seqs, isPrefill)
	if err != nil {
		return nil, 0, fmt.Errorf("model step failed: %w", err)
	}

	finished := e.scheduler.Postprocess(seqs, tokenIDs)

	outputs := make([]Output, 0, len(finished))
	for _, seq := range finished {
		e.runner.Release(seq)
		text, err := e.tokenizer.Decode(seq.CompletionTokenIDs())
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode tokens: %w", err)
		}
		outputs = append(outputs, Output{
			SeqID:    seq.SeqID,
			Text:     text,
			TokenIDs: seq.CompletionTokenIDs(),
		})
	}

	numTokens := 0
	if isPrefill {
		for _, seq := range seqs {
			numTokens += seq.Len()
		}
	} else {
		numTokens = -len(seqs)
	}

	return outputs, numTokens, nil
}

// IsFinished reports whether all requests have completed.
func (e *Engine) IsFinished() bool {
	return e.scheduler.IsFinished()
}

// Generate runs all prompts to completion and returns outputs in prompt
// order. When showProgress is set, progress is reported on stderr.
func (e *Engine) Generate(prompts []any, params *SamplingParams, showProgress bool) ([]Output, error) {
	seqIDs := make([]int64, len(prompts))
	for i, prompt := range prompts {
		id, err := e.AddRequest(prompt, params)
		if err != nil {
			return nil, err
		}
		seqIDs[i] = id
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(prompts),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)
	}

	start := time.Now()
	outputsByID := make(map[int64]Output, len(prompts))
	var prefillThroughput, decodeThroughput float64

	for !e.IsFinished() {
		stepStart := time.Now()
		stepOutputs, numTokens, err := e.Step()
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(stepStart).Seconds()

		if numTokens > 0 {
			prefillThroughput = float64(numTokens) / elapsed
		} else {
			decodeThroughput = float64(-numTokens) / elapsed
		}

		for _, out := range stepOutputs {
			outputsByID[out.SeqID] = out
			if bar != nil {
				bar.Describe(fmt.Sprintf("Generating [prefill %dtok/s, decode %dtok/s]",
					int(prefillThroughput), int(decodeThroughput)))
				bar.Add(1)
			}
		}
	}

	if bar != nil {
		bar.Finish()
	}

	e.logger.Info("generation complete",
		"requests", len(prompts),
		"elapsed", time.Since(start).Round(time.Millisecond))

	outputs := make([]Output, len(prompts))
	for i, id := range seqIDs {
		out, ok := outputsByID[id]
		if !ok {
			return nil, fmt.Errorf("sequence %d produced no output", id)
		}
		outputs[i] = out
	}
	return outputs, nil
}
