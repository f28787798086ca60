package minilm

import "fmt"

// SamplingParams holds the per-request sampling parameters.
type SamplingParams struct {
	Temperature       float32
	TopP              float32
	RepetitionPenalty float32
	MaxNewTokens      int
	IgnoreEOS         bool
}

// SamplingOption is a functional option for SamplingParams.
type SamplingOption func(*SamplingParams)

// NewSamplingParams creates SamplingParams with standard defaults and
// validates them.
func NewSamplingParams(opts ...SamplingOption) *SamplingParams {
	sp := &SamplingParams{
		Temperature:       0.75,
		TopP:              0.90,
		RepetitionPenalty: 1.0,
		MaxNewTokens:      64,
		IgnoreEOS:         false,
	}

	for _, opt := range opts {
		opt(sp)
	}

	if err := sp.validate(); err != nil {
		panic(err)
	}

	return sp
}

func (sp *SamplingParams) validate() error {
	if sp.Temperature < 0 {
		return fmt.Errorf("temperature must be non-negative")
	}
	if sp.TopP <= 0 || sp.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	if sp.RepetitionPenalty <= 0 {
		return fmt.Errorf("repetition_penalty must be positive")
	}
	if sp.MaxNewTokens < 0 {
		return fmt.Errorf("max_new_tokens must be non-negative")
	}
	return nil
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) SamplingOption {
	return func(sp *SamplingParams) { sp.Temperature = t }
}

// WithTopP sets the nucleus sampling threshold.
func WithTopP(p float32) SamplingOption {
	return func(sp *SamplingParams) { sp.TopP = p }
}

// WithRepetitionPenalty sets the repetition penalty.
func WithRepetitionPenalty(p float32) SamplingOption {
	return func(sp *SamplingParams) { sp.RepetitionPenalty = p }
}

// WithMaxNewTokens sets the generation length budget.
func WithMaxNewTokens(n int) SamplingOption {
	return func(sp *SamplingParams) { sp.MaxNewTokens = n }
}

// WithIgnoreEOS sets whether generation runs past the end token.
func WithIgnoreEOS(b bool) SamplingOption {
	return func(sp *SamplingParams) { sp.IgnoreEOS = b }
}
