package model

import "errors"

var (
	// ErrConfig reports an invalid configuration, such as a head count
	// that is not divisible by the key/value head count.
	ErrConfig = errors.New("invalid model configuration")

	// ErrShapeMismatch reports weights or inputs whose shapes do not
	// match the configuration-derived shapes.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrSequenceTooLong reports a position range beyond the precomputed
	// rotary table and causal mask extent.
	ErrSequenceTooLong = errors.New("sequence length exceeds maximum")

	// ErrDegenerateSampling reports a sampling step where every candidate
	// token has been masked out.
	ErrDegenerateSampling = errors.New("all sampling candidates masked")
)
