package model

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Logit transforms for the generation loop, applied in fixed order:
// temperature, repetition penalty, top-p truncation, then categorical
// sampling over the softmax of what survives.

// applyTemperature divides logits by the temperature in place. The small
// additive epsilon keeps a temperature of zero from dividing by zero and
// makes it behave as near-greedy sampling.
func applyTemperature(logits []float32, temperature float32) {
	inv := float32(1.0 / (float64(temperature) + 1e-9))
	for i := range logits {
		logits[i] *= inv
	}
}

// applyRepetitionPenalty multiplies the logit of every seen token by
// 1/penalty. Note the asymmetry: a negative logit divided by a
// penalty > 1 becomes less negative, i.e. less penalized.
func applyRepetitionPenalty(logits []float32, seen map[int]struct{}, penalty float32) {
	factor := 1.0 / penalty
	for id := range seen {
		if id >= 0 && id < len(logits) {
			logits[id] *= factor
		}
	}
}

// applyTopP masks every token outside the nucleus to negative infinity:
// logits are sorted descending, the cumulative softmax probability is
// taken, and tokens beyond the smallest prefix whose cumulative
// probability exceeds topP are removed. The removal mask is shifted right
// by one position before applying, so the boundary token that crosses the
// threshold is retained and the top-1 token always survives.
func applyTopP(logits []float32, topP float64) {
	n := len(logits)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return logits[idx[a]] > logits[idx[b]]
	})

	sorted := make([]float64, n)
	for i, id := range idx {
		sorted[i] = float64(logits[id])
	}
	softmax64(sorted)

	cum := make([]float64, n)
	floats.CumSum(cum, sorted)

	remove := make([]bool, n)
	for i := range remove {
		remove[i] = cum[i] > topP
	}
	for i := n - 1; i >= 1; i-- {
		remove[i] = remove[i-1]
	}
	remove[0] = false

	negInf := float32(math.Inf(-1))
	for i, r := range remove {
		if r {
			logits[idx[i]] = negInf
		}
	}
}

// sampleCategorical draws one token from the softmax distribution over
// logits. A row with every candidate masked to negative infinity is a
// degenerate distribution and yields ErrDegenerateSampling.
func sampleCategorical(logits []float32, rng *rand.Rand) (int, error) {
	n := len(logits)
	probs := make([]float64, n)
	for i, v := range logits {
		probs[i] = float64(v)
	}
	if math.IsInf(floats.Max(probs), -1) {
		return 0, ErrDegenerateSampling
	}
	softmax64(probs)

	cdf := make([]float64, n)
	floats.CumSum(cdf, probs)

	var r float64
	if rng != nil {
		r = rng.Float64()
	} else {
		r = rand.Float64()
	}
	r *= cdf[n-1]

	i := sort.SearchFloat64s(cdf, r)
	if i >= n {
		i = n - 1
	}
	return i, nil
}

// softmax64 converts logits to probabilities in place.
func softmax64(s []float64) {
	max := floats.Max(s)
	for i, v := range s {
		s[i] = math.Exp(v - max)
	}
	floats.Scale(1.0/floats.Sum(s), s)
}

// SampleLogits applies the full transform chain to one logits row and
// draws a token. The row is modified in place. seen lists token ids
// already emitted in the sequence, used by the repetition penalty.
func SampleLogits(logits []float32, temperature, topP, repetitionPenalty float32, seen map[int]struct{}, rng *rand.Rand) (int, error) {
	applyTemperature(logits, temperature)
	if repetitionPenalty != 1.0 && len(seen) > 0 {
		applyRepetitionPenalty(logits, seen, repetitionPenalty)
	}
	if topP < 1.0 {
		applyTopP(logits, float64(topP))
	}
	return sampleCategorical(logits, rng)
}
