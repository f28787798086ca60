package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"minilm-go/minilm"
	"minilm-go/model"
)

func main() {
	fmt.Println("minilm-go - decoder generation demo")
	fmt.Println()

	cfg, err := model.NewConfig(
		model.WithDim(64),
		model.WithNumLayers(2),
		model.WithNumHeads(4),
		model.WithNumKVHeads(2),
		model.WithVocabSize(512),
		model.WithMaxSeqLen(128),
	)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	m, err := model.NewTransformer(cfg)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	rng := rand.New(rand.NewSource(42))
	m.RandomInit(rng)

	// Direct generation API.
	opts := model.DefaultGenerateOptions()
	opts.MaxNewTokens = 16
	opts.Rand = rng
	out, err := m.Generate(context.Background(), [][]int{{1, 17, 42, 99}}, opts)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	fmt.Printf("direct generate: %v\n\n", out[0])

	// Engine-driven generation with batching.
	engineCfg := minilm.NewConfig(
		minilm.WithMaxModelLen(cfg.MaxSeqLen),
		minilm.WithEOS(opts.EOSTokenID),
	)
	tokenizer := minilm.NewMockTokenizer(opts.EOSTokenID)
	runner := minilm.NewTransformerRunner(m, rng)

	engine := minilm.NewEngine(engineCfg, runner, tokenizer, nil)
	defer engine.Close()

	params := minilm.NewSamplingParams(
		minilm.WithTemperature(0.8),
		minilm.WithTopP(0.9),
		minilm.WithMaxNewTokens(16),
	)

	outputs, err := engine.Generate([]any{"hello world", "go decoders"}, params, true)
	if err != nil {
		log.Fatalf("engine generate: %v", err)
	}
	for i, o := range outputs {
		fmt.Printf("prompt %d -> %d tokens: %v\n", i, len(o.TokenIDs), o.TokenIDs)
	}
}
