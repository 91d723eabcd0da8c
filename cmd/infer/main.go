// cipherllama-infer: incremental decoding with encrypted attention projections
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"cipherllama/core/ckkswrapper"
	"cipherllama/nn"
	"cipherllama/utils"
)

var (
	dim         = flag.Int("dim", 64, "Model dimension")
	layers      = flag.Int("layers", 2, "Number of decoder blocks")
	heads       = flag.Int("heads", 4, "Number of attention heads")
	vocab       = flag.Int("vocab", 128, "Vocabulary size")
	multipleOf  = flag.Int("multiple-of", 32, "FFN hidden width alignment")
	maxSeqLen   = flag.Int("max-seq", 64, "Maximum sequence length")
	seed        = flag.Uint64("seed", 42, "Weight initialization seed")
	prompt      = flag.String("prompt", "1 5 20 7", "Prompt token ids")
	steps       = flag.Int("steps", 4, "Greedy decoding steps after the prompt")
	weightsFile = flag.String("weights", "", "Optional weights JSON file to load")
	saveFile    = flag.String("save", "", "Optional path to save weights after init")
	topK        = flag.Int("topk", 3, "Top predictions to show per step")
	verbose     = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	tokens, err := utils.ParseTokenIDs(*prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad prompt: %v\n", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "Prompt must contain at least one token id")
		os.Exit(1)
	}

	args := nn.ModelArgs{
		Dim:          *dim,
		NLayers:      *layers,
		NHeads:       *heads,
		VocabSize:    *vocab,
		MultipleOf:   *multipleOf,
		NormEps:      1e-5,
		MaxBatchSize: 1,
		MaxSeqLen:    *maxSeqLen,
	}

	fmt.Println("Generating CKKS context (one-time key generation)...")
	start := time.Now()
	heCtx := ckkswrapper.NewHeContext()
	fmt.Printf("Context ready in %v (logN=%d, %d slots)\n",
		time.Since(start), heCtx.Params.LogN(), heCtx.Params.MaxSlots())

	model, err := nn.NewTransformer(args, heCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Model construction failed: %v\n", err)
		os.Exit(1)
	}

	if *weightsFile != "" {
		w, err := utils.LoadWeights(*weightsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading weights: %v\n", err)
			os.Exit(1)
		}
		if err := model.ApplyWeights(w); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying weights: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %d tensors from %s\n", len(w.Layers), *weightsFile)
	} else {
		model.InitRandom(*seed)
		fmt.Printf("Initialized random weights (seed %d)\n", *seed)
	}

	if *saveFile != "" {
		if err := utils.SaveWeights(*saveFile, model.ExportWeights()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving weights: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Saved weights to %s\n", *saveFile)
	}

	timings := utils.NewStageTimings()
	model.SetTrace(timings.Observe)

	// prefill the prompt, then decode greedily one token at a time
	fmt.Printf("\nPrompt: %v\n", tokens)
	start = time.Now()
	logits, err := model.Forward([][]int{tokens}, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prefill failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Prefill (%d tokens) in %v\n", len(tokens), time.Since(start))
	reportTopK(logits.Data, *topK)

	pos := len(tokens)
	for step := 0; step < *steps; step++ {
		next := argmax(logits.Data)
		tokens = append(tokens, next)

		start = time.Now()
		logits, err = model.Forward([][]int{{next}}, pos)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Decoding step %d failed: %v\n", step, err)
			os.Exit(1)
		}
		fmt.Printf("\nStep %d: token %d at position %d in %v\n", step+1, next, pos, time.Since(start))
		reportTopK(logits.Data, *topK)
		pos++
	}

	fmt.Printf("\nDecoded sequence: %v\n", tokens)
	timings.Print()
}

func argmax(logits []float64) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

func reportTopK(logits []float64, k int) {
	if !utils.Verbose {
		return
	}
	type pred struct {
		id    int
		logit float64
	}
	preds := make([]pred, len(logits))
	for i, v := range logits {
		preds[i] = pred{i, v}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].logit > preds[j].logit })
	if k > len(preds) {
		k = len(preds)
	}
	for i := 0; i < k; i++ {
		fmt.Printf("  top%d: token %3d  logit %+.4f\n", i+1, preds[i].id, preds[i].logit)
	}
}
