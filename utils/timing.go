package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// Stage names one step of the encrypted attention pipeline.
type Stage string

const (
	StageEncrypt    Stage = "encrypt"
	StageProject    Stage = "project"
	StageRotate     Stage = "rotate"
	StageDecrypt    Stage = "decrypt"
	StageCacheWrite Stage = "cache_write"
	StageScore      Stage = "score"
	StageCombine    Stage = "combine"
)

// TraceFunc receives the duration of each pipeline stage as it completes.
// Install one on a layer to observe timing without the layer printing
// anything itself.
type TraceFunc func(stage Stage, d time.Duration)

// StageTimings aggregates durations per stage. Not safe for concurrent use;
// the forward pass is single-threaded by contract.
type StageTimings struct {
	totals map[Stage]time.Duration
	counts map[Stage]int
}

// NewStageTimings returns an empty aggregate.
func NewStageTimings() *StageTimings {
	return &StageTimings{
		totals: make(map[Stage]time.Duration),
		counts: make(map[Stage]int),
	}
}

// Observe records one stage duration. Its method value is a TraceFunc.
func (s *StageTimings) Observe(stage Stage, d time.Duration) {
	s.totals[stage] += d
	s.counts[stage]++
}

// Total returns the accumulated duration for a stage.
func (s *StageTimings) Total(stage Stage) time.Duration {
	return s.totals[stage]
}

// Count returns how many times a stage was observed.
func (s *StageTimings) Count(stage Stage) int {
	return s.counts[stage]
}

// Print writes a per-stage breakdown. Respects the Verbose flag - does
// nothing if Verbose is false.
func (s *StageTimings) Print() {
	if !Verbose {
		return
	}
	var grand time.Duration
	stages := make([]Stage, 0, len(s.totals))
	for stage, d := range s.totals {
		stages = append(stages, stage)
		grand += d
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })

	fmt.Fprintln(Output, "\n=== STAGE TIMINGS ===")
	fmt.Fprintf(Output, "Total traced time: %v\n", grand)
	for _, stage := range stages {
		d := s.totals[stage]
		pct := 0.0
		if grand > 0 {
			pct = float64(d) / float64(grand) * 100
		}
		fmt.Fprintf(Output, "  %-12s %v (%.1f%%, %d calls)\n", stage, d, pct, s.counts[stage])
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
