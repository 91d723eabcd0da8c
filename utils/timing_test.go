package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDurationUS(t *testing.T) {
	if got := DurationUS(1500 * time.Nanosecond); got != 1.5 {
		t.Fatalf("DurationUS = %f, want 1.5", got)
	}
}

func TestStageTimingsObserve(t *testing.T) {
	st := NewStageTimings()
	var trace TraceFunc = st.Observe
	trace(StageEncrypt, 2*time.Millisecond)
	trace(StageEncrypt, 3*time.Millisecond)
	trace(StageScore, time.Millisecond)

	if got := st.Total(StageEncrypt); got != 5*time.Millisecond {
		t.Errorf("encrypt total = %v, want 5ms", got)
	}
	if got := st.Count(StageEncrypt); got != 2 {
		t.Errorf("encrypt count = %d, want 2", got)
	}
	if got := st.Total(StageDecrypt); got != 0 {
		t.Errorf("unobserved stage total = %v, want 0", got)
	}
}

func TestStageTimingsPrintRespectsVerbose(t *testing.T) {
	st := NewStageTimings()
	st.Observe(StageProject, time.Millisecond)

	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	defer func() { Output, Verbose = oldOut, oldVerbose }()
	Output = &buf

	Verbose = false
	st.Print()
	if buf.Len() != 0 {
		t.Fatalf("expected no output with Verbose=false, got %q", buf.String())
	}

	Verbose = true
	st.Print()
	if !strings.Contains(buf.String(), "project") {
		t.Fatalf("expected stage breakdown, got %q", buf.String())
	}
}
