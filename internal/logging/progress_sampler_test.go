package logging

import "testing"

func TestProgressSamplerSteps(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		stage    string
		fraction float64
		want     bool
	}{
		{"converting", 0, true},
		{"converting", 0.05, false},
		{"converting", 0.1, true},
		{"converting", 0.12, false},
		{"converting", 0.35, true},
		{"converting", 0.2, false},
		{"converting", -1, false},
		{"converting", 1.5, true},
		{"converting", 1, false},
		{"uploading", -1, true},
		{"uploading", 0, true},
	}
	for i, step := range steps {
		if got := s.Allow(step.stage, step.fraction); got != step.want {
			t.Fatalf("step %d: Allow(%q, %v) = %v, want %v", i, step.stage, step.fraction, got, step.want)
		}
	}
}

func TestProgressSamplerDefaultsAndReset(t *testing.T) {
	s := NewProgressSampler(0)
	if !s.Allow("converting", 0.5) {
		t.Fatal("first event should be allowed")
	}
	if s.Allow("converting", 0.54) {
		t.Fatal("expected default 5% step to suppress 54%")
	}
	if !s.Allow("converting", 0.6) {
		t.Fatal("expected 60% to be allowed")
	}
	s.Reset()
	if !s.Allow("converting", 0.6) {
		t.Fatal("expected reset sampler to allow")
	}

	var nilSampler *ProgressSampler
	if !nilSampler.Allow("converting", 0.1) {
		t.Fatal("nil sampler should allow everything")
	}
	nilSampler.Reset()
}
