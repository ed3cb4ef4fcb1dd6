package logging

// ProgressSampler thins out progress logging. It lets an event through the
// first time a stage is seen and whenever progress enters a higher step.
// Progress is a fraction in [0, 1]; negative values mean unknown and only
// count for stage changes. A sampler must not be shared between goroutines.
type ProgressSampler struct {
	step  float64
	stage string
	seen  int
}

// NewProgressSampler returns a sampler that logs every percentStep percent,
// 5 when percentStep is not positive.
func NewProgressSampler(percentStep float64) *ProgressSampler {
	if percentStep <= 0 {
		percentStep = 5
	}
	return &ProgressSampler{step: percentStep / 100, seen: -1}
}

// Allow reports whether the event should be logged. A nil sampler allows
// everything.
func (s *ProgressSampler) Allow(stage string, fraction float64) bool {
	if s == nil {
		return true
	}
	allow := false
	if stage != s.stage {
		s.stage = stage
		s.seen = -1
		allow = true
	}
	if fraction < 0 {
		return allow
	}
	if fraction > 1 {
		fraction = 1
	}
	if step := int(fraction / s.step); step > s.seen {
		s.seen = step
		allow = true
	}
	return allow
}

// Reset forgets the current stage.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.stage, s.seen = "", -1
	}
}
