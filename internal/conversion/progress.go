package conversion

import (
	"log/slog"
	"strconv"
	"strings"

	"uploadai/internal/logging"
)

// progressTracker turns ffmpeg -progress key=value lines into a fraction in
// [0,1] that never decreases.
type progressTracker struct {
	duration float64
	emit     func(float64)
	sampler  *logging.ProgressSampler
	logger   *slog.Logger

	last     float64
	reported bool
}

func newProgressTracker(durationSeconds float64, emit func(float64), logger *slog.Logger) *progressTracker {
	return &progressTracker{
		duration: durationSeconds,
		emit:     emit,
		sampler:  logging.NewProgressSampler(5),
		logger:   logger,
	}
}

func (t *progressTracker) line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	// out_time_ms is also microseconds; ffmpeg keeps the name for compatibility.
	case "out_time_us", "out_time_ms":
		if t.duration <= 0 {
			return
		}
		micros, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || micros < 0 {
			return
		}
		t.report(micros / 1e6 / t.duration)
	case "progress":
		if strings.TrimSpace(value) == "end" {
			t.report(1)
		}
	}
}

// finish reports completion if ffmpeg exited without a progress=end line.
func (t *progressTracker) finish() {
	t.report(1)
}

func (t *progressTracker) report(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if t.reported && fraction <= t.last {
		return
	}
	t.last = fraction
	t.reported = true
	if t.emit != nil {
		t.emit(fraction)
	}
	if t.logger != nil && t.sampler.Allow("converting", fraction) {
		t.logger.Info("conversion progress",
			logging.String(logging.FieldEventType, "conversion_progress"),
			logging.Float64(logging.FieldProgressPercent, fraction*100),
		)
	}
}
