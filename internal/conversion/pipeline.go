package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"uploadai/internal/engine"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
)

const (
	// Bitrate is the target audio bitrate.
	Bitrate = "20k"
	// Codec is the MP3 encoder used by the engine.
	Codec = "libmp3lame"
	// OutputName is the artifact name inside the job directory.
	OutputName = "output.mp3"

	stage = "converting"
)

// Acquirer hands out the loaded engine.
type Acquirer interface {
	Acquire(ctx context.Context) (*engine.Instance, error)
}

// Pipeline converts videos into MP3 audio on the local engine.
type Pipeline struct {
	engine Acquirer
	logger *slog.Logger
}

// NewPipeline constructs a pipeline over eng.
func NewPipeline(eng Acquirer, logger *slog.Logger) *Pipeline {
	return &Pipeline{engine: eng, logger: logging.NewComponentLogger(logger, "conversion")}
}

// Args returns the ffmpeg arguments that extract the first audio stream of
// input as a 20 kbit/s MP3 at output, reporting progress on stdout.
func Args(input, output string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-b:a", Bitrate,
		"-acodec", Codec,
		"-progress", "pipe:1",
		"-nostats",
		output,
	}
}

// Convert runs one conversion job. onProgress, when set, receives fractions
// in [0,1] that never decrease; it is called from the engine worker.
// The staged input and output are removed when Convert returns.
func (p *Pipeline) Convert(ctx context.Context, video media.File, onProgress func(float64)) (media.AudioFile, error) {
	if video.IsZero() {
		return media.AudioFile{}, services.Wrap(services.ErrConversion, stage, "stage input", "no video data", nil)
	}
	inst, err := p.engine.Acquire(ctx)
	if err != nil {
		return media.AudioFile{}, err
	}

	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()
	logger.Info("conversion started",
		logging.String(logging.FieldEventType, "conversion_start"),
		logging.String("source", video.Name()),
		logging.String("mime_type", video.MIMEType()),
		logging.Int64("size_bytes", video.Size()),
	)

	var output []byte
	err = inst.Run(ctx, func(ctx context.Context, job *engine.JobContext) error {
		data, err := p.convertJob(ctx, job, video, onProgress, logger)
		output = data
		return err
	})
	if err != nil {
		return media.AudioFile{}, err
	}

	audio := media.AudioFileFor(video, output)
	logger.Info("conversion completed",
		logging.String(logging.FieldEventType, "conversion_complete"),
		logging.String("output", audio.Name()),
		logging.Int64("size_bytes", audio.Size()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return audio, nil
}

func (p *Pipeline) convertJob(ctx context.Context, job *engine.JobContext, video media.File, onProgress func(float64), logger *slog.Logger) ([]byte, error) {
	input, err := job.Stage("input"+video.Extension(), video.Bytes())
	if err != nil {
		return nil, services.Wrap(services.ErrConversion, stage, "stage input", "", err)
	}

	probe, err := job.Probe(ctx, input)
	if err != nil {
		if services.IsCancellation(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrConversion, stage, "probe input", services.Details(err).Message, err)
	}
	if probe.AudioStreamCount() == 0 {
		return nil, services.WithHint(
			services.Wrap(services.ErrConversion, stage, "probe input", "no audio stream", nil),
			"Select a video that has a soundtrack",
		)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		logger.Debug("input duration unknown, progress limited to completion")
	}

	out := job.Artifact(OutputName)
	tracker := newProgressTracker(duration, onProgress, logger)
	if _, err := job.Exec(ctx, Args(input.Path(), out.Path()), tracker.line); err != nil {
		if services.IsCancellation(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrConversion, stage, "transcode", services.Details(err).Message, err)
	}

	data, err := job.Read(out)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrConversion, stage, "read output", "engine produced no output", nil)
		}
		return nil, services.Wrap(services.ErrConversion, stage, "read output", "", err)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrConversion, stage, "read output", "engine produced empty output", nil)
	}
	if !IsMP3(data) {
		return nil, services.Wrap(services.ErrConversion, stage, "verify output", fmt.Sprintf("output is not MP3 (%d bytes)", len(data)), nil)
	}
	tracker.finish()
	return data, nil
}
