package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"uploadai/internal/history"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/status"
	"uploadai/internal/upload"
)

// Stage names recorded on the status machine when a run fails.
const (
	StageEngine     = "engine"
	StageConverting = string(status.StateConverting)
	StageUploading  = string(status.StateUploading)
	StageGenerating = string(status.StateGenerating)
)

// stageFailure carries the stage a run failed in.
type stageFailure struct {
	stage string
	err   error
}

func (f *stageFailure) Error() string { return f.err.Error() }

func (f *stageFailure) Unwrap() error { return f.err }

func failAt(stage string, err error) error {
	return &stageFailure{stage: stage, err: err}
}

func (s *Session) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer run.cancel()

	ctx = services.WithRunID(ctx, run.id)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("file", run.file.Name()),
		logging.Int64("size_bytes", run.file.Size()),
		logging.Bool("has_prompt", run.prompt != ""),
	)
	s.recordBegin(ctx, run, logger)

	result, err := s.steps(ctx, run, logger)
	result.RunID = run.id
	result.Elapsed = time.Since(run.started)
	if err != nil {
		s.handleFailure(ctx, run, err, logger)
		run.err = err
		return
	}
	run.result = result

	// The notifier fires after success is published so observers never see
	// the id before the machine does.
	run.notifier.Notify(result.VideoID)
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String(logging.FieldVideoID, result.VideoID),
		logging.String("audio_name", result.AudioName),
		logging.Int64("audio_bytes", result.AudioBytes),
		logging.Duration("elapsed", result.Elapsed),
	)
	if err := s.deps.Notifications.NotifyTranscriptionRequested(ctx, run.file.Name(), result.VideoID); err != nil {
		logger.Warn("transcription notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.Alert("notification"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		)
	}
	s.recordFinish(ctx, run, history.Outcome{State: string(status.StateSuccess), VideoID: result.VideoID}, logger)
}

func (s *Session) steps(ctx context.Context, run *Run, logger *slog.Logger) (Result, error) {
	if _, err := s.deps.Engine.Acquire(services.WithStage(ctx, StageEngine)); err != nil {
		return Result{}, failAt(StageEngine, err)
	}
	if err := s.advance(ctx, run, StageEngine, func() error { return s.machine.Start() }); err != nil {
		return Result{}, err
	}

	audio, err := s.deps.Converter.Convert(services.WithStage(ctx, StageConverting), run.file, func(fraction float64) {
		_, _ = s.guard(run, func() error {
			s.machine.SetProgress(fraction)
			return nil
		})
	})
	if err != nil {
		return Result{}, failAt(StageConverting, err)
	}
	logger.Debug("audio converted",
		logging.String(logging.FieldEventType, "conversion_complete"),
		logging.String("audio_name", audio.Name()),
		logging.Int64("audio_bytes", audio.Size()),
	)
	if err := s.advance(ctx, run, StageConverting, func() error { return s.machine.Uploading() }); err != nil {
		return Result{}, err
	}

	session, err := s.deps.Uploader.Upload(services.WithStage(ctx, StageUploading), audio)
	if err != nil {
		return Result{}, failAt(StageUploading, err)
	}
	if err := s.advance(ctx, run, StageUploading, func() error { return s.machine.Generating(session.VideoID) }); err != nil {
		return Result{}, err
	}

	if err := s.deps.Uploader.RequestTranscription(services.WithStage(ctx, StageGenerating), session, run.prompt); err != nil {
		return Result{}, failAt(StageGenerating, err)
	}
	if err := s.advance(ctx, run, StageGenerating, func() error { return s.machine.Succeed() }); err != nil {
		return Result{}, err
	}
	return resultFor(audio, session), nil
}

// advance applies a happy-path transition for a live run. A cancelled
// context or a superseded run stops the pipeline before the next stage.
func (s *Session) advance(ctx context.Context, run *Run, stage string, transition func() error) error {
	if err := ctx.Err(); err != nil {
		return failAt(stage, services.Wrap(services.ErrCancelled, stage, "advance", "run cancelled", err))
	}
	live, err := s.guard(run, transition)
	if !live {
		return failAt(stage, services.Wrap(services.ErrCancelled, stage, "advance", "run superseded", context.Canceled))
	}
	if err != nil {
		return failAt(stage, err)
	}
	return nil
}

func (s *Session) handleFailure(ctx context.Context, run *Run, err error, logger *slog.Logger) {
	stage := StageEngine
	var sf *stageFailure
	if errors.As(err, &sf) {
		stage = sf.stage
	}
	cancelled := services.IsCancellation(err) || ctx.Err() != nil

	outcome := history.Outcome{ErrorStage: stage, ErrorMessage: services.Details(err).Message}
	if cancelled {
		outcome.State = string(status.StateCancelled)
		_, transitionErr := s.guard(run, s.machine.Cancel)
		if transitionErr != nil && !errors.Is(transitionErr, status.ErrInvalidTransition) {
			logger.Warn("cancel transition failed", logging.Error(transitionErr))
		}
		logger.Info("run cancelled",
			logging.String(logging.FieldEventType, "run_cancelled"),
			logging.String(logging.FieldStage, stage),
		)
		run.notifier.Close(services.Wrap(services.ErrCancelled, stage, "run", "run cancelled", err))
	} else {
		outcome.State = string(status.StateError)
		_, _ = s.guard(run, func() error { return s.machine.Fail(stage, err) })
		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "run_failed"),
			logging.String(logging.FieldStage, stage),
			logging.String("file", run.file.Name()),
		}, logging.FailureAttrs(err)...)
		logger.Error("run failed", logging.Args(attrs...)...)
		if notifyErr := s.deps.Notifications.NotifyRunFailed(ctx, run.file.Name(), err); notifyErr != nil {
			logger.Warn("failure notification failed",
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.Alert("notification"),
				logging.Error(notifyErr),
			)
		}
		run.notifier.Close(err)
	}
	s.recordFinish(ctx, run, outcome, logger)
}

func (s *Session) recordBegin(ctx context.Context, run *Run, logger *slog.Logger) {
	if s.deps.History == nil {
		return
	}
	if err := s.deps.History.Begin(context.WithoutCancel(ctx), run.id, run.file.Name(), run.prompt); err != nil {
		logger.Warn("history begin failed", logging.Error(err))
	}
}

func (s *Session) recordFinish(ctx context.Context, run *Run, outcome history.Outcome, logger *slog.Logger) {
	if s.deps.History == nil {
		return
	}
	if err := s.deps.History.Finish(context.WithoutCancel(ctx), run.id, outcome); err != nil {
		logger.Warn("history finish failed", logging.Error(err))
	}
}

func resultFor(audio media.AudioFile, session upload.Session) Result {
	return Result{
		VideoID:    session.VideoID,
		AudioName:  audio.Name(),
		AudioBytes: audio.Size(),
	}
}
