package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uploadai/internal/daemon"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/status"
	"uploadai/internal/textutil"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "run <video>",
		Short: "Convert a video, upload the audio and request a transcription",
		Long: "Converts the video to a 20 kbit/s MP3 on this machine, uploads it and requests a\n" +
			"transcription. The prompt is a comma-separated list of keywords that guides\n" +
			"the transcription, e.g. --prompt \"intro, demo\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmission(cmd, ctx, args[0], prompt)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Comma-separated keywords for the transcription")
	return cmd
}

func runSubmission(cmd *cobra.Command, ctx *commandContext, path, prompt string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	file, err := media.Open(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	components, err := daemon.Build(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if err := components.Session.Select(file); err != nil {
		return err
	}

	for _, line := range renderSectionHeader("uploadai "+file.Name(), colorize) {
		fmt.Fprintln(out, line)
	}
	updates, unsubscribe := components.Session.Machine().Subscribe(64)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		printSnapshots(out, updates, colorize)
	}()

	result, runErr := components.Session.Submit(runCtx, prompt)
	unsubscribe()
	<-rendered

	if runErr != nil {
		if hint := services.Details(runErr).Hint; hint != "" {
			fmt.Fprintln(out, renderStatusLine("Hint", statusWarn, hint, colorize))
		}
		if services.IsCancellation(runErr) {
			return context.Canceled
		}
		return runErr
	}

	fmt.Fprintln(out, renderKeyValues([][2]string{
		{"Run", result.RunID},
		{"Video ID", result.VideoID},
		{"Audio", result.AudioName},
		{"Audio size", textutil.FormatBytes(result.AudioBytes)},
		{"Source size", textutil.FormatBytes(file.Size())},
		{"Prompt", fallback(strings.TrimSpace(prompt), "(none)")},
		{"Elapsed", result.Elapsed.Round(time.Millisecond).String()},
	}))
	return nil
}

// printSnapshots writes a line per state change and per 10% of conversion
// progress until updates is closed.
func printSnapshots(out io.Writer, updates <-chan status.Snapshot, colorize bool) {
	var lastState status.State
	lastBucket := -1
	for snap := range updates {
		if snap.State == status.StateWaiting {
			continue
		}
		bucket := int(snap.Progress * 10)
		if snap.State == lastState && (snap.State != status.StateConverting || bucket == lastBucket) {
			continue
		}
		lastState = snap.State
		lastBucket = bucket
		fmt.Fprintln(out, renderSnapshot(snap, colorize))
	}
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
