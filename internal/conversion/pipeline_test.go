package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"uploadai/internal/engine"
	"uploadai/internal/logging"
	"uploadai/internal/media"
	"uploadai/internal/services"
	"uploadai/internal/testsupport"
)

const probeWithAudio = `{"streams":[{"codec_type":"video"},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"10.0"}}`

type fakeEngine struct {
	mu          sync.Mutex
	probeOutput string
	progress    []string
	output      []byte
	writeOutput bool
	failStderr  string
	block       chan struct{}
	transcodes  [][]string
}

func (f *fakeEngine) Run(ctx context.Context, cmd engine.Command) (engine.CommandResult, error) {
	switch filepath.Base(cmd.Binary) {
	case "ffprobe":
		return engine.CommandResult{Stdout: []byte(f.probeOutput)}, nil
	}
	if slices.Contains(cmd.Args, "-version") {
		return engine.CommandResult{Stdout: []byte("ffmpeg version test")}, nil
	}
	f.mu.Lock()
	f.transcodes = append(f.transcodes, cmd.Args)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return engine.CommandResult{ExitCode: -1}, ctx.Err()
		}
	}
	for _, line := range f.progress {
		cmd.OnStdout(line)
	}
	if f.failStderr != "" {
		return engine.CommandResult{StderrTail: f.failStderr, ExitCode: 1}, errors.New("exit status 1")
	}
	if f.writeOutput {
		if err := os.WriteFile(cmd.Args[len(cmd.Args)-1], f.output, 0o644); err != nil {
			return engine.CommandResult{}, err
		}
	}
	return engine.CommandResult{}, nil
}

func newPipeline(t *testing.T, fake *fakeEngine) *Pipeline {
	t.Helper()
	client := engine.NewClient(engine.Options{WorkspaceDir: t.TempDir()}, logging.NewNop(),
		engine.WithRunner(fake),
		engine.WithLookPath(func(name string) (string, error) { return "/opt/engine/" + name, nil }),
	)
	t.Cleanup(func() { _ = client.Close() })
	return NewPipeline(client, logging.NewNop())
}

func videoFile(t *testing.T) media.File {
	t.Helper()
	file, err := media.NewFile("Aula Introdução.mp4", "video/mp4", testsupport.VideoFixture(64))
	if err != nil {
		t.Fatal(err)
	}
	return file
}

func TestConvertProducesMP3(t *testing.T) {
	fake := &fakeEngine{
		probeOutput: probeWithAudio,
		progress: []string{
			"out_time_us=2500000", "out_time_ms=2500000", "progress=continue",
			"out_time_us=N/A",
			"out_time_us=1000000",
			"out_time_us=7500000", "progress=continue",
			"out_time_us=12000000",
			"progress=end",
		},
		output:      testsupport.MP3Fixture(),
		writeOutput: true,
	}
	pipeline := newPipeline(t, fake)

	var fractions []float64
	audio, err := pipeline.Convert(context.Background(), videoFile(t), func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if audio.MIMEType() != "audio/mpeg" {
		t.Fatalf("unexpected MIME %q", audio.MIMEType())
	}
	if audio.Name() != "Aula Introducao.mp3" {
		t.Fatalf("unexpected name %q", audio.Name())
	}
	if string(audio.Bytes()) != string(testsupport.MP3Fixture()) {
		t.Fatal("audio bytes do not match engine output")
	}

	want := []float64{0.25, 0.75, 1}
	if !slices.Equal(fractions, want) {
		t.Fatalf("expected progress %v, got %v", want, fractions)
	}

	args := fake.transcodes[0]
	for _, pair := range [][2]string{{"-b:a", "20k"}, {"-acodec", "libmp3lame"}, {"-map", "0:a:0"}, {"-progress", "pipe:1"}} {
		idx := slices.Index(args, pair[0])
		if idx < 0 || args[idx+1] != pair[1] {
			t.Fatalf("expected %s %s in %v", pair[0], pair[1], args)
		}
	}
	if !slices.Contains(args, "-vn") {
		t.Fatalf("expected -vn in %v", args)
	}
	if filepath.Base(args[len(args)-1]) != OutputName {
		t.Fatalf("unexpected output path %s", args[len(args)-1])
	}
	if _, err := os.Stat(args[len(args)-1]); !os.IsNotExist(err) {
		t.Fatal("output artifact should be released after the job")
	}
}

func TestConvertReportsCompletionWithoutProgressLines(t *testing.T) {
	fake := &fakeEngine{probeOutput: `{"streams":[{"codec_type":"audio"}],"format":{}}`, output: testsupport.MP3Fixture(), writeOutput: true}
	var fractions []float64
	_, err := newPipeline(t, fake).Convert(context.Background(), videoFile(t), func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !slices.Equal(fractions, []float64{1}) {
		t.Fatalf("expected a single completion report, got %v", fractions)
	}
}

func TestConvertFailsWithoutAudioStream(t *testing.T) {
	fake := &fakeEngine{probeOutput: `{"streams":[{"codec_type":"video"}],"format":{"duration":"3"}}`}
	_, err := newPipeline(t, fake).Convert(context.Background(), videoFile(t), nil)
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	details := services.Details(err)
	if details.Message != "no audio stream" || details.Stage != "converting" {
		t.Fatalf("unexpected details %+v", details)
	}
	if len(fake.transcodes) != 0 {
		t.Fatal("ffmpeg should not run without an audio stream")
	}
}

func TestConvertCarriesEngineDiagnostic(t *testing.T) {
	fake := &fakeEngine{probeOutput: probeWithAudio, failStderr: "Stream map '0:a:0' matches no streams.\nConversion failed!"}
	_, err := newPipeline(t, fake).Convert(context.Background(), videoFile(t), nil)
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected the engine error to stay in the chain, got %v", err)
	}
	if msg := services.Details(err).Message; msg != "Conversion failed!" {
		t.Fatalf("unexpected diagnostic %q", msg)
	}
}

func TestConvertRejectsEmptyOutput(t *testing.T) {
	for name, fake := range map[string]*fakeEngine{
		"missing": {probeOutput: probeWithAudio},
		"empty":   {probeOutput: probeWithAudio, writeOutput: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newPipeline(t, fake).Convert(context.Background(), videoFile(t), nil)
			if !errors.Is(err, services.ErrConversion) {
				t.Fatalf("expected ErrConversion, got %v", err)
			}
		})
	}
}

func TestConvertRejectsNonMP3Output(t *testing.T) {
	fake := &fakeEngine{probeOutput: probeWithAudio, output: []byte(testsupport.MP4Header), writeOutput: true}
	_, err := newPipeline(t, fake).Convert(context.Background(), videoFile(t), nil)
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
	if services.Details(err).Operation != "verify output" {
		t.Fatalf("unexpected details %+v", services.Details(err))
	}
}

func TestConvertCancellation(t *testing.T) {
	fake := &fakeEngine{probeOutput: probeWithAudio, block: make(chan struct{})}
	pipeline := newPipeline(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := pipeline.Convert(ctx, videoFile(t), nil)
		errCh <- err
	}()
	for {
		fake.mu.Lock()
		started := len(fake.transcodes) > 0
		fake.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	err := <-errCh
	if !services.IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if errors.Is(err, services.ErrConversion) {
		t.Fatal("cancellation must not be reported as a conversion failure")
	}
}

func TestConvertEngineLoadFailure(t *testing.T) {
	client := engine.NewClient(engine.Options{WorkspaceDir: t.TempDir()}, logging.NewNop(),
		engine.WithRunner(&fakeEngine{}),
		engine.WithLookPath(func(string) (string, error) { return "", errors.New("missing") }),
	)
	_, err := NewPipeline(client, logging.NewNop()).Convert(context.Background(), videoFile(t), nil)
	if !errors.Is(err, services.ErrEngineLoad) {
		t.Fatalf("expected ErrEngineLoad, got %v", err)
	}
}

func TestConvertRejectsEmptyVideo(t *testing.T) {
	_, err := newPipeline(t, &fakeEngine{}).Convert(context.Background(), media.File{}, nil)
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestIsMP3(t *testing.T) {
	cases := map[string]struct {
		data []byte
		want bool
	}{
		"id3":        {testsupport.MP3Fixture(), true},
		"frame sync": {[]byte{0xFF, 0xFB, 0x90, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}, true},
		"mp4":        {[]byte(testsupport.MP4Header), false},
		"short":      {[]byte{0xFF}, false},
		"text":       {[]byte("not audio at all"), false},
	}
	for name, tc := range cases {
		if got := IsMP3(tc.data); got != tc.want {
			t.Errorf("%s: IsMP3 = %v, want %v", name, got, tc.want)
		}
	}
}
