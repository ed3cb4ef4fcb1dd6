package conversion

import (
	"context"
	"testing"

	"uploadai/internal/engine"
	"uploadai/internal/logging"
	"uploadai/internal/testsupport"
)

func TestConvertWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedEngine())
	client := engine.NewClient(engine.OptionsFromConfig(cfg), logging.NewNop())
	defer client.Close()

	var last float64
	audio, err := NewPipeline(client, logging.NewNop()).Convert(context.Background(), videoFile(t), func(f float64) {
		last = f
	})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !IsMP3(audio.Bytes()) {
		t.Fatalf("expected MP3 output, got % x", audio.Bytes())
	}
	if last != 1 {
		t.Fatalf("expected final progress 1, got %v", last)
	}
}
