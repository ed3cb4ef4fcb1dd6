package ffprobe

import "testing"

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "duration": "12.000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "duration": "11.980", "sample_rate": "48000", "channels": 2}
  ],
  "format": {"filename": "input.mp4", "nb_streams": 2, "duration": "12.011", "size": "1048576", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParse(t *testing.T) {
	result, err := Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	audio, ok := result.PrimaryAudio()
	if !ok || audio.CodecName != "aac" || audio.Channels != 2 {
		t.Fatalf("unexpected primary audio %+v (ok=%v)", audio, ok)
	}
	if result.DurationSeconds() != 12.011 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1048576 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty output")
	}
	if _, err := Parse([]byte("Invalid data found when processing input")); err == nil {
		t.Fatal("expected error for non-json output")
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "8.5"}, {CodecType: "audio", Duration: "9.25"}},
		Format:  Format{Duration: "N/A"},
	}
	if result.DurationSeconds() != 9.25 {
		t.Fatalf("expected stream fallback duration, got %v", result.DurationSeconds())
	}
}

func TestHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected unknown duration, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if _, ok := result.PrimaryAudio(); ok {
		t.Fatal("expected no audio stream")
	}
}

func TestArgsEndWithPath(t *testing.T) {
	args := Args("/tmp/in put.mp4")
	if args[len(args)-1] != "/tmp/in put.mp4" || args[len(args)-2] != "--" {
		t.Fatalf("unexpected args %v", args)
	}
}
