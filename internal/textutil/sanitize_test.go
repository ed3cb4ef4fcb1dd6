package textutil

import "testing"

func TestFoldDiacritics(t *testing.T) {
	tests := map[string]string{
		"Vídeo Aula":     "Video Aula",
		"Transcrição":    "Transcricao",
		"plain":          "plain",
		"":               "",
		"naïve café 日本": "naive cafe 日本",
	}
	for input, want := range tests {
		if got := FoldDiacritics(input); got != want {
			t.Errorf("FoldDiacritics(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  aula: introdução.mp4 ", "aula- introducao.mp4"},
		{"a/b\\c", "a-b-c"},
		{"what?.mp3", "what.mp3"},
		{"日本.mp4", "__.mp4"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.input); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Aula Número 1", "aula_numero_1"},
		{"--", "unknown"},
		{"", "unknown"},
		{"MP4", "mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.input); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
