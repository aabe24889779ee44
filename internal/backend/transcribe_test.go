package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parleybot/parley/internal/proto"
)

func TestTranscribeMissingFile(t *testing.T) {
	b := NewTranscribe("whisper", "whisper-cli", "", nil)
	if _, err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	callExpectFail(t, b, "transcribe_file", map[string]any{"path": "/nonexistent/audio.wav"}, proto.KindArgument)
}

func TestTranscribeMissingBinary(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A binary that cannot exist: the backend is unreachable, which is
	// the one retryable failure.
	b := NewTranscribe("whisper", filepath.Join(t.TempDir(), "no-such-transcriber"), "", nil)
	callExpectFail(t, b, "transcribe_file", map[string]any{"path": audio}, proto.KindConnection)
}
