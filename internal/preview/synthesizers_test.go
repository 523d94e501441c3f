package preview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
)

func TestEdgeSynthesizerThroughService(t *testing.T) {
	var gotVoice, gotText string
	var gotTimeout time.Duration
	edge := &EdgeSynthesizer{
		Timeout: 3 * time.Second,
		stream: func(voice, text string, timeout time.Duration) ([]byte, error) {
			gotVoice, gotText, gotTimeout = voice, text, timeout
			return []byte("ID3edge"), nil
		},
	}

	svc := newTestService(t, cache.NewMemoryCache(1024))
	svc.Register(catalog.EngineEdge, edge)

	clip, err := svc.Preview(context.Background(), "edge", "en-US-GuyNeural", "Hello there")
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if string(clip.Data) != "ID3edge" || clip.ContentType != "audio/mpeg" {
		t.Errorf("Unexpected clip: %+v", clip)
	}
	if gotVoice != "en-US-GuyNeural" || gotText != "Hello there" {
		t.Errorf("Expected voice and text to reach the stream, got %q %q", gotVoice, gotText)
	}
	if gotTimeout != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %v", gotTimeout)
	}
}

func TestEdgeSynthesizerErrors(t *testing.T) {
	boom := errors.New("websocket closed")

	tests := []struct {
		name   string
		stream edgeStream
		check  func(error) bool
	}{
		{
			name:   "stream error",
			stream: func(string, string, time.Duration) ([]byte, error) { return nil, boom },
			check:  func(err error) bool { return errors.Is(err, boom) },
		},
		{
			name: "timeout",
			stream: func(string, string, time.Duration) ([]byte, error) {
				time.Sleep(time.Second)
				return []byte("late"), nil
			},
			check: func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edge := &EdgeSynthesizer{Timeout: 50 * time.Millisecond, stream: tt.stream}
			_, err := edge.Synthesize(context.Background(), "en-US-AriaNeural", "Hi")
			if !tt.check(err) {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestNewEdgeSynthesizer(t *testing.T) {
	edge := NewEdgeSynthesizer()
	if edge.stream == nil || edge.Timeout != DefaultTimeout {
		t.Errorf("Expected the Edge client and default timeout, got %+v", edge)
	}
}
