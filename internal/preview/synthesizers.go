package preview

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/wujunwei928/edge-tts-go/edge_tts"
)

// Synthesizer turns a short text into an audio clip spoken by speaker.
type Synthesizer interface {
	Synthesize(ctx context.Context, speaker, text string) ([]byte, error)
	ContentType() string
}

// EdgeSynthesizer uses the Microsoft Edge read-aloud service.
type EdgeSynthesizer struct {
	// Timeout bounds a single request; zero means DefaultTimeout.
	Timeout time.Duration

	stream edgeStream
}

// edgeStream fetches the audio for text spoken by voice.
type edgeStream func(voice, text string, timeout time.Duration) ([]byte, error)

// NewEdgeSynthesizer creates an Edge synthesizer.
func NewEdgeSynthesizer() *EdgeSynthesizer {
	return &EdgeSynthesizer{Timeout: DefaultTimeout, stream: streamEdge}
}

func streamEdge(voice, text string, timeout time.Duration) ([]byte, error) {
	communicate, err := edge_tts.NewCommunicate(text,
		edge_tts.SetVoice(voice),
		edge_tts.SetReceiveTimeout(max(int(timeout/time.Second), 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Edge TTS communicator: %w", err)
	}
	data, err := communicate.Stream()
	if err != nil {
		return nil, fmt.Errorf("edge TTS synthesis failed: %w", err)
	}
	return data, nil
}

// ContentType implements Synthesizer.
func (e *EdgeSynthesizer) ContentType() string { return "audio/mpeg" }

// Synthesize implements Synthesizer. The Edge client has no context
// support, so the call runs in a goroutine and is abandoned on cancel.
func (e *EdgeSynthesizer) Synthesize(ctx context.Context, speaker, text string) ([]byte, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	stream := e.stream
	if stream == nil {
		stream = streamEdge
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data []byte
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		data, err := stream(speaker, text, timeout)
		ch <- outcome{data: data, err: err}
	}()

	select {
	case out := <-ch:
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err() //nolint:wrapcheck
	}
}

// OpenAISynthesizer uses the OpenAI speech endpoint.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISynthesizer creates an OpenAI synthesizer. baseURL may be empty.
func NewOpenAISynthesizer(apiKey, baseURL string) *OpenAISynthesizer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(config),
		model:  openai.TTSModel1,
	}
}

// ContentType implements Synthesizer.
func (o *OpenAISynthesizer) ContentType() string { return "audio/mpeg" }

// Synthesize implements Synthesizer.
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, speaker, text string) ([]byte, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          openai.SpeechVoice(speaker),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close() //nolint:errcheck

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading openai speech response: %w", err)
	}
	return data, nil
}
