// Package speech transcribes short audio attachments via Google Cloud
// Speech-to-Text.
package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/chatcine/chatcine/internal/common"
)

// Transcriber converts recorded speech to text. An empty string with a nil
// error means the audio contained no recognizable speech; that is not a
// failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Close() error
}

type GoogleTranscriber struct {
	client       *speech.Client
	languageCode string
	timeout      time.Duration
}

// NewGoogleTranscriber builds a transcriber using ambient Google
// credentials (GOOGLE_APPLICATION_CREDENTIALS). Construction fails when no
// credentials are resolvable, which callers should treat as the service
// being unconfigured.
func NewGoogleTranscriber(ctx context.Context, languageCode string) (*GoogleTranscriber, error) {
	if languageCode == "" {
		languageCode = "en-US"
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleTranscriber{
		client:       c,
		languageCode: languageCode,
		timeout:      30 * time.Second,
	}, nil
}

func (t *GoogleTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   inferEncoding(mimeType),
			LanguageCode:               t.languageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	resp, err := t.client.Recognize(ctx, req)
	if err != nil {
		return "", common.ExternalAPI("error processing audio").WithCause(err)
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Results[0].Alternatives[0].Transcript), nil
}

func inferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg"):
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		// browser voice notes arrive as webm/opus
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
}
