package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
}

// NewGoogleSpeech defaults to WEBM_OPUS at 48kHz, which is what browser MediaRecorder emits.
func NewGoogleSpeech(ctx context.Context, encoding string, sampleRateHz int32) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if sampleRateHz <= 0 {
		sampleRateHz = 48000
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     ParseEncoding(encoding),
		SampleRateHz: sampleRateHz,
	}, nil
}

func ParseEncoding(v string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "pcm":
		return speechpb.RecognitionConfig_LINEAR16
	case "ogg_opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "flac":
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// NormalizeLanguage maps short codes to BCP-47 tags; empty means en-US.
func NormalizeLanguage(v string) string {
	switch strings.TrimSpace(v) {
	case "", "en", "en-US":
		return "en-US"
	case "hi", "hi-IN":
		return "hi-IN"
	default:
		return strings.TrimSpace(v)
	}
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               NormalizeLanguage(language),
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	// results are consecutive segments; join the best alternative of each
	var parts []string
	var confSum float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 || r.Alternatives[0].Transcript == "" {
			continue
		}
		best := r.Alternatives[0]
		parts = append(parts, strings.TrimSpace(best.Transcript))
		confSum += float64(best.Confidence)
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), confSum / float64(len(parts)), nil
}
