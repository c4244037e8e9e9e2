package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

type VertexGemini struct {
	client *vertexgenai.Client
	model  *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	m := c.GenerativeModel(modelName)
	return &VertexGemini{client: c, model: m}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		it := v.model.GenerateContentStream(ctx, vertexgenai.Text(prompt))
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			for _, t := range textParts(resp) {
				select {
				case out <- t:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return out, errs
}

func (v *VertexGemini) Complete(ctx context.Context, prompt string, attachments ...Attachment) (string, error) {
	parts := []vertexgenai.Part{vertexgenai.Text(prompt)}
	for _, a := range attachments {
		// ImageData wants the subtype only: "png", "jpeg"
		format := strings.TrimPrefix(a.MIMEType, "image/")
		parts = append(parts, vertexgenai.ImageData(format, a.Data))
	}

	resp, err := v.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	text := strings.Join(textParts(resp), "")
	if text == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}

func textParts(resp *vertexgenai.GenerateContentResponse) []string {
	var out []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
				out = append(out, string(t))
			}
		}
	}
	return out
}
