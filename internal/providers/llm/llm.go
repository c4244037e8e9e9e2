package llm

import "context"

// Attachment is binary content sent alongside a prompt, e.g. a canvas snapshot.
type Attachment struct {
	MIMEType string
	Data     []byte
}

type Provider interface {
	// StreamAnswer returns a stream of text chunks (incremental).
	// errs receives at most one error and is closed after chunks.
	StreamAnswer(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	// Complete returns the whole answer in one piece.
	Complete(ctx context.Context, prompt string, attachments ...Attachment) (string, error)
	Close() error
}
