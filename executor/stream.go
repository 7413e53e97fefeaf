package executor

import (
	"context"
	"strings"
)

// StreamResponder delivers a turn as a sequence of chunks. An error from
// emit must stop the stream.
type StreamResponder interface {
	Stream(ctx context.Context, history []Turn, emit func(chunk string) error) error
}

// Buffered turns a StreamResponder into a Responder that returns only
// complete turns. Nothing is shown while a turn is streaming, so call syntax
// can never reach the user before it has been extracted and run; use
// WithDisplay to show the final text.
func Buffered(sr StreamResponder) Responder {
	return &bufferedResponder{stream: sr}
}

type bufferedResponder struct {
	stream StreamResponder
}

func (b *bufferedResponder) Generate(ctx context.Context, history []Turn) (string, error) {
	var sb strings.Builder
	err := b.stream.Stream(ctx, history, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sb.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
