package llm

import "context"

// Streamer is implemented by providers that can deliver a reply in pieces.
// onChunk receives each text delta in order; an error from it aborts the
// stream and is returned. The Response carries the full text.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error)
}

// Stream delivers p's reply to onChunk. Providers without streaming support
// answer through Generate and the whole reply arrives as one chunk.
func Stream(ctx context.Context, p Provider, req Request, onChunk func(string) error) (Response, error) {
	if s, ok := p.(Streamer); ok {
		return s.Stream(ctx, req, onChunk)
	}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if resp.Text != "" {
		if err := onChunk(resp.Text); err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}
