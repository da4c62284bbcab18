package httpclient

import (
	"context"
	"errors"
	"io"

	"github.com/tmaxmax/go-sse"

	"github.com/looplj/m365gateway/internal/log"
)

// NewSSEDecoder wraps rc as a Stream[*StreamEvent] using go-sse's Stream
// reader. Graph chat-stream payloads can carry large cumulative snapshots, so
// the max event size is raised well above go-sse's conservative default.
func NewSSEDecoder(ctx context.Context, rc io.ReadCloser) *sseDecoder {
	return &sseDecoder{
		ctx: ctx,
		rc:  rc,
		stream: sse.NewStreamWithConfig(rc, &sse.StreamConfig{
			MaxEventSize: 8 * 1024 * 1024,
		}),
	}
}

type sseDecoder struct {
	ctx     context.Context
	rc      io.ReadCloser
	stream  *sse.Stream
	current *StreamEvent
	err     error
	closed  bool
}

func (d *sseDecoder) Next() bool {
	if d.err != nil || d.closed {
		return false
	}

	select {
	case <-d.ctx.Done():
		d.err = d.ctx.Err()
		_ = d.Close()

		return false
	default:
	}

	event, err := d.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			_ = d.Close()

			return false
		}

		d.err = err
		_ = d.Close()

		return false
	}

	log.Debug(d.ctx, "sse event received", log.String("type", event.Type))

	d.current = &StreamEvent{
		LastEventID: event.LastEventID,
		Type:        event.Type,
		Data:        []byte(event.Data),
	}

	return true
}

func (d *sseDecoder) Current() *StreamEvent { return d.current }

func (d *sseDecoder) Err() error { return d.err }

func (d *sseDecoder) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	if d.stream != nil {
		_ = d.stream.Close()
	}

	return d.rc.Close()
}
