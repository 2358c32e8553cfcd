package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrInvalidFrame is returned for frames that are not a whole number
	// of PCM16 samples or exceed the configured maximum size.
	ErrInvalidFrame = errors.New("invalid audio frame")

	// ErrClosed is returned by Push after the buffer reached end-of-stream.
	ErrClosed = errors.New("audio buffer closed")
)

const (
	DefaultMaxFrameBytes = 64 * 1024
	DefaultBacklogFrames = 64
)

// FrameBuffer is a bounded single-producer single-consumer queue of raw
// PCM16 frames. The connection handler pushes, the recognition adapter
// drains. When the consumer falls behind, Push blocks rather than
// dropping audio, since silent sample loss corrupts recognition
// alignment.
type FrameBuffer struct {
	frames chan []byte
	done   chan struct{}

	maxFrameBytes int

	closeOnce sync.Once
}

func NewFrameBuffer(maxFrameBytes, backlogFrames int) *FrameBuffer {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	if backlogFrames <= 0 {
		backlogFrames = DefaultBacklogFrames
	}
	return &FrameBuffer{
		frames:        make(chan []byte, backlogFrames),
		done:          make(chan struct{}),
		maxFrameBytes: maxFrameBytes,
	}
}

// Push appends one frame. It blocks while the backlog is full and
// returns ErrClosed once Close has been called. Frames with an odd byte
// count or larger than the maximum are rejected with ErrInvalidFrame.
func (b *FrameBuffer) Push(frame []byte) error {
	if len(frame) == 0 || len(frame)%2 != 0 || len(frame) > b.maxFrameBytes {
		return ErrInvalidFrame
	}

	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.frames <- frame:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Next returns the next frame, blocking until one is available. After
// Close it drains frames already queued and then reports io.EOF.
func (b *FrameBuffer) Next(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-b.frames:
		return frame, nil
	case <-b.done:
		select {
		case frame := <-b.frames:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals end-of-stream. Queued frames remain readable via Next.
// Close is idempotent.
func (b *FrameBuffer) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
}

// Closed reports whether end-of-stream has been signalled.
func (b *FrameBuffer) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
