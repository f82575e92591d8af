package capture

import (
	"context"
	"errors"
	"image"
)

// ErrNotReady is returned by Stream.Frame when the video has no usable data yet.
var ErrNotReady = errors.New("video stream has not buffered enough data")

// CameraProvider acquires the candidate's camera. A denied or revoked
// permission is reported as an error from Open.
type CameraProvider interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live video source.
type Stream interface {
	// Ready reports whether the stream has enough buffered data to capture.
	Ready() bool
	// Frame returns the current video frame.
	Frame() (image.Image, error)
	// Stop releases every track of the stream. It is safe to call twice.
	Stop()
}

// CameraProviderFunc adapts a function to CameraProvider.
type CameraProviderFunc func(ctx context.Context) (Stream, error)

func (f CameraProviderFunc) Open(ctx context.Context) (Stream, error) {
	return f(ctx)
}
