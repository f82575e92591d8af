package capture

import (
	"bytes"
	"fmt"
	"image"
	"sync"
	"time"

	"exam-integrity-monitor/images"
)

// Frame is one encoded still taken from the stream.
type Frame struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

// DataURL returns the frame the way the backend expects it.
func (f Frame) DataURL() string {
	return images.ToDataURL(images.MimeJPEG, f.Data)
}

// Encoder owns the off-screen raster shared by every capture in a session.
// The raster is held only for the duration of one draw-and-encode step.
type Encoder struct {
	mu      sync.Mutex
	maxW    int
	maxH    int
	quality int
	scratch *image.RGBA
	buf     bytes.Buffer
}

// NewEncoder creates an encoder that downsizes frames to fit maxW×maxH
// (<= 0 means unconstrained) and encodes them as JPEG at the given quality.
func NewEncoder(maxW, maxH, quality int) *Encoder {
	return &Encoder{maxW: maxW, maxH: maxH, quality: quality}
}

// Capture draws the stream's current frame into the scratch raster and
// returns a JPEG copy that the caller owns.
func (e *Encoder) Capture(stream Stream) ([]byte, error) {
	img, err := stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return e.Encode(img)
}

// Encode is Capture for an already decoded image.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	w, h := images.FitSize(b.Dx(), b.Dy(), e.maxW, e.maxH)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scratch == nil || e.scratch.Bounds().Dx() != w || e.scratch.Bounds().Dy() != h {
		e.scratch = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	images.ScaleInto(e.scratch, img)

	e.buf.Reset()
	if err := images.EncodeJPEG(&e.buf, e.scratch, e.quality); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}
