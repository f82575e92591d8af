package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
)

const (
	MimeJPEG = "image/jpeg"

	// DefaultJPEGQuality matches a canvas toDataURL quality of 0.8.
	DefaultJPEGQuality = 80
)

// Decode attempts to decode an image from bytes, trying JPEG first
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no image data provided")
	}

	// Try JPEG first (camera frames)
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try generic image decode as fallback
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("unsupported or invalid image format")
}

// EncodeJPEG writes img as a baseline JPEG. quality <= 0 selects the default.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// ToDataURL wraps raw bytes the way a canvas toDataURL does.
func ToDataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// FromDataURL splits a data URL into its mime type and decoded payload.
// A bare base64 string is accepted and reported as JPEG.
func FromDataURL(s string) (string, []byte, error) {
	mime := MimeJPEG
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s, ",")
		if !ok {
			return "", nil, fmt.Errorf("malformed data url")
		}
		header = strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(header, ";base64") {
			return "", nil, fmt.Errorf("data url is not base64 encoded")
		}
		mime = strings.TrimSuffix(header, ";base64")
		payload = data
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return mime, raw, nil
}

// FitSize returns the dimensions of a w×h image scaled down to fit within
// maxW×maxH (keeping aspect ratio). Images that already fit are unchanged.
//
// maxW/maxH: a value <= 0 leaves that axis unconstrained
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	if maxW <= 0 && maxH <= 0 {
		return w, h
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(h)
		maxW = int(math.Round(float64(w) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(w)
		maxH = int(math.Round(float64(h) * scale))
	}

	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1.0 {
		return w, h // already small enough
	}
	fw := int(math.Max(1, math.Round(float64(w)*scale)))
	fh := int(math.Max(1, math.Round(float64(h)*scale)))
	return fw, fh
}

// ScaleInto draws src over the whole of dst, resampling when sizes differ.
func ScaleInto(dst *image.RGBA, src image.Image) {
	if dst.Bounds().Size() == src.Bounds().Size() {
		xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return
	}
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// ResizeToFit scales img to fit within maxW×maxH (keeping aspect ratio)
func ResizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()
	w, h := FitSize(bw, bh, maxW, maxH)
	if w == bw && h == bh {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	ScaleInto(dst, src)
	return dst
}
