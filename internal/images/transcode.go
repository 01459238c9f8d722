package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Transcoder validates, resizes, flattens, and re-encodes images to JPEG.
type Transcoder struct {
	MaxDimension int
	Quality      int
}

// NewTranscoder builds a Transcoder with bounds applied.
func NewTranscoder(maxDimension, quality int) *Transcoder {
	if maxDimension <= 0 {
		maxDimension = 1600
	}
	if quality <= 0 || quality > 100 {
		quality = 82
	}
	return &Transcoder{MaxDimension: maxDimension, Quality: quality}
}

// Transcode decodes the payload (rejecting anything that is not a real
// image), scales it down to the bounded dimension preserving aspect ratio
// (never upscaling), flattens transparency onto white, and encodes JPEG.
func (t *Transcoder) Transcode(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > t.MaxDimension || bounds.Dy() > t.MaxDimension {
		img = imaging.Fit(img, t.MaxDimension, t.MaxDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}

	// JPEG has no alpha channel; flatten onto a white background so
	// transparent regions do not come out black.
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Paste(flat, img, image.Pt(0, 0))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(t.Quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
