package uploader

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// ImageNormalizer fixes EXIF orientation and bounds the longest edge of
// photos before they are stored.
type ImageNormalizer struct {
	maxDimension int
	jpegQuality  int
}

// NewImageNormalizer returns nil when maxDimension is not positive.
func NewImageNormalizer(maxDimension int) *ImageNormalizer {
	if maxDimension <= 0 {
		return nil
	}
	return &ImageNormalizer{maxDimension: maxDimension, jpegQuality: 85}
}

var imageFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
}

// Handles reports whether contentType is a format Normalize can rewrite.
func (n *ImageNormalizer) Handles(contentType string) bool {
	_, ok := imageFormats[contentType]
	return ok
}

// Normalize returns data unchanged when the image already fits.
func (n *ImageNormalizer) Normalize(data []byte, contentType string) ([]byte, error) {
	format, ok := imageFormats[contentType]
	if !ok {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= n.maxDimension && b.Dy() <= n.maxDimension {
		return data, nil
	}

	resized := imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(n.jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
