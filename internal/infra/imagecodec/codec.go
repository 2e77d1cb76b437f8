// Package imagecodec turns an uploaded image into a bounded-size data URI.
package imagecodec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// PassThroughThreshold is the size under which uploads are kept as-is.
	PassThroughThreshold = 1 << 20

	DefaultMaxDimension = 1600
	DefaultQuality      = 80
)

var ErrNotImage = errors.New("not an image")

type Codec struct {
	MaxDimension int
	Quality      int
	Threshold    int
}

func New(maxDimension, quality int) Codec {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return Codec{MaxDimension: maxDimension, Quality: quality, Threshold: PassThroughThreshold}
}

// Compress returns blob as a data URI, re-encoded when it is over the
// threshold. Small PNGs stay PNG; everything else is re-encoded as JPEG. The
// original is kept whenever re-encoding would not make it smaller.
func (c Codec) Compress(ctx context.Context, blob []byte) (string, error) {
	mime := mimetype.Detect(blob).String()
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}
	if len(blob) < c.Threshold {
		return DataURI(mime, blob), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, format, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", mime, err)
	}
	img := Fit(src, c.MaxDimension)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if format == "png" {
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err == nil && buf.Len() <= c.Threshold && buf.Len() < len(blob) {
			return DataURI("image/png", buf.Bytes()), nil
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: c.Quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() >= len(blob) && img == src {
		return DataURI(mime, blob), nil
	}
	return DataURI("image/jpeg", buf.Bytes()), nil
}

// Fit scales src down, keeping its aspect ratio, so that neither side
// exceeds maxDimension. Smaller images are returned unchanged.
func Fit(src image.Image, maxDimension int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDimension && h <= maxDimension {
		return src
	}
	if w >= h {
		h = max(1, h*maxDimension/w)
		w = maxDimension
	} else {
		w = max(1, w*maxDimension/h)
		h = maxDimension
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// flatten composites transparent pixels onto white before JPEG encoding.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a base64 data URI into its media type and bytes.
func DecodeDataURI(payload string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, errors.New("not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, errors.New("not a base64 data URI")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSuffix(meta, ";base64"), raw, nil
}
