// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package imageintake downscales images attached to messages before they
// are sent, so message documents stay small.
package imageintake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// ErrInvalidImage is returned for input that is not a supported image.
var ErrInvalidImage = errors.New("imageintake: invalid image")

// Defaults used when the configuration leaves them unset.
const (
	DefaultMaxWidth = 800
	DefaultQuality  = 70
)

// MaxPixels bounds the dimensions of an accepted image before it is
// decoded.
const MaxPixels = 40_000_000

// New returns an Intake. If uploader is nil, processed images are returned
// as data URLs.
func New(uploader Uploader, maxWidth int, quality int) *Intake {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Intake{
		uploader:  uploader,
		maxWidth:  maxWidth,
		quality:   quality,
		maxPixels: MaxPixels,
	}
}

// Intake converts uploaded images into a width capped JPEG.
type Intake struct {
	uploader  Uploader
	maxWidth  int
	quality   int
	maxPixels int
}

// Process decodes the image in the data URL, scales it down to the maximum
// width keeping its aspect ratio, and re-encodes it as JPEG. It returns a
// URL to use as a message's image.
func (in *Intake) Process(ctx context.Context, dataURL string) (string, error) {
	ct, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}

	var decodeConfig func(io.Reader) (image.Config, error)
	var decode func(io.Reader) (image.Image, error)
	switch ct {
	case "image/png":
		decodeConfig, decode = png.DecodeConfig, png.Decode
	case "image/jpeg", "image/jpg":
		decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
	default:
		return "", fmt.Errorf("imageintake: unsupported content type %s: %w", ct, ErrInvalidImage)
	}

	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imageintake: decoding %s header: %w: %w", ct, ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > in.maxPixels/cfg.Height {
		return "", fmt.Errorf("imageintake: image size %dx%d not accepted: %w", cfg.Width, cfg.Height, ErrInvalidImage)
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("imageintake: decoding %s: %w: %w", ct, ErrInvalidImage, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Downscale(img, in.maxWidth), &jpeg.Options{Quality: in.quality}); err != nil {
		return "", fmt.Errorf("imageintake: encoding jpeg: %w", err)
	}

	if in.uploader == nil {
		return ToDataURL(buf.Bytes()), nil
	}
	url, err := in.uploader.Upload(ctx, "images/"+uuid.NewString()+".jpg", "image/jpeg", buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("imageintake: uploading image: %w", err)
	}
	return url, nil
}

// Downscale returns img scaled to at most maxWidth wide. Narrower images are
// returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth {
		return img
	}
	height := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
