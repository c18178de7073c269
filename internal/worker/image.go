package worker

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"ocrdeploy/internal/endpoint"
)

// decodedImage is the header information of a submitted image.
type decodedImage struct {
	Width, Height int
	Mode          string
	Format        string
	MIME          string
	Data          []byte
}

// DataURL returns the image as a data: URL for upstream requests.
func (d decodedImage) DataURL() string { return endpoint.ImageDataURL(d.MIME, d.Data) }

// decodeBase64 accepts raw standard or URL-safe base64, with or without
// padding, or a data: URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		if !strings.Contains(s[:i], ";base64") {
			return nil, errors.New("data URL is not base64 encoded")
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty image data")
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return nil, fmt.Errorf("invalid base64: %w", err)
}

// decodeImage reads the image header from base64 input.
func decodeImage(s string) (decodedImage, error) {
	data, err := decodeBase64(s)
	if err != nil {
		return decodedImage{}, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return decodedImage{}, fmt.Errorf("cannot identify image file: %w", err)
	}
	return decodedImage{
		Width:  cfg.Width,
		Height: cfg.Height,
		Mode:   pilMode(cfg.ColorModel),
		Format: format,
		MIME:   "image/" + format,
		Data:   data,
	}, nil
}

// pilMode maps a Go color model to the mode names used by Pillow.
func pilMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.RGBAModel, color.RGBA64Model, color.YCbCrModel:
		// opaque truecolor in every std and x/image decoder
		return "RGB"
	case color.NRGBAModel, color.NRGBA64Model, color.NYCbCrAModel:
		return "RGBA"
	case color.CMYKModel:
		return "CMYK"
	}
	return "RGB"
}
