package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	apperrors "github.com/leeforge/shrink/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Allocator returns n bytes of pixel storage or a fatal error.
type Allocator func(n int) ([]byte, error)

// Decoder turns encoded bytes into Pixels held in allocator-provided storage.
type Decoder interface {
	Decode(data []byte, alloc Allocator) (Pixels, error)
}

// StdDecoder decodes every format registered with the image package:
// JPEG, PNG and GIF from the standard library, WebP, BMP and TIFF from
// golang.org/x/image.
type StdDecoder struct {
	// AutoOrient applies the EXIF orientation tag, so width and height
	// describe the image as it is meant to be viewed.
	AutoOrient bool
	// MaxPixelBytes rejects images whose decoded form cannot fit the
	// caller's buffer before any decoding work starts. Zero disables it.
	MaxPixelBytes int
}

// DecodeConfig reads dimensions and format name without decoding pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", apperrors.NewDecode(err)
	}
	return cfg, format, nil
}

// Decode keeps the source-native channel count: gray stays one channel,
// opaque color three, color with alpha four. Unrecognised or corrupt data
// yields an ErrorTypeDecode error; every other error is fatal.
func (d StdDecoder) Decode(data []byte, alloc Allocator) (Pixels, error) {
	cfg, format, err := DecodeConfig(data)
	if err != nil {
		return Pixels{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Pixels{}, apperrors.NewDecode(errors.New("image has no pixels")).WithDetail("format", format)
	}
	if d.MaxPixelBytes > 0 {
		// Pixel storage follows the input, so both share the budget.
		budget := d.MaxPixelBytes - len(data)
		c := modelChannels(cfg.ColorModel)
		if d.AutoOrient && c == 1 {
			// imaging hands rotated images back as NRGBA.
			c = 3
		}
		if n, ok := PixelBytes(cfg.Width, cfg.Height, c); !ok || n > budget {
			return Pixels{}, apperrors.NewAllocation(len(data)+n, d.MaxPixelBytes).
				WithDetail("width", cfg.Width).
				WithDetail("height", cfg.Height)
		}
	}

	var img image.Image
	if d.AutoOrient {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return Pixels{}, apperrors.NewDecode(err).WithDetail("format", format)
	}

	b := img.Bounds()
	c := channelsOf(img)
	n, ok := PixelBytes(b.Dx(), b.Dy(), c)
	if !ok {
		return Pixels{}, apperrors.NewDecode(errors.New("image has no pixels")).WithDetail("format", format)
	}

	pix, err := alloc(n)
	if err != nil {
		return Pixels{}, err
	}
	if len(pix) < n {
		return Pixels{}, apperrors.NewInternal("allocator returned short pixel storage").
			WithDetail("want", n).
			WithDetail("got", len(pix))
	}

	px := Pixels{Pix: pix[:n:n], Width: b.Dx(), Height: b.Dy(), Channels: c}
	fill(px, img)
	return px, nil
}

// modelChannels bounds the channel count channelsOf will pick for an image
// decoded with model m.
func modelChannels(m color.Model) int {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.YCbCrModel, color.CMYKModel:
		return 3
	default:
		return 4
	}
}

// channelsOf returns the smallest layout that holds img without loss.
func channelsOf(img image.Image) int {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr, *image.CMYK:
		return 3
	case *image.NRGBA:
		if m.Opaque() {
			return 3
		}
		if grayNRGBA(m) {
			return 2
		}
		return 4
	case interface{ Opaque() bool }:
		if m.Opaque() {
			return 3
		}
		return 4
	default:
		return 4
	}
}

// grayNRGBA reports whether every pixel has R == G == B, which is how the
// png package hands back gray+alpha images.
func grayNRGBA(m *image.NRGBA) bool {
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := m.Pix[m.PixOffset(b.Min.X, y):m.PixOffset(b.Max.X-1, y)+4]
		for i := 0; i < len(row); i += 4 {
			if row[i] != row[i+1] || row[i] != row[i+2] {
				return false
			}
		}
	}
	return true
}

// fill copies img into px, converting to px.Channels.
func fill(px Pixels, img image.Image) {
	b := img.Bounds()
	w, c := px.Width, px.Channels

	switch m := img.(type) {
	case *image.YCbCr:
		for y := 0; y < px.Height; y++ {
			for x := 0; x < w; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl := color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
				d := px.Pix[(y*w+x)*3:]
				d[0], d[1], d[2] = r, g, bl
			}
		}
	case *image.RGBA:
		if c != 3 {
			storeImage(px.Pix, c, img)
			return
		}
		// Opaque, so the premultiplied values are the straight values.
		for y := 0; y < px.Height; y++ {
			src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				d := px.Pix[(y*w+x)*3:]
				d[0], d[1], d[2] = src[x*4], src[x*4+1], src[x*4+2]
			}
		}
	default:
		storeImage(px.Pix, c, img)
	}
}
