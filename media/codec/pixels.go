// Package codec decodes, resamples and encodes images held as interleaved
// 8-bit channel arrays.
//
// The pipeline treats this package as a trusted collaborator with a fixed
// contract: Decode writes pixels into storage the caller provides,
// Resample leaves its result in the prefix of the same storage, and Encode
// only ever reads pixels while it emits bytes to a writer.
package codec

import (
	"image"
	"image/color"
	"math"
)

// Pixels is a decoded image: Width*Height pixels of Channels bytes each,
// row-major, channels interleaved. Channel layouts are gray (1), gray+alpha
// (2), RGB (3) and RGBA (4). Alpha is not premultiplied.
type Pixels struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
}

// Len returns the number of bytes the pixels occupy.
func (p Pixels) Len() int {
	return p.Width * p.Height * p.Channels
}

// Stride returns the byte distance between two rows.
func (p Pixels) Stride() int {
	return p.Width * p.Channels
}

// PixelBytes returns w*h*c, or false when it overflows an int or any
// dimension is not positive.
func PixelBytes(w, h, c int) (int, bool) {
	if w <= 0 || h <= 0 || c <= 0 {
		return 0, false
	}
	if w > math.MaxInt/h || w*h > math.MaxInt/c {
		return 0, false
	}
	return w * h * c, true
}

// Image returns a view of p with alpha preserved. No pixels are copied.
func (p Pixels) Image() image.Image {
	switch p.Channels {
	case 1:
		return &image.Gray{Pix: p.Pix, Stride: p.Stride(), Rect: image.Rect(0, 0, p.Width, p.Height)}
	case 4:
		return &image.NRGBA{Pix: p.Pix, Stride: p.Stride(), Rect: image.Rect(0, 0, p.Width, p.Height)}
	default:
		return &interleaved{p: p}
	}
}

// Opaque returns a view of p with alpha dropped, which is what a format
// without an alpha channel stores.
func (p Pixels) Opaque() image.Image {
	if p.Channels == 1 {
		return p.Image()
	}
	return &interleaved{p: p, dropAlpha: true}
}

// interleaved adapts 2, 3 and 4 channel layouts to image.Image.
type interleaved struct {
	p         Pixels
	dropAlpha bool
}

func (m *interleaved) ColorModel() color.Model {
	switch {
	case m.p.Channels <= 2 && m.dropAlpha:
		return color.GrayModel
	case m.p.Channels == 3 || m.dropAlpha:
		return color.RGBAModel
	default:
		return color.NRGBAModel
	}
}

func (m *interleaved) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.p.Width, m.p.Height)
}

func (m *interleaved) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.p.Width || y >= m.p.Height {
		return color.Transparent
	}
	i := (y*m.p.Width + x) * m.p.Channels
	s := m.p.Pix[i : i+m.p.Channels : i+m.p.Channels]
	switch m.p.Channels {
	case 1:
		return color.Gray{Y: s[0]}
	case 2:
		if m.dropAlpha {
			return color.Gray{Y: s[0]}
		}
		return color.NRGBA{R: s[0], G: s[0], B: s[0], A: s[1]}
	case 3:
		return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
	default:
		if m.dropAlpha {
			return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
		}
		return color.NRGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
	}
}

func (m *interleaved) Opaque() bool {
	if m.dropAlpha || m.p.Channels == 1 || m.p.Channels == 3 {
		return true
	}
	for i := m.p.Channels - 1; i < len(m.p.Pix); i += m.p.Channels {
		if m.p.Pix[i] != 0xff {
			return false
		}
	}
	return true
}

// store writes one color into dst using the c-channel layout.
func store(dst []byte, c int, col color.Color) {
	if c == 1 {
		dst[0] = color.GrayModel.Convert(col).(color.Gray).Y
		return
	}
	n := color.NRGBAModel.Convert(col).(color.NRGBA)
	switch c {
	case 2:
		dst[0] = color.GrayModel.Convert(color.NRGBA{R: n.R, G: n.G, B: n.B, A: 0xff}).(color.Gray).Y
		dst[1] = n.A
	case 3:
		dst[0], dst[1], dst[2] = n.R, n.G, n.B
	default:
		dst[0], dst[1], dst[2], dst[3] = n.R, n.G, n.B, n.A
	}
}

// storeImage copies img into dst as c-channel pixels. dst must not alias
// memory img reads from.
func storeImage(dst []byte, c int, img image.Image) {
	b := img.Bounds()
	w := b.Dx()

	switch m := img.(type) {
	case *image.Gray:
		if c == 1 {
			for y := 0; y < b.Dy(); y++ {
				src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
				copy(dst[y*w:(y+1)*w], src[:w])
			}
			return
		}
	case *image.NRGBA:
		if c == 4 {
			for y := 0; y < b.Dy(); y++ {
				src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
				copy(dst[y*w*4:(y+1)*w*4], src[:w*4])
			}
			return
		}
		if c == 3 || c == 2 {
			for y := 0; y < b.Dy(); y++ {
				src := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
				for x := 0; x < w; x++ {
					s := src[x*4 : x*4+4]
					d := dst[(y*w+x)*c:]
					if c == 3 {
						d[0], d[1], d[2] = s[0], s[1], s[2]
					} else {
						d[0], d[1] = s[0], s[3]
					}
				}
			}
			return
		}
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			store(dst[(y*w+x)*c:], c, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
}
