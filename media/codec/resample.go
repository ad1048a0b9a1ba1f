package codec

import (
	"fmt"
	"image"
	"sort"

	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/utils"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// DefaultFilter is the resampler used when none is configured.
const DefaultFilter = "box"

// Resampler shrinks px to w x h. The result occupies the first w*h*c bytes
// of px.Pix; nothing outside px.Pix is written.
type Resampler interface {
	Name() string
	Resample(px Pixels, w, h int) (Pixels, error)
}

var resamplers = map[string]Resampler{
	"box":             BoxResampler{},
	"nearest":         filterResampler{name: "nearest", interp: resize.NearestNeighbor},
	"bilinear":        filterResampler{name: "bilinear", interp: resize.Bilinear},
	"bicubic":         filterResampler{name: "bicubic", interp: resize.Bicubic},
	"mitchell":        filterResampler{name: "mitchell", interp: resize.MitchellNetravali},
	"lanczos2":        filterResampler{name: "lanczos2", interp: resize.Lanczos2},
	"lanczos3":        filterResampler{name: "lanczos3", interp: resize.Lanczos3},
	"catmullrom":      scalerResampler{name: "catmullrom", scaler: draw.CatmullRom},
	"approx-bilinear": scalerResampler{name: "approx-bilinear", scaler: draw.ApproxBiLinear},
}

// NewResampler looks a resampler up by filter name.
func NewResampler(name string) (Resampler, error) {
	if name == "" {
		name = DefaultFilter
	}
	r, ok := resamplers[utils.NormalizeName(name)]
	if !ok {
		return nil, apperrors.NewInvalid("filter", name, fmt.Sprintf("must be one of %v", Filters()))
	}
	return r, nil
}

// Filters lists the known filter names.
func Filters() []string {
	names := make([]string, 0, len(resamplers))
	for name := range resamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkShrink(px Pixels, w, h int) error {
	if w < 1 || h < 1 {
		return apperrors.NewInvalid("target", fmt.Sprintf("%dx%d", w, h), "dimensions must be positive")
	}
	if w > px.Width || h > px.Height {
		return apperrors.NewInvalid("target", fmt.Sprintf("%dx%d", w, h),
			fmt.Sprintf("must not exceed source %dx%d", px.Width, px.Height))
	}
	if len(px.Pix) < px.Len() {
		return apperrors.NewInternal("pixel storage shorter than its dimensions")
	}
	return nil
}

// BoxResampler averages the source rectangle behind each destination
// pixel and writes the result over the source, in place.
//
// Destination pixels are produced in row-major order. Destination (x, y)
// lands at offset (y*w + x)*c, and the first source pixel it reads is
// (y*sh/h, x*sw/w). Since w <= sw and h <= sh, y*sh/h >= y and x*sw/w >= x,
// so that source offset is never below the destination offset. Every
// write therefore hits bytes no later destination pixel reads. A resampler
// that reads outside this order needs separate output storage.
type BoxResampler struct{}

func (BoxResampler) Name() string { return "box" }

func (BoxResampler) Resample(px Pixels, w, h int) (Pixels, error) {
	if err := checkShrink(px, w, h); err != nil {
		return Pixels{}, err
	}

	sw, sh, c := px.Width, px.Height, px.Channels
	pix := px.Pix
	var acc [4]uint64

	for y := 0; y < h; y++ {
		y0, y1 := y*sh/h, (y+1)*sh/h
		for x := 0; x < w; x++ {
			x0, x1 := x*sw/w, (x+1)*sw/w

			acc = [4]uint64{}
			for sy := y0; sy < y1; sy++ {
				row := pix[(sy*sw+x0)*c : (sy*sw+x1)*c]
				for i := 0; i < len(row); i += c {
					for k := 0; k < c; k++ {
						acc[k] += uint64(row[i+k])
					}
				}
			}

			n := uint64((y1 - y0) * (x1 - x0))
			d := (y*w + x) * c
			for k := 0; k < c; k++ {
				pix[d+k] = byte((acc[k] + n/2) / n)
			}
		}
	}

	size := w * h * c
	return Pixels{Pix: pix[:size:size], Width: w, Height: h, Channels: c}, nil
}

// filterResampler runs one of the nfnt/resize interpolation kernels.
// The kernel writes into its own image; the result is copied into the
// pixel prefix once the source has been read completely.
type filterResampler struct {
	name   string
	interp resize.InterpolationFunction
}

func (f filterResampler) Name() string { return f.name }

func (f filterResampler) Resample(px Pixels, w, h int) (Pixels, error) {
	if err := checkShrink(px, w, h); err != nil {
		return Pixels{}, err
	}
	out := resize.Resize(uint(w), uint(h), px.Image(), f.interp)
	return writeBack(px, out, w, h), nil
}

// scalerResampler runs a golang.org/x/image/draw kernel.
type scalerResampler struct {
	name   string
	scaler draw.Scaler
}

func (s scalerResampler) Name() string { return s.name }

func (s scalerResampler) Resample(px Pixels, w, h int) (Pixels, error) {
	if err := checkShrink(px, w, h); err != nil {
		return Pixels{}, err
	}

	var dst draw.Image
	if px.Channels == 1 {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	src := px.Image()
	s.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return writeBack(px, dst, w, h), nil
}

func writeBack(px Pixels, img image.Image, w, h int) Pixels {
	size := w * h * px.Channels
	out := Pixels{Pix: px.Pix[:size:size], Width: w, Height: h, Channels: px.Channels}
	storeImage(out.Pix, out.Channels, img)
	return out
}
