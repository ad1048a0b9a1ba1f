package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	apperrors "github.com/leeforge/shrink/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heapAlloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gradientNRGBA(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: alpha})
		}
	}
	return img
}

func TestStdDecoder_Channels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.Pix[5] = 200

	tests := []struct {
		name     string
		img      image.Image
		channels int
	}{
		{"gray", gray, 1},
		{"opaque color", gradientNRGBA(4, 3, 0xff), 3},
		{"translucent color", gradientNRGBA(4, 3, 0x80), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			px, err := StdDecoder{}.Decode(encodePNG(t, tt.img), heapAlloc)
			require.NoError(t, err)
			assert.Equal(t, 4, px.Width)
			assert.Equal(t, 3, px.Height)
			assert.Equal(t, tt.channels, px.Channels)
			assert.Len(t, px.Pix, px.Len())
		})
	}
}

func TestStdDecoder_KeepsPixelValues(t *testing.T) {
	src := gradientNRGBA(5, 2, 0x80)
	px, err := StdDecoder{}.Decode(encodePNG(t, src), heapAlloc)
	require.NoError(t, err)
	require.Equal(t, 4, px.Channels)
	assert.Equal(t, src.Pix, px.Pix)
}

func TestStdDecoder_NotAnImage(t *testing.T) {
	called := false
	alloc := func(n int) ([]byte, error) {
		called = true
		return make([]byte, n), nil
	}

	_, err := StdDecoder{}.Decode([]byte("definitely not an image"), alloc)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDecode))
	assert.True(t, apperrors.FromError(err).Recoverable())
	assert.False(t, called, "no storage may be requested for unrecognised input")
}

func TestStdDecoder_AllocatorFailureIsFatal(t *testing.T) {
	data := encodePNG(t, gradientNRGBA(8, 8, 0xff))
	_, err := StdDecoder{}.Decode(data, func(n int) ([]byte, error) {
		return nil, apperrors.NewAllocation(n, 0)
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
}

func TestStdDecoder_MaxPixelBytes(t *testing.T) {
	data := encodePNG(t, gradientNRGBA(64, 64, 0xff))
	_, err := StdDecoder{MaxPixelBytes: 1024}.Decode(data, heapAlloc)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
}

func TestStdDecoder_MaxPixelBytesSharesBudgetWithInput(t *testing.T) {
	data := encodePNG(t, image.NewGray(image.Rect(0, 0, 100, 100)))
	fits := len(data) + 100*100

	px, err := StdDecoder{MaxPixelBytes: fits}.Decode(data, heapAlloc)
	require.NoError(t, err)
	assert.Equal(t, 1, px.Channels)

	called := false
	_, err = StdDecoder{MaxPixelBytes: fits - 1}.Decode(data, func(n int) ([]byte, error) {
		called = true
		return make([]byte, n), nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation))
	assert.Equal(t, 100, apperrors.FromError(err).Details["width"])
	assert.False(t, called, "oversized images are rejected before decoding")
}

func TestDecodeConfig(t *testing.T) {
	cfg, format, err := DecodeConfig(encodePNG(t, gradientNRGBA(7, 3, 0xff)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 3, cfg.Height)
}

// referenceBox is an out-of-place area average used to check the in-place one.
func referenceBox(px Pixels, w, h int) []byte {
	out := make([]byte, w*h*px.Channels)
	for y := 0; y < h; y++ {
		y0, y1 := y*px.Height/h, (y+1)*px.Height/h
		for x := 0; x < w; x++ {
			x0, x1 := x*px.Width/w, (x+1)*px.Width/w
			for k := 0; k < px.Channels; k++ {
				var sum, n int
				for sy := y0; sy < y1; sy++ {
					for sx := x0; sx < x1; sx++ {
						sum += int(px.Pix[(sy*px.Width+sx)*px.Channels+k])
						n++
					}
				}
				out[(y*w+x)*px.Channels+k] = byte((sum + n/2) / n)
			}
		}
	}
	return out
}

func noisePixels(w, h, c int) Pixels {
	pix := make([]byte, w*h*c)
	seed := uint32(2463534242)
	for i := range pix {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		pix[i] = byte(seed)
	}
	return Pixels{Pix: pix, Width: w, Height: h, Channels: c}
}

func TestBoxResampler_InPlaceMatchesReference(t *testing.T) {
	tests := []struct {
		sw, sh, c, w, h int
	}{
		{10, 10, 1, 5, 5},
		{17, 9, 3, 7, 3},
		{33, 20, 4, 32, 19},
		{8, 8, 2, 8, 8},
		{100, 1, 3, 1, 1},
		{3, 50, 4, 2, 33},
	}

	for _, tt := range tests {
		src := noisePixels(tt.sw, tt.sh, tt.c)
		want := referenceBox(src, tt.w, tt.h)

		got, err := BoxResampler{}.Resample(src, tt.w, tt.h)
		require.NoError(t, err)
		assert.Equal(t, tt.w, got.Width)
		assert.Equal(t, tt.h, got.Height)
		assert.Equal(t, tt.c, got.Channels)
		assert.Equal(t, want, got.Pix, "%dx%dx%d -> %dx%d", tt.sw, tt.sh, tt.c, tt.w, tt.h)
		assert.Same(t, &src.Pix[0], &got.Pix[0], "result must occupy the source prefix")
	}
}

func TestBoxResampler_UniformStaysUniform(t *testing.T) {
	px := Pixels{Pix: bytes.Repeat([]byte{10, 20, 30}, 12*6), Width: 12, Height: 6, Channels: 3}
	got, err := BoxResampler{}.Resample(px, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{10, 20, 30}, 10), got.Pix)
}

func TestResamplers_Dimensions(t *testing.T) {
	for _, name := range Filters() {
		t.Run(name, func(t *testing.T) {
			r, err := NewResampler(name)
			require.NoError(t, err)
			assert.Equal(t, name, r.Name())

			for _, c := range []int{1, 3, 4} {
				src := noisePixels(40, 20, c)
				before := append([]byte(nil), src.Pix...)

				got, err := r.Resample(src, 10, 5)
				require.NoError(t, err)
				assert.Equal(t, 10, got.Width)
				assert.Equal(t, 5, got.Height)
				assert.Equal(t, c, got.Channels)
				assert.Len(t, got.Pix, 10*5*c)
				assert.Equal(t, before[10*5*c:], src.Pix[10*5*c:], "bytes past the result are untouched")
			}
		})
	}
}

func TestResamplers_RejectEnlargement(t *testing.T) {
	src := noisePixels(4, 4, 3)
	for _, name := range Filters() {
		r, err := NewResampler(name)
		require.NoError(t, err)

		_, err = r.Resample(src, 5, 4)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid), name)
		_, err = r.Resample(src, 2, 0)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid), name)
	}
}

func TestNewResampler(t *testing.T) {
	r, err := NewResampler("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFilter, r.Name())

	r, err = NewResampler("Approx_Bilinear")
	require.NoError(t, err)
	assert.Equal(t, "approx-bilinear", r.Name())

	_, err = NewResampler("sinc")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid))
}

func TestJPEGEncoder_RoundTrip(t *testing.T) {
	for _, c := range []int{1, 2, 3, 4} {
		px := noisePixels(24, 16, c)

		var buf bytes.Buffer
		require.NoError(t, NewJPEGEncoder(DefaultQuality).Encode(&buf, px))

		img, err := jpeg.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 24, 16), img.Bounds())
		if c == 1 {
			assert.IsType(t, &image.Gray{}, img)
		}
	}
}

func TestNewJPEGEncoder_Quality(t *testing.T) {
	assert.Equal(t, DefaultQuality, NewJPEGEncoder(0).Quality)
	assert.Equal(t, 1, NewJPEGEncoder(-4).Quality)
	assert.Equal(t, 100, NewJPEGEncoder(300).Quality)
	assert.Equal(t, 75, NewJPEGEncoder(75).Quality)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestJPEGEncoder_Errors(t *testing.T) {
	enc := NewJPEGEncoder(90)

	err := enc.Encode(&bytes.Buffer{}, Pixels{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalid))

	err = enc.Encode(failingWriter{errors.New("disk full")}, noisePixels(8, 8, 3))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEncode))

	err = enc.Encode(failingWriter{apperrors.NewAllocation(1, 0)}, noisePixels(8, 8, 3))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAllocation), "sink errors keep their type")
}
