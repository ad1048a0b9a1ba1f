package codec

import (
	"fmt"
	"image/jpeg"
	"io"

	apperrors "github.com/leeforge/shrink/errors"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 90

// Encoder writes Pixels to w in some encoded form.
type Encoder interface {
	Encode(w io.Writer, px Pixels) error
}

// JPEGEncoder encodes to baseline JPEG. Alpha is dropped; gray stays gray.
type JPEGEncoder struct {
	Quality int
}

// NewJPEGEncoder clamps quality to [1, 100]. Zero selects DefaultQuality.
func NewJPEGEncoder(quality int) JPEGEncoder {
	switch {
	case quality == 0:
		quality = DefaultQuality
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	return JPEGEncoder{Quality: quality}
}

func (e JPEGEncoder) Encode(w io.Writer, px Pixels) error {
	if px.Width < 1 || px.Height < 1 || px.Channels < 1 || px.Channels > 4 {
		return apperrors.NewInvalid("pixels", fmt.Sprintf("%dx%dx%d", px.Width, px.Height, px.Channels),
			"nothing to encode")
	}
	if len(px.Pix) < px.Len() {
		return apperrors.NewInternal("pixel storage shorter than its dimensions")
	}

	quality := e.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	if err := jpeg.Encode(w, px.Opaque(), &jpeg.Options{Quality: quality}); err != nil {
		if appErr := apperrors.FromError(err); appErr.Type != apperrors.ErrorTypeUnknown {
			return appErr
		}
		return apperrors.NewEncode(err)
	}
	return nil
}
