package processor

import "fmt"

// Status is the outcome of one pipeline run.
type Status int

const (
	// StatusResized means the region now holds a smaller re-encoded image.
	StatusResized Status = iota
	// StatusNotImage means the input did not decode; the caller keeps it.
	StatusNotImage
	// StatusTooSmall means the image is already no wider than the target.
	StatusTooSmall
	// StatusNoRoom means the image was re-encoded but the result could not
	// be placed where the caller expects it; the caller keeps its input.
	StatusNoRoom
)

func (s Status) String() string {
	switch s {
	case StatusResized:
		return "resized"
	case StatusNotImage:
		return "not_image"
	case StatusTooSmall:
		return "too_small"
	case StatusNoRoom:
		return "no_room"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusResized, StatusNotImage, StatusTooSmall, StatusNoRoom} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// PassThrough reports whether the caller should keep its original bytes.
func (s Status) PassThrough() bool {
	return s != StatusResized
}

// Result describes one pipeline run. Size is the host-visible return
// value: zero for every pass-through status.
type Result struct {
	Status       Status `json:"status"`
	Size         int    `json:"size"`
	InputSize    int    `json:"input_size"`
	SourceWidth  int    `json:"source_width,omitempty"`
	SourceHeight int    `json:"source_height,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	Spilled      bool   `json:"spilled,omitempty"`
}
