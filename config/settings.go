package config

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	validatorV10 "github.com/go-playground/validator/v10"
	"github.com/leeforge/shrink/logging"
)

var validator = validatorV10.New()

// Settings is the full configuration of a shrink host.
type Settings struct {
	Buffer  BufferSettings `mapstructure:"buffer" json:"buffer"`
	Resize  ResizeSettings `mapstructure:"resize" json:"resize"`
	Codec   CodecSettings  `mapstructure:"codec" json:"codec"`
	Logging logging.Config `mapstructure:"logging" json:"logging"`
}

type BufferSettings struct {
	// MaxBytes caps the image buffer, pixel storage included.
	MaxBytes int `mapstructure:"max-bytes" json:"maxBytes" default:"268435456" validate:"gte=1"`
}

type ResizeSettings struct {
	Quality int    `mapstructure:"quality" json:"quality" default:"90" validate:"gte=1,lte=100"`
	Filter  string `mapstructure:"filter" json:"filter" default:"box" validate:"oneof=box nearest bilinear bicubic mitchell lanczos2 lanczos3 catmullrom approx-bilinear"`
}

type CodecSettings struct {
	AutoOrient bool `mapstructure:"auto-orient" json:"autoOrient"`
}

// SettingKeys lists every key that may be overridden through SHRINK_* env vars.
var SettingKeys = []string{
	"buffer.max-bytes",
	"resize.quality",
	"resize.filter",
	"codec.auto-orient",
	"logging.level",
	"logging.format",
	"logging.director",
	"logging.log-in-terminal",
	"logging.log-in-file",
}

// DefaultSettings returns settings with every default applied.
func DefaultSettings() Settings {
	s := Settings{Logging: logging.DefaultConfig()}
	if err := defaults.Set(&s); err != nil {
		panic(fmt.Sprintf("invalid default tags: %v", err))
	}
	return s
}

// Validate implements Validator.
func (s *Settings) Validate() error {
	err := validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validatorV10.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Namespace(), getValidationMessage(fe)))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func getValidationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

// LoadSettings reads defaults, then config files, then env overrides.
func LoadSettings(opts ConfigOptions) (Settings, []string, error) {
	if len(opts.Keys) == 0 {
		opts.Keys = SettingKeys
	}

	settings := DefaultSettings()
	cfg, err := NewConfig(opts)
	if err != nil {
		return Settings{}, nil, err
	}
	if err := cfg.Bind(&settings); err != nil {
		return Settings{}, nil, err
	}
	return settings, cfg.Files(), nil
}
