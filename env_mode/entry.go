package env_mode

import (
	"os"
	"strings"
)

// ENV_MODE_KEY selects which config file variants are layered on top of
// the base file.
const ENV_MODE_KEY = "SHRINK_ENV"

type ENV_MODE string

const (
	DevMode  ENV_MODE = "development"
	ProMode  ENV_MODE = "production"
	TestMode ENV_MODE = "test"
)

func ParseEnv(env string) ENV_MODE {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// Mode reads the current mode from the environment on every call so that
// tests can switch it with t.Setenv.
func Mode() ENV_MODE {
	return ParseEnv(os.Getenv(ENV_MODE_KEY))
}

// Suffixes returns the file name suffixes recognised for a mode, most
// general first.
func (m ENV_MODE) Suffixes() []string {
	switch m {
	case ProMode:
		return []string{"prod", "production"}
	case TestMode:
		return []string{"test"}
	default:
		return []string{"dev", "development"}
	}
}
