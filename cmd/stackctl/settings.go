package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultTailSize is the log tail length used when nothing is persisted.
const DefaultTailSize = 100

// Settings are user preferences persisted between invocations.
type Settings struct {
	path string
	v    *viper.Viper
}

// LoadSettings reads the settings file at path. A missing file yields the
// defaults; a malformed one is an error.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("tail_size", DefaultTailSize)

	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read settings file: %w", err)
			}
		}
	}

	return &Settings{path: path, v: v}, nil
}

// TailSize returns the persisted log tail length.
func (s *Settings) TailSize() int {
	if n := s.v.GetInt("tail_size"); n > 0 {
		return n
	}
	return DefaultTailSize
}

// SetTailSize persists n as the log tail length.
func (s *Settings) SetTailSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("tail size must be positive, got %d", n)
	}
	s.v.Set("tail_size", n)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
