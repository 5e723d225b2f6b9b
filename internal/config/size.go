package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSize is returned for size strings that cannot be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// Size is a byte count that reads from YAML as either an integer or a
// string with a B, KB, MB, GB or TB suffix (powers of 1024).
type Size uint64

var sizeSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize parses a size string like "256MB" or "4096".
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	mult := uint64(1)
	for _, sf := range sizeSuffixes {
		if strings.HasSuffix(s, sf.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			mult = sf.mult
			break
		}
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n != 0 && n*mult/mult != n {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return Size(n * mult), nil
}

// String formats the size with the largest suffix that divides it exactly.
func (s Size) String() string {
	for _, sf := range sizeSuffixes {
		if sf.mult > 1 && s != 0 && uint64(s)%sf.mult == 0 {
			return fmt.Sprintf("%d%s", uint64(s)/sf.mult, sf.suffix)
		}
	}
	return strconv.FormatUint(uint64(s), 10)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidSize, node.Line)
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	if s < 1<<10 {
		return uint64(s), nil
	}
	return s.String(), nil
}
