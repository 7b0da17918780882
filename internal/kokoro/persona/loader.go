package persona

import (
	"fmt"
	"os"
)

// Load reads and parses the persona file at path. An empty path returns the
// built-in default persona, so a bare deployment works without any config
// file on disk.
func Load(path string) (*Spec, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona load %s: %w", path, err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("persona load %s: %w", path, err)
	}
	return spec, nil
}
