// Package character loads the persona file.
package character

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"presence-agent/internal/core/domain"
)

// Load decodes a YAML persona file. Unknown keys are rejected so typos surface
// at startup rather than as silently empty prompt sections.
func Load(path string) (domain.Character, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Character{}, fmt.Errorf("open character %s: %w", path, err)
	}
	defer f.Close()

	var c domain.Character
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return domain.Character{}, fmt.Errorf("decode character %s: %w", path, err)
	}
	if err := Validate(c); err != nil {
		return domain.Character{}, fmt.Errorf("character %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the fields every generation path depends on.
func Validate(c domain.Character) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	return nil
}
