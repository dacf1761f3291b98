// Package config loads the pair preset registry consumed when pairs are
// instantiated. The registry lives in a TOML file that is created with the
// default presets on first use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrPresetNotFound is returned when no preset exists for a bin step.
var ErrPresetNotFound = errors.New("config: preset not found")

// Load loads the registry from the given path, writing the defaults first
// when the file does not exist.
func Load(path string) (*Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	reg := &Registry{}
	meta, err := toml.DecodeFile(path, reg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	sort.Slice(reg.Presets, func(i, j int) bool { return reg.Presets[i].BinStep < reg.Presets[j].BinStep })
	if err := ValidateConfig(*reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Lookup returns the preset registered for binStep.
func (r *Registry) Lookup(binStep uint16) (Preset, error) {
	if r != nil {
		for _, p := range r.Presets {
			if p.BinStep == binStep {
				return p, nil
			}
		}
	}
	return Preset{}, fmt.Errorf("%w: bin step %d", ErrPresetNotFound, binStep)
}

// BinSteps lists the configured bin steps in ascending order.
func (r *Registry) BinSteps() []uint16 {
	if r == nil {
		return nil
	}
	steps := make([]uint16, 0, len(r.Presets))
	for _, p := range r.Presets {
		steps = append(steps, p.BinStep)
	}
	return steps
}

// createDefault creates and saves a default registry file.
func createDefault(path string) (*Registry, error) {
	reg := &Registry{Presets: DefaultPresets()}
	if err := persist(path, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func persist(path string, reg *Registry) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(reg)
}
