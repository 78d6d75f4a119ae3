package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wasmkit/wasibox/pkg/wasibox"
)

// manifest is the YAML run configuration accepted by 'wasibox run --config'.
//
//	dirs:
//	  - /sandbox=/tmp/sandbox
//	env:
//	  - LANG=C
//	args:
//	  - --color=never
type manifest struct {
	Dirs []string `yaml:"dirs"`
	Env  []string `yaml:"env"`
	Args []string `yaml:"args"`
}

func loadManifest(path string) (*manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := new(manifest)
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("could not load run configuration '%s': %w", path, err)
	}
	return m, nil
}

func (m *manifest) apply(config *wasibox.Config) error {
	for _, dir := range m.Dirs {
		mount, err := parseMount(dir)
		if err != nil {
			return err
		}
		config.Mounts = append(config.Mounts, mount)
	}
	config.Env = append(config.Env, m.Env...)
	config.Args = append(config.Args, m.Args...)
	return nil
}
