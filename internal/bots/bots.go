package bots

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed bots.yaml
var defaultManifest []byte

// Profile is a named preset of default configuration for a deployable bot.
type Profile struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Description   string            `yaml:"description" json:"description"`
	Repo          string            `yaml:"repo" json:"repo"`
	Image         string            `yaml:"image,omitempty" json:"image,omitempty"`
	DefaultConfig map[string]string `yaml:"defaultConfig" json:"defaultConfig"`
}

type manifest struct {
	Bots []Profile `yaml:"bots"`
}

type Registry struct {
	profiles map[string]*Profile
	ids      []string
}

// Default returns the registry built from the embedded presets.
func Default() *Registry {
	r, err := Parse(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded bots manifest: %v", err))
	}
	return r
}

// Load reads presets from a YAML file, falling back to the embedded presets
// when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	if len(m.Bots) == 0 {
		return nil, fmt.Errorf("no bots defined")
	}

	r := &Registry{profiles: make(map[string]*Profile, len(m.Bots))}
	for i := range m.Bots {
		p := m.Bots[i]
		if p.ID == "" {
			return nil, fmt.Errorf("bot %d: missing id", i)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("bot %s: missing name", p.ID)
		}
		if _, dup := r.profiles[p.ID]; dup {
			return nil, fmt.Errorf("bot %s: duplicate id", p.ID)
		}
		if p.DefaultConfig == nil {
			p.DefaultConfig = map[string]string{}
		}
		r.profiles[p.ID] = &p
		r.ids = append(r.ids, p.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (r *Registry) Lookup(id string) (*Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// List returns every profile ordered by id.
func (r *Registry) List() []*Profile {
	result := make([]*Profile, 0, len(r.ids))
	for _, id := range r.ids {
		result = append(result, r.profiles[id])
	}
	return result
}

// RepoURL returns the source repository of a bot.
func (r *Registry) RepoURL(botID string) (string, bool) {
	p, ok := r.profiles[botID]
	if !ok || p.Repo == "" {
		return "", false
	}
	return p.Repo, true
}
