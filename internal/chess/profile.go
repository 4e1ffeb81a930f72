package chess

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

var ErrUnknownEngine = errors.New("unknown engine")

// EngineProfile is one selectable engine executable and its UCI options.
type EngineProfile struct {
	Name    string      `yaml:"name"`
	Path    string      `yaml:"path"`
	Args    []string    `yaml:"args"`
	Env     []string    `yaml:"env"`
	Dir     string      `yaml:"dir"`
	Options uci.Options `yaml:"options"`
}

func ValidateProfile(p EngineProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("engine profile name required")
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("engine %s: path required", p.Name)
	}
	if p.Options.SkillLevel != nil && (*p.Options.SkillLevel < 0 || *p.Options.SkillLevel > 20) {
		return fmt.Errorf("engine %s: skill level %d out of range 0-20", p.Name, *p.Options.SkillLevel)
	}
	return nil
}

// Registry holds the configured engine profiles.
type Registry struct {
	profiles    map[string]EngineProfile
	defaultName string
}

func NewRegistry(profiles []EngineProfile, defaultName string) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no engine profiles configured")
	}
	r := &Registry{profiles: make(map[string]EngineProfile, len(profiles))}
	for _, p := range profiles {
		if err := ValidateProfile(p); err != nil {
			return nil, err
		}
		key := normalizeName(p.Name)
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("duplicate engine profile %q", p.Name)
		}
		r.profiles[key] = p
	}

	defaultName = normalizeName(defaultName)
	if defaultName == "" {
		defaultName = normalizeName(profiles[0].Name)
	}
	if _, ok := r.profiles[defaultName]; !ok {
		return nil, fmt.Errorf("default engine %q: %w", defaultName, ErrUnknownEngine)
	}
	r.defaultName = defaultName
	return r, nil
}

// Get returns the named profile; an empty name selects the default.
func (r *Registry) Get(name string) (EngineProfile, error) {
	key := normalizeName(name)
	if key == "" {
		key = r.defaultName
	}
	p, ok := r.profiles[key]
	if !ok {
		return EngineProfile{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return p, nil
}

func (r *Registry) Default() string { return r.defaultName }

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
