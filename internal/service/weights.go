package service

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"gopkg.in/yaml.v3"
)

var ErrProfileNotFound = errors.New("weights profile not found")

// WeightsFile is the on-disk shape of a weights profile file.
type WeightsFile struct {
	Profiles []domain.AlgorithmWeights `json:"profiles" yaml:"profiles"`
}

// LoadWeightsFile reads and validates a YAML profile file.
func LoadWeightsFile(path string) ([]domain.AlgorithmWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file: %w", err)
	}
	return ParseWeights(data)
}

func ParseWeights(data []byte) ([]domain.AlgorithmWeights, error) {
	var f WeightsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing weights file: %w", err)
	}

	seen := make(map[string]bool, len(f.Profiles))
	for i := range f.Profiles {
		p := &f.Profiles[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate weights profile %q", domain.ErrValidation, p.Name)
		}
		seen[p.Name] = true
	}
	return f.Profiles, nil
}

// WeightsRegistry serves read-only weight profiles supplied by the ranking
// side. It is built once at startup and never mutated.
type WeightsRegistry struct {
	profiles map[string]*domain.AlgorithmWeights
}

func NewWeightsRegistry(profiles []domain.AlgorithmWeights) *WeightsRegistry {
	r := &WeightsRegistry{profiles: make(map[string]*domain.AlgorithmWeights, len(profiles))}
	for i := range profiles {
		p := profiles[i]
		r.profiles[p.Name] = &p
	}
	return r
}

// Get returns the named profile. An empty name means "no profile", which
// makes every signal eligible.
func (r *WeightsRegistry) Get(name string) (*domain.AlgorithmWeights, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := r.profiles[name]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (r *WeightsRegistry) List() []domain.AlgorithmWeights {
	out := make([]domain.AlgorithmWeights, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
