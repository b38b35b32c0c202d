package profile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/agora-labs/internal/domain"
)

type seedFile struct {
	Profiles []domain.Profile `yaml:"profiles"`
}

// LoadSeedFile reads a YAML document of the form
//
//	profiles:
//	  - id: jesus
//	    name: Jesus of Nazareth
//	    tone: Compassionate
//	    sample_prompts: ["Love thy neighbor"]
//
// and saves every entry. It stops at the first invalid profile.
func (s *Store) LoadSeedFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, p := range seed.Profiles {
		if err := s.Save(ctx, p); err != nil {
			return i, fmt.Errorf("seed profile #%d: %w", i, err)
		}
	}
	return len(seed.Profiles), nil
}
