package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/pelletier/go-toml/v2"
)

// ProviderSeed is one [[providers]] entry of a seed file.
type ProviderSeed struct {
	Slug        string                  `toml:"slug"`
	Name        string                  `toml:"name"`
	Type        string                  `toml:"type"`
	Active      bool                    `toml:"active"`
	Default     bool                    `toml:"default"`
	Priority    int                     `toml:"priority"`
	Credentials map[string]string       `toml:"credentials"`
	Settings    domain.ProviderSettings `toml:"settings"`
}

type seedFile struct {
	Providers []ProviderSeed `toml:"providers"`
}

// LoadProviderSeed reads a TOML provider seed file. Credential values of the
// form "env:NAME" are resolved from the environment.
func LoadProviderSeed(path string) ([]ProviderSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider seed: %w", err)
	}
	return ParseProviderSeed(data)
}

func ParseProviderSeed(data []byte) ([]ProviderSeed, error) {
	var file seedFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider seed: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Providers))
	defaults := 0
	for i := range file.Providers {
		p := &file.Providers[i]
		p.Slug = strings.TrimSpace(p.Slug)
		if p.Slug == "" {
			return nil, fmt.Errorf("provider seed #%d: slug is required", i+1)
		}
		if _, dup := seen[p.Slug]; dup {
			return nil, fmt.Errorf("provider seed: duplicate slug %q", p.Slug)
		}
		seen[p.Slug] = struct{}{}
		if p.Default {
			defaults++
		}

		for k, v := range p.Credentials {
			if name, ok := strings.CutPrefix(v, "env:"); ok {
				p.Credentials[k] = os.Getenv(name)
			}
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("provider seed: %d providers marked default, want at most one", defaults)
	}

	return file.Providers, nil
}

// ProviderConfig converts the seed into a domain configuration without credentials.
func (p ProviderSeed) ProviderConfig() (domain.ProviderConfig, error) {
	adapterType, err := domain.ParseAdapterTypeFromString(p.Type)
	if err != nil {
		return domain.ProviderConfig{}, err
	}
	name := p.Name
	if name == "" {
		name = p.Slug
	}
	cfg := domain.ProviderConfig{
		Slug:        p.Slug,
		Name:        name,
		AdapterType: adapterType,
		IsActive:    p.Active,
		IsDefault:   p.Default,
		Priority:    p.Priority,
		Settings:    p.Settings,
	}
	if err := cfg.Validate(); err != nil {
		return domain.ProviderConfig{}, err
	}
	return cfg, nil
}
