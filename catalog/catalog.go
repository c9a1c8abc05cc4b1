// Package catalog provides badge definitions to the engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"impactkit/core"
)

var validate = validator.New()

// Static serves a fixed, validated set of definitions.
type Static struct {
	mu   sync.RWMutex
	defs []core.BadgeDefinition
}

// New validates defs and returns a catalog over them.
func New(defs []core.BadgeDefinition) (*Static, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	return &Static{defs: append([]core.BadgeDefinition(nil), defs...)}, nil
}

// Badges returns a copy of the definitions in catalog order.
func (s *Static) Badges(_ context.Context) ([]core.BadgeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.BadgeDefinition(nil), s.defs...), nil
}

// Replace swaps the definitions after validating them.
func (s *Static) Replace(defs []core.BadgeDefinition) error {
	if err := Validate(defs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = append([]core.BadgeDefinition(nil), defs...)
	return nil
}

// Validate checks struct tags, cross-field rules and code uniqueness.
func Validate(defs []core.BadgeDefinition) error {
	var errs []string
	seen := make(map[core.BadgeCode]struct{}, len(defs))
	for i, d := range defs {
		if err := validate.Struct(d); err != nil {
			var ve validator.ValidationErrors
			if errors.As(err, &ve) {
				for _, fe := range ve {
					errs = append(errs, fmt.Sprintf("badges[%d].%s failed validation: %s", i, fe.Field(), fe.Tag()))
				}
				continue
			}
			errs = append(errs, fmt.Sprintf("badges[%d]: %v", i, err))
			continue
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, dup := seen[d.Code]; dup {
			errs = append(errs, fmt.Sprintf("duplicate badge code %q", d.Code))
		}
		seen[d.Code] = struct{}{}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

type file struct {
	Badges []core.BadgeDefinition `yaml:"badges"`
}

// Parse decodes a YAML document with a top-level badges list.
func Parse(data []byte) ([]core.BadgeDefinition, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	if err := Validate(f.Badges); err != nil {
		return nil, fmt.Errorf("invalid badge catalog: %w", err)
	}
	return f.Badges, nil
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read badge catalog %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return &Static{defs: defs}, nil
}

// Marshal renders defs in the YAML format LoadFile reads.
func Marshal(defs []core.BadgeDefinition) ([]byte, error) {
	return yaml.Marshal(file{Badges: defs})
}
