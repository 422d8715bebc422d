// Package content loads practice step definitions: the ordered hints,
// validation criteria and optional safety checklist for one step.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/drillgate/internal/safety"
	"github.com/abhisek/drillgate/internal/stepcheck"
)

var validate = validator.New()

// Criterion types.
const (
	TypeFileExists     = "file_exists"
	TypeFileContains   = "file_contains"
	TypeCommandSuccess = "command_success"
	TypeImageExists    = "image_exists"
	TypeSyntaxValid    = "syntax_valid"
)

// CriterionDef is a validation rule as written in a step file.
type CriterionDef struct {
	ID          string `yaml:"id" validate:"required"`
	Description string `yaml:"description" validate:"required"`
	Type        string `yaml:"type" validate:"oneof=file_exists file_contains command_success image_exists syntax_valid"`
	Target      string `yaml:"target" validate:"required_if=Type file_exists,required_if=Type file_contains,required_if=Type syntax_valid"`
	Pattern     string `yaml:"pattern" validate:"required_if=Type file_contains"`
	Cmd         string `yaml:"cmd" validate:"required_if=Type command_success"`
	Name        string `yaml:"name" validate:"required_if=Type image_exists"`
	ErrorHint   string `yaml:"error_hint"`
}

// Step is one practice step.
type Step struct {
	ID          string         `yaml:"id" validate:"required"`
	Title       string         `yaml:"title" validate:"required"`
	Description string         `yaml:"description"`
	Hints       []string       `yaml:"hints" validate:"dive,required"`
	Criteria    []CriterionDef `yaml:"criteria" validate:"dive"`
	Checklist   []safety.Item  `yaml:"checklist"`

	// Dir resolves relative criterion paths. Load sets it to the step
	// file's directory.
	Dir string `yaml:"-"`
}

// Load reads and validates a step file.
func Load(path string) (*Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read step: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes and validates a step definition.
func Parse(data []byte) (*Step, error) {
	var s Step
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode step: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required fields, criterion types and ID uniqueness.
func (s *Step) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid step: %w", err)
	}
	ids := make(map[string]bool, len(s.Criteria))
	for _, c := range s.Criteria {
		if ids[c.ID] {
			return fmt.Errorf("invalid step: duplicate criterion id %q", c.ID)
		}
		ids[c.ID] = true
	}
	keys := make(map[string]bool, len(s.Checklist))
	for _, it := range s.Checklist {
		if it.Key == "" || keys[it.Key] {
			return fmt.Errorf("invalid step: checklist key %q empty or duplicated", it.Key)
		}
		keys[it.Key] = true
	}
	return nil
}

// BuildCriteria turns the criterion definitions into runnable criteria,
// in file order.
func (s *Step) BuildCriteria() ([]stepcheck.Criterion, error) {
	out := make([]stepcheck.Criterion, 0, len(s.Criteria))
	for _, def := range s.Criteria {
		check, err := s.predicate(def)
		if err != nil {
			return nil, fmt.Errorf("criterion %s: %w", def.ID, err)
		}
		out = append(out, stepcheck.Criterion{
			ID:          def.ID,
			Description: def.Description,
			Check:       check,
			ErrorHint:   def.ErrorHint,
		})
	}
	return out, nil
}

func (s *Step) predicate(def CriterionDef) (stepcheck.Predicate, error) {
	switch def.Type {
	case TypeFileExists:
		return stepcheck.FileExists(s.resolve(def.Target)), nil
	case TypeFileContains:
		return stepcheck.FileContains(s.resolve(def.Target), def.Pattern)
	case TypeCommandSuccess:
		return stepcheck.CommandSucceeds(def.Cmd), nil
	case TypeImageExists:
		return stepcheck.ImageExists(def.Name), nil
	case TypeSyntaxValid:
		return stepcheck.SyntaxValid(s.resolve(def.Target)), nil
	default:
		return nil, fmt.Errorf("unknown criterion type %q", def.Type)
	}
}

func (s *Step) resolve(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if path == "" || filepath.IsAbs(path) || s.Dir == "" {
		return path
	}
	return filepath.Join(s.Dir, path)
}
