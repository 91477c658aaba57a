package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"advisor/schemas"
)

var (
	ErrConfigAbsent  = errors.New("funnel configuration absent")
	ErrConfigInvalid = errors.New("funnel configuration invalid")
)

var intakeFields = []string{"first_name", "last_name", "email", "phone", "advisor_name"}

// LoadFunnelConfig reads the YAML funnel configuration at path, fills the
// defaults and validates it. Every error is fatal for the funnel.
func LoadFunnelConfig(path string) (*schemas.FunnelConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: no path set in %s", ErrConfigAbsent, FUNNEL_CONFIG)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigAbsent, err)
	}
	return ParseFunnelConfig(data)
}

func ParseFunnelConfig(data []byte) (*schemas.FunnelConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrConfigAbsent)
	}

	cfg := &schemas.FunnelConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	cfg.ApplyDefaults()

	if err := validateFunnelConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return cfg, nil
}

func validateFunnelConfig(cfg *schemas.FunnelConfig) error {
	if strings.TrimSpace(cfg.Videos[schemas.VideoRoleIntro]) == "" {
		return fmt.Errorf("videos.%s is required", schemas.VideoRoleIntro)
	}
	if len(cfg.Paths) == 0 {
		return errors.New("at least one path is required")
	}

	seen := map[string]bool{}
	for i, p := range cfg.Paths {
		tag := strings.TrimSpace(p.Tag)
		if tag == "" {
			return fmt.Errorf("paths[%d].tag is required", i)
		}
		if seen[tag] {
			return fmt.Errorf("duplicate path tag %q", tag)
		}
		seen[tag] = true
	}

	for _, field := range cfg.RequiredFields {
		if !slices.Contains(intakeFields, field) {
			return fmt.Errorf("unknown required field %q, allowed: %s", field, strings.Join(intakeFields, ", "))
		}
	}

	switch cfg.Timing.FallbackAction {
	case schemas.FallbackAdvance, schemas.FallbackReveal:
	default:
		return fmt.Errorf("timing.fallback_action must be %q or %q", schemas.FallbackAdvance, schemas.FallbackReveal)
	}

	if strings.TrimSpace(cfg.BookingURL) == "" {
		return errors.New("booking_url is required")
	}
	return nil
}
