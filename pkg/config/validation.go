package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/rsemgr/pkg/lfn2pfn"
	"github.com/marmos91/rsemgr/pkg/protocol"
	"github.com/marmos91/rsemgr/pkg/protocol/builtin"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that depend
// on the protocol and naming registries.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Manager.Connect.MaxInterval < cfg.Manager.Connect.InitialInterval {
		return fmt.Errorf("manager.connect: max_interval (%s) is shorter than initial_interval (%s)",
			cfg.Manager.Connect.MaxInterval, cfg.Manager.Connect.InitialInterval)
	}

	if cfg.Repository.Type == "badger" {
		badgerCfg, err := decodeBadgerConfig(cfg.Repository.Badger)
		if err != nil {
			return fmt.Errorf("repository.badger: %w", err)
		}
		if badgerCfg.Path == "" && !badgerCfg.InMemory {
			return fmt.Errorf("repository.badger: path is required unless in_memory is set")
		}
	}

	plugins := builtin.Registry()
	schemes := plugins.Schemes()
	naming := lfn2pfn.NewRegistry().Names()

	tags := make(map[string]bool)
	for i := range cfg.RSEs {
		info := &cfg.RSEs[i]

		if tags[info.Tag] {
			return fmt.Errorf("rses[%d]: duplicate tag %q", i, info.Tag)
		}
		tags[info.Tag] = true

		if err := info.Validate(); err != nil {
			return fmt.Errorf("rses[%d]: %w", i, err)
		}

		if !slices.Contains(naming, info.NamingScheme) {
			return fmt.Errorf("rses[%d]: unknown naming_scheme %q (expected one of %v)", i, info.NamingScheme, naming)
		}

		for j, p := range info.Protocols {
			if !slices.Contains(schemes, p.Scheme) {
				return fmt.Errorf("rses[%d].protocols[%d]: unknown scheme %q (expected one of %v)", i, j, p.Scheme, schemes)
			}
			// Catches bad plugin attributes (mode, max_retries) before any call
			if _, err := plugins.New(p, protocol.Options{}); err != nil {
				return fmt.Errorf("rses[%d].protocols[%d]: %w", i, j, err)
			}
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
