package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration
// including file accessibility and host URL syntax. The configPath
// argument specifies the config file location to validate (empty string
// skips the config file check). This calls Validate() first for basic
// structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		c.validateHosts(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	for name, h := range c.Hosts {
		if h.TokenEnv != "" && os.Getenv(h.TokenEnv) == "" {
			warnings = append(warnings, ValidationWarning{
				Category: "Hosts",
				Item:     name,
				Message:  fmt.Sprintf("token env var %s is not set", h.TokenEnv),
			})
		}
	}

	return warnings
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// validateHosts checks base URLs parse as absolute http(s) URLs.
func (c *Config) validateHosts() error {
	var errs criterio.FieldErrorsBuilder
	for name, h := range c.Hosts {
		if h.BaseURL == "" {
			continue
		}

		field := fmt.Sprintf("hosts[%q].base_url", name)
		u, err := url.Parse(h.BaseURL)
		if err != nil {
			errs = errs.Append(field, fmt.Errorf("invalid URL %q: %w", h.BaseURL, err))
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = errs.Append(field, fmt.Errorf("URL %q must use http or https", h.BaseURL))
		}
		if u.Host == "" {
			errs = errs.Append(field, fmt.Errorf("URL %q has no host", h.BaseURL))
		}
	}
	return errs.ToError()
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
