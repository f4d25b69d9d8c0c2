package provisioning

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/fleetprov/internal/enrollment"
)

// Config describes the enrollments a provisioning service accepts and the
// hubs it assigns devices to.
type Config struct {
	IDScope           string                   `yaml:"id_scope"`
	Hubs              []string                 `yaml:"hubs"`
	EnrollmentGroups  []EnrollmentGroupConfig  `yaml:"enrollment_groups"`
	ModuleEnrollments []ModuleEnrollmentConfig `yaml:"module_enrollments"`
	DisabledDevices   []string                 `yaml:"disabled_devices"`
}

// EnrollmentGroupConfig trusts every device certificate issued by one
// authority. The authority is given inline as PEM or as a file path
// relative to the config file.
type EnrollmentGroupConfig struct {
	Name            string `yaml:"name"`
	Certificate     string `yaml:"certificate"`
	CertificateFile string `yaml:"certificate_file"`
	Disabled        bool   `yaml:"disabled"`
}

// ModuleEnrollmentConfig is an individual enrollment for a module backed
// device, identified by its base64 endorsement key.
type ModuleEnrollmentConfig struct {
	RegistrationID string `yaml:"registration_id"`
	EndorsementKey string `yaml:"endorsement_key"`
	Disabled       bool   `yaml:"disabled"`
}

// LoadConfig reads and validates a YAML provisioning config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning config: %w", err)
	}
	return ParseConfig(data, filepath.Dir(path))
}

// ParseConfig parses a YAML provisioning config, reading certificate files
// relative to baseDir.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning config: %w", err)
	}

	for i := range cfg.EnrollmentGroups {
		group := &cfg.EnrollmentGroups[i]
		if group.Certificate != "" || group.CertificateFile == "" {
			continue
		}
		path := group.CertificateFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		pemData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("enrollment group %q: %w", group.Name, err)
		}
		group.Certificate = string(pemData)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config is complete enough to serve registrations.
func (c *Config) Validate() error {
	if c.IDScope == "" {
		return errors.New("id_scope is required")
	}
	if len(c.Hubs) == 0 {
		return errors.New("at least one hub is required")
	}
	for i, hub := range c.Hubs {
		if hub == "" {
			return fmt.Errorf("hub %d is empty", i)
		}
	}

	names := make(map[string]struct{}, len(c.EnrollmentGroups))
	for _, group := range c.EnrollmentGroups {
		if group.Name == "" {
			return errors.New("enrollment group name is required")
		}
		if _, dup := names[group.Name]; dup {
			return fmt.Errorf("duplicate enrollment group %q", group.Name)
		}
		names[group.Name] = struct{}{}
		if group.Certificate == "" {
			return fmt.Errorf("enrollment group %q has no certificate", group.Name)
		}
	}

	for _, module := range c.ModuleEnrollments {
		if err := enrollment.ValidateRegistrationID(module.RegistrationID); err != nil {
			return err
		}
		if _, err := base64.StdEncoding.DecodeString(module.EndorsementKey); err != nil {
			return fmt.Errorf("module enrollment %q: invalid endorsement key: %w", module.RegistrationID, err)
		}
	}

	return nil
}
