package config

import (
	"fmt"
	"maps"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is used by Load when prefix is empty.
const DefaultEnvPrefix = "COMMITGUARD"

// Load reads the configuration from environment variables named
// <prefix>_<FIELD>, e.g. COMMITGUARD_KAFKA_BROKERS. Maps use the
// "name:value,name:value" form.
func Load(prefix string) (*Config, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	var c Config
	if err := envconfig.Process(prefix, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c = c.WithDefaults()
	return &c, nil
}

// BindingSpec describes one binding in a bindings file.
type BindingSpec struct {
	Destination string `yaml:"destination"`
	Group       string `yaml:"group,omitempty"`
}

// BindingsFile is the YAML layout read by LoadBindingsFile:
//
//	app_name: orders-service
//	bindings:
//	  orders-in-0:
//	    destination: orders
//	    group: orders-worker
//	  shipments-out-0:
//	    destination: shipments
type BindingsFile struct {
	AppName  string                 `yaml:"app_name,omitempty"`
	Bindings map[string]BindingSpec `yaml:"bindings"`
}

// ParseBindings decodes a bindings document.
func ParseBindings(data []byte) (*BindingsFile, error) {
	var f BindingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse bindings: %w", err)
	}
	return &f, nil
}

// LoadBindingsFile reads a bindings file and merges it into c. Entries in the
// file override bindings of the same name; an app_name in the file only
// applies when c has none.
func (c *Config) LoadBindingsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read bindings: %w", err)
	}
	f, err := ParseBindings(data)
	if err != nil {
		return err
	}
	c.ApplyBindings(f)
	return nil
}

// ApplyBindings merges f into c.
func (c *Config) ApplyBindings(f *BindingsFile) {
	if f == nil {
		return
	}
	if f.AppName != "" && (c.AppName == "" || c.AppName == DefaultAppName) {
		c.AppName = f.AppName
	}
	dest := make(map[string]string, len(c.Bindings)+len(f.Bindings))
	groups := make(map[string]string, len(c.ConsumeBindings))
	maps.Copy(dest, c.Bindings)
	maps.Copy(groups, c.ConsumeBindings)
	for name, binding := range f.Bindings {
		dest[name] = binding.Destination
		if binding.Group != "" {
			groups[name] = binding.Group
		}
	}
	c.Bindings = dest
	c.ConsumeBindings = groups
}
