// Package config loads the YAML configuration of a property database.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage     Storage     `yaml:"storage"`
	Properties  Properties  `yaml:"properties"`
	Definitions Definitions `yaml:"definitions"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
}

type Storage struct {
	Backend     string        `yaml:"backend" validate:"oneof=bolt badger memory"`
	Path        string        `yaml:"path" validate:"required_unless=Backend memory"`
	MmapSize    int           `yaml:"mmap_size" validate:"gte=0"`
	SyncWrites  bool          `yaml:"sync_writes"`
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gte=0"`
	Verbose     bool          `yaml:"verbose"`
}

type Properties struct {
	CacheSize             int            `yaml:"cache_size" validate:"gt=0"`
	BatchSize             int            `yaml:"batch_size" validate:"gt=0,lte=10000"`
	SaveWithoutDefinition bool           `yaml:"save_without_definition"`
	NonPersistent         []string       `yaml:"non_persistent" validate:"dive,required"`
	Kinds                 map[string]int `yaml:"kinds" validate:"dive,keys,required,endkeys,gte=0"`
}

type Definitions struct {
	CacheSize        int               `yaml:"cache_size" validate:"gt=0"`
	DefaultContainer string            `yaml:"default_container"`
	WarmUp           bool              `yaml:"warm_up"`
	Sources          []string          `yaml:"sources" validate:"dive,required"`
	Kinds            map[string]string `yaml:"kinds"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `yaml:"pretty"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Backend:    "bolt",
			Path:       "propdb.db",
			SyncWrites: true,
		},
		Properties: Properties{
			CacheSize:             10000,
			BatchSize:             500,
			SaveWithoutDefinition: true,
		},
		Definitions: Definitions{
			CacheSize:        1000,
			DefaultContainer: "default",
		},
		Log: Log{
			Level: "info",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "propdb",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c and reports every problem at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		var errs []error
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for kind := range c.Definitions.Kinds {
		if _, ok := c.Properties.Kinds[kind]; !ok {
			return fmt.Errorf("config: definitions.kinds: %q is not listed in properties.kinds", kind)
		}
	}
	return nil
}

// Parse reads YAML on top of the defaults and validates the result.
// Unknown keys are errors.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
