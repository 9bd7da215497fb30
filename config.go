package polystore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the .polystore.yaml configuration file. The presence of
// a backend section determines which drivers can be opened; Default picks
// the one used when the caller does not name a driver.
type Config struct {
	// Default is the driver name used when none is requested explicitly.
	Default string `yaml:"default,omitempty"`

	Mongo    *MongoConfig    `yaml:"mongo,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`

	// Options holds driver-specific settings that have no dedicated field.
	Options map[string]any `yaml:"options,omitempty"`
}

// MongoConfig holds document-backend connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
	// Alternative: full connection string, takes precedence when set.
	URI string `yaml:"uri,omitempty"`
}

// DSN returns the lib/pq connection string for the configuration.
func (c *PostgresConfig) DSN() string {
	if c.URI != "" {
		return c.URI
	}

	var parts []string

	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}

	add("host", c.Host)

	if c.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", c.Port))
	}

	add("dbname", c.Database)
	add("user", c.User)
	add("password", c.Password)
	add("sslmode", c.SSLMode)

	return strings.Join(parts, " ")
}

// DriverName returns the configured driver name: Default when set,
// otherwise the single configured backend section.
func (c *Config) DriverName() string {
	if c.Default != "" {
		return c.Default
	}

	switch {
	case c.Mongo != nil:
		return DriverMongo
	case c.Postgres != nil:
		return DriverPostgres
	default:
		return ""
	}
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".polystore.yaml", ".polystore.yml", "polystore.yaml", "polystore.yml"}

// LoadConfig finds and loads the nearest .polystore.yaml walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
