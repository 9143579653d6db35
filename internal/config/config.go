// Package config defines the coordinator's configuration structs and a
// YAML loader for its recognized keys. Domain validation is deliberately
// minimal — fail-fast on startup, nothing more — since parsing itself is
// a CLI-boundary concern, not a coordinator-core one.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Connection is global.connection.*.
type Connection struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Global is the global.* section.
type Global struct {
	Connection Connection `yaml:"connection"`
	Feedback   bool       `yaml:"feedback"`
}

// Persistence is server.persistence.*: the handler-specific options are
// a superset across every backend (memory/file/rollover/dbstore); each
// store constructor reads only the fields it needs.
type Persistence struct {
	Class string `yaml:"class"`

	// file / rollover
	Filename          string `yaml:"filename"`
	Filetype          string `yaml:"filetype"`
	ResourceIDColumn  string `yaml:"resourceIdColumn"`
	StatusColumn      string `yaml:"statusColumn"`
	SaveTimeDelta     int    `yaml:"saveTimeDelta"`
	UniqueResourceID  bool   `yaml:"uniqueResourceId"`
	OnDuplicateUpdate bool   `yaml:"onDuplicateUpdate"`
	SizeThreshold     int64  `yaml:"sizeThreshold"`
	AmountThreshold   int    `yaml:"amountThreshold"`

	// dbstore
	ConnArgs         string `yaml:"connargs"`
	Table            string `yaml:"table"`
	PrimaryKeyColumn string `yaml:"primaryKeyColumn"`
	SelectCacheSize  int    `yaml:"selectCacheSize"`
}

// Filter is one entry of server.filtering.filter[].
type Filter struct {
	Class    string         `yaml:"class"`
	Name     string         `yaml:"name"`
	Parallel bool           `yaml:"parallel"`
	Options  map[string]any `yaml:",inline"`
}

// Filtering is the server.filtering section.
type Filtering struct {
	Filter []Filter `yaml:"filter"`
}

// Server is the server.* section.
type Server struct {
	LoopForever bool        `yaml:"loopForever"`
	Persistence Persistence `yaml:"persistence"`
	Filtering   Filtering   `yaml:"filtering"`
}

// Config is the root of the coordinator's configuration file.
type Config struct {
	Global Global `yaml:"global"`
	Server Server `yaml:"server"`
}

// Load reads and parses a YAML configuration file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
