// Package entities loads the entity endpoint configuration document.
//
// The document maps an entity kind to the Production list path, the
// Integration create path, and the pagination conventions of the list
// endpoint. It is validated against an embedded JSON Schema before any
// network call happens; a missing file or schema violation is fatal.
package entities

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultPath is the config document looked up when no path is given.
const DefaultPath = "stsync.config.json"

// EntityConfig describes one entity kind's endpoints.
type EntityConfig struct {
	ProdListPath  string         `json:"prod_list_path"`
	IntCreatePath string         `json:"int_create_path,omitempty"`
	ListParams    map[string]any `json:"list_params,omitempty"`
	ListDataKey   string         `json:"list_data_key,omitempty"`
	NextPageKey   string         `json:"next_page_key,omitempty"`
	SinceParam    string         `json:"since_param,omitempty"`
}

// Config is the full config document.
type Config struct {
	Entities map[string]EntityConfig `json:"entities"`
}

// Entity returns the config block for kind.
func (c *Config) Entity(kind string) (EntityConfig, error) {
	ent, ok := c.Entities[kind]
	if !ok {
		return EntityConfig{}, fmt.Errorf("entity kind %q not present in config", kind)
	}
	return ent, nil
}

//go:embed schema.json
var rawSchema []byte

var configSchema = mustSchema()

// Load reads, validates, and decodes the config document at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s: %w", path, err)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config file %s is not valid JSON: %w", path, err)
	}

	if err := configSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config file %s violates schema: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return &cfg, nil
}

func mustSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://stsync.local/config.schema.json"
	if err := c.AddResource(url, bytes.NewReader(rawSchema)); err != nil {
		panic(fmt.Sprintf("config schema load failed: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("config schema compile failed: %v", err))
	}
	return s
}
