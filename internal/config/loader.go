package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var defaultSchema []byte

const defaultSchemaURL = "melotts://config.schema.json"

// LoadAndValidate loads the YAML config at path, validates it against the
// JSON schema at schemaPath (the embedded schema when empty) and decodes it
// over Default().
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data, schemaPath)
}

// Parse validates and decodes raw YAML config data.
func Parse(data []byte, schemaPath string) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("config: failed to convert YAML for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config: config validation failed: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return config, nil
}

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	if schemaPath != "" {
		return jsonschema.Compile(schemaPath)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(defaultSchemaURL, bytes.NewReader(defaultSchema)); err != nil {
		return nil, err
	}

	return compiler.Compile(defaultSchemaURL)
}

// toJSONValue round-trips a YAML document through JSON so numbers reach the
// validator as json.Number.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()

	var doc any
	if err := d.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
