package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrInvalidConfig is returned when an operation configuration fails
	// validation.
	ErrInvalidConfig = errors.New("invalid operation config")
)

// urlFetchSchema validates incoming URL-fetch configurations before they
// are trusted to build an operation.
const urlFetchSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["baseColumnName", "urlExpression", "onError", "newColumnName", "columnInsertIndex"],
	"properties": {
		"baseColumnName": {"type": "string", "minLength": 1},
		"urlExpression": {"type": "string", "minLength": 1},
		"onError": {"enum": ["store-error", "set-blank", "fail"]},
		"newColumnName": {"type": "string", "minLength": 1},
		"columnInsertIndex": {"type": "integer", "minimum": 0},
		"delay": {"type": "integer", "minimum": 0},
		"cacheResponses": {"type": "boolean"},
		"httpHeaders": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "value"],
				"properties": {
					"name": {"type": "string"},
					"value": {"type": "string"}
				}
			}
		}
	}
}`

var compileSchemaOnce = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(urlFetchSchema))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("urlfetch.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("urlfetch.schema.json")
})

// ParseURLFetchConfig validates raw JSON against the operation schema and
// decodes it.
func ParseURLFetchConfig(raw []byte) (URLFetchConfig, error) {
	var cfg URLFetchConfig

	schema, err := compileSchemaOnce()
	if err != nil {
		return cfg, fmt.Errorf("compile config schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(inst); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func validateURLFetchConfig(cfg URLFetchConfig) error {
	if cfg.BaseColumnName == "" {
		return fmt.Errorf("%w: baseColumnName cannot be empty", ErrInvalidConfig)
	}
	if cfg.URLExpression == "" {
		return fmt.Errorf("%w: urlExpression cannot be empty", ErrInvalidConfig)
	}
	if cfg.NewColumnName == "" {
		return fmt.Errorf("%w: newColumnName cannot be empty", ErrInvalidConfig)
	}
	if cfg.ColumnInsertIndex < 0 {
		return fmt.Errorf("%w: columnInsertIndex cannot be negative", ErrInvalidConfig)
	}
	if cfg.DelayMillis < 0 {
		return fmt.Errorf("%w: delay cannot be negative", ErrInvalidConfig)
	}
	switch cfg.OnError {
	case OnErrorStoreError, OnErrorSetBlank, OnErrorFail:
	default:
		return fmt.Errorf("%w: unknown onError %q", ErrInvalidConfig, cfg.OnError)
	}
	return nil
}

func mustMarshalConfig(cfg URLFetchConfig) json.RawMessage {
	raw, err := json.Marshal(cfg)
	if err != nil {
		// Config is plain data; marshaling cannot fail at runtime.
		panic(err)
	}
	return raw
}
