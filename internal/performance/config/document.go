package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema describes the accepted shape of a config file. Semantic
// checks (durations parse, metrics exist) are left to Validate.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "url": {"type": "string"},
    "sleep": {"$ref": "#/definitions/duration"},
    "timeout": {"$ref": "#/definitions/duration"},
    "gracefulStop": {"$ref": "#/definitions/duration"},
    "stages": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["duration", "target"],
        "properties": {
          "duration": {"$ref": "#/definitions/duration"},
          "target": {"type": "integer"},
          "name": {"type": "string"}
        }
      }
    },
    "thresholds": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "oneOf": [
            {"type": "string"},
            {
              "type": "object",
              "additionalProperties": false,
              "required": ["threshold"],
              "properties": {
                "threshold": {"type": "string"},
                "abortOnFail": {"type": "boolean"}
              }
            }
          ]
        }
      }
    },
    "settings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxIdleConnsPerHost": {"type": "integer"},
        "insecureSkipVerify": {"type": "boolean"},
        "userAgent": {"type": "string"},
        "headers": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "duration": {"type": "string"}
  }
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func loadSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.json", strings.NewReader(documentSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("config.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateDocument checks a raw YAML or JSON config document against the
// config schema. Unknown keys and wrongly typed values are reported as a
// ValidationErrors with one entry per violation.
func ValidateDocument(data []byte, path string) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	doc, err := decodeDocument(data, path)
	if err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return err
		}
		errs := &ValidationErrors{}
		collectSchemaErrors(verr, errs)
		if !errs.HasErrors() {
			errs.Add("", verr.Error())
		}
		return errs
	}

	return nil
}

// decodeDocument turns the raw document into the generic JSON value model
// the schema validator expects. YAML is round-tripped through JSON so
// numbers arrive as json.Number and maps as map[string]interface{}.
func decodeDocument(data []byte, path string) (interface{}, error) {
	raw := data
	if !isJSON(path) {
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		if v == nil {
			v = map[string]interface{}{}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize YAML config: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return doc, nil
}

// collectSchemaErrors flattens the validator's error tree into leaf messages.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}
