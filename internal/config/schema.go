package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://picklr.io/schemas/picklr-aws.json"

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to add config schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// checkShape validates a YAML document against the embedded schema. Only
// structure is checked here; semantic rules belong to the validators of
// the retry conditions and resources.
func checkShape(content []byte) error {
	sch, err := loadSchema()
	if err != nil {
		return err
	}

	jsonData, err := yaml.YAMLToJSON(content)
	if err != nil {
		return &errdefs.ConfigurationError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	var document any
	if err := json.Unmarshal(jsonData, &document); err != nil {
		return fmt.Errorf("failed to decode converted YAML: %w", err)
	}

	if err := sch.Validate(document); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return shapeError(ve)
		}
		return err
	}
	return nil
}

// shapeError reports the deepest schema failure, which names the offending
// key rather than the whole document.
func shapeError(ve *jsonschema.ValidationError) error {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	field = strings.ReplaceAll(field, "/", ".")
	return &errdefs.ConfigurationError{Field: field, Message: leaf.Message}
}
