package style

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemaOnce    sync.Once
	layerSchema   *sjsonschema.Schema
	sourceSchema  *sjsonschema.Schema
	schemaLoadErr error
)

func loadSchemas() {
	c := sjsonschema.NewCompiler()
	for _, name := range []string{"layer.json", "source.json"} {
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			schemaLoadErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			schemaLoadErr = fmt.Errorf("unmarshal schema %s: %w", name, err)
			return
		}
		if err := c.AddResource(name, doc); err != nil {
			schemaLoadErr = fmt.Errorf("add schema resource %s: %w", name, err)
			return
		}
	}

	var err error
	if layerSchema, err = c.Compile("layer.json"); err != nil {
		schemaLoadErr = fmt.Errorf("compile layer schema: %w", err)
		return
	}
	if sourceSchema, err = c.Compile("source.json"); err != nil {
		schemaLoadErr = fmt.Errorf("compile source schema: %w", err)
	}
}

func validate(kind, path string, doc any) error {
	schemaOnce.Do(loadSchemas)
	if schemaLoadErr != nil {
		return schemaLoadErr
	}

	sch := layerSchema
	if kind == "source" {
		sch = sourceSchema
	}

	err := sch.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ConversionError{Path: path, Msg: err.Error()}
	}
	var msgs []string
	for _, cause := range flattenValidationErrors(ve) {
		loc := strings.Join(cause.InstanceLocation, "/")
		if loc == "" {
			msgs = append(msgs, fmt.Sprintf("%v", cause.ErrorKind))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v", loc, cause.ErrorKind))
	}
	return &ConversionError{Path: path, Msg: strings.Join(msgs, "; ")}
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
