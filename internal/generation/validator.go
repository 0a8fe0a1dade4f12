// internal/generation/validator.go
package generation

import (
	"embed"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator 按产物类型校验生成结果
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// NewValidator 编译内嵌的全部结构定义
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(Kinds))}
	for _, kind := range Kinds {
		data, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", kind, err)
		}
		compiler := jsonschema.NewCompiler()
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate 校验一段 JSON
func (v *Validator) Validate(kind Kind, data []byte) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for %q", kind)
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
