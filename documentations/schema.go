package documentations

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-dispatch/signature"
	"github.com/saiset-co/sai-dispatch/types"
)

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

func kindSchema(kind signature.Kind) *types.RouteSchema {
	switch kind {
	case signature.KindInt:
		return &types.RouteSchema{Type: "integer"}
	case signature.KindFloat:
		return &types.RouteSchema{Type: "number"}
	case signature.KindBool:
		return &types.RouteSchema{Type: "boolean"}
	case signature.KindUUID:
		return &types.RouteSchema{Type: "string", Format: "uuid"}
	case signature.KindDate:
		return &types.RouteSchema{Type: "string", Format: "date"}
	default:
		return &types.RouteSchema{Type: "string"}
	}
}

// typeSchema describes a Go type. seen guards against recursive structs.
func typeSchema(t reflect.Type, seen map[reflect.Type]bool) *types.RouteSchema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return &types.RouteSchema{Type: "string", Format: "date-time"}
	case uuidType:
		return &types.RouteSchema{Type: "string", Format: "uuid"}
	}

	switch t.Kind() {
	case reflect.Struct:
		if seen[t] {
			return &types.RouteSchema{Type: "object", Description: t.Name()}
		}
		seen[t] = true
		defer delete(seen, t)
		return structSchema(t, seen)
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &types.RouteSchema{Type: "string", Format: "byte"}
		}
		return &types.RouteSchema{Type: "array", Items: typeSchema(t.Elem(), seen)}
	case reflect.Map:
		return &types.RouteSchema{Type: "object"}
	case reflect.String:
		return &types.RouteSchema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &types.RouteSchema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &types.RouteSchema{Type: "number"}
	case reflect.Bool:
		return &types.RouteSchema{Type: "boolean"}
	default:
		return &types.RouteSchema{Type: "object"}
	}
}

func structSchema(t reflect.Type, seen map[reflect.Type]bool) *types.RouteSchema {
	schema := &types.RouteSchema{
		Type:       "object",
		Properties: make(map[string]*types.RouteSchema),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, ok := fieldName(field)
		if !ok {
			continue
		}

		fieldSchema := typeSchema(field.Type, seen)
		if doc := field.Tag.Get("doc"); doc != "" {
			fieldSchema.Description = doc
		}
		if example := field.Tag.Get("example"); example != "" {
			fieldSchema.Example = exampleValue(fieldSchema.Type, example)
		}
		applyValidation(fieldSchema, field.Tag.Get("validate"))

		schema.Properties[name] = fieldSchema
		if strings.Contains(field.Tag.Get("validate"), "required") {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema
}

func fieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name := strings.SplitN(tag, ",", 2)[0]; name != "" {
		return name, true
	}
	return field.Name, true
}

func exampleValue(schemaType, raw string) interface{} {
	switch schemaType {
	case "integer":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	case "number":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case "boolean":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	}
	return raw
}

// applyValidation maps the validator tags that have an OpenAPI counterpart.
func applyValidation(schema *types.RouteSchema, tag string) {
	if tag == "" {
		return
	}

	numeric := schema.Type == "integer" || schema.Type == "number"
	for _, rule := range strings.Split(tag, ",") {
		key, value, found := strings.Cut(rule, "=")
		if !found {
			continue
		}

		switch key {
		case "min", "gte":
			if numeric {
				if v, err := strconv.ParseFloat(value, 64); err == nil {
					schema.Minimum = &v
				}
			} else if v, err := strconv.Atoi(value); err == nil && schema.Type == "string" {
				schema.MinLength = &v
			}
		case "max", "lte":
			if numeric {
				if v, err := strconv.ParseFloat(value, 64); err == nil {
					schema.Maximum = &v
				}
			} else if v, err := strconv.Atoi(value); err == nil && schema.Type == "string" {
				schema.MaxLength = &v
			}
		case "oneof":
			for _, option := range strings.Fields(value) {
				schema.Enum = append(schema.Enum, exampleValue(schema.Type, option))
			}
		}
	}
}

func errorSchema() *types.RouteSchema {
	return &types.RouteSchema{
		Type: "object",
		Properties: map[string]*types.RouteSchema{
			"error":      {Type: "string", Example: "Bad Request"},
			"message":    {Type: "string"},
			"status":     {Type: "integer", Example: 400},
			"fields":     {Type: "array", Items: &types.RouteSchema{Type: "string"}},
			"allowed":    {Type: "array", Items: &types.RouteSchema{Type: "string"}},
			"request_id": {Type: "string"},
		},
		Required: []string{"error", "status"},
	}
}
