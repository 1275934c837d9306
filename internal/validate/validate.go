// Package validate implements validate_and_prepare: applying schema
// defaults, type-checking field values, and routing issues to errors or
// warnings depending on a collection's strict flag.
package validate

import (
	"fmt"

	"github.com/groundb/groundb/internal/schema"
)

// Issue is one validation problem, either a hard error (write aborts) or a
// warning (logged, write proceeds) depending on the collection's strict flag.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}

	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Result is the outcome of validate_and_prepare: the (possibly
// default-filled) data, plus separated errors and warnings.
type Result struct {
	Data     map[string]any
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether the result has no hard errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Prepare runs the full validate_and_prepare pipeline:
//  1. apply defaults for absent/null fields that declare one
//  2. type-check every field (enum values checked against variants)
//  3. require every required field be present and non-null
//  4. if additional_properties is false, reject unknown keys
//  5. recurse into custom<T> fields using the type's own field map
//  6. check ref fields are a string id or, for polymorphic targets, a
//     {type,id} mapping
//
// Issues are routed to Errors if col.Strict, else to Warnings.
func Prepare(sch *schema.Schema, col schema.CollectionDef, data map[string]any) Result {
	out := map[string]any{}

	for k, v := range data {
		out[k] = v
	}

	var issues []Issue

	applyDefaults(col.Fields, out)

	for name, field := range col.Fields {
		issues = append(issues, checkField(sch, name, field, out[name])...)
	}

	if !col.AdditionalProperties {
		for k := range out {
			if _, declared := col.Fields[k]; !declared {
				issues = append(issues, Issue{Field: k, Message: "undeclared field (additional_properties: false)"})
			}
		}
	}

	res := Result{Data: out}

	if col.Strict {
		res.Errors = issues
	} else {
		res.Warnings = issues
	}

	return res
}

func applyDefaults(fields map[string]schema.FieldDef, data map[string]any) {
	for name, f := range fields {
		if f.Default == nil {
			continue
		}

		v, present := data[name]
		if !present || v == nil {
			data[name] = f.Default
		}
	}
}

func checkField(sch *schema.Schema, name string, f schema.FieldDef, value any) []Issue {
	var issues []Issue

	if value == nil {
		if f.Required {
			issues = append(issues, Issue{Field: name, Message: "required field is missing"})
		}

		return issues
	}

	switch f.Type {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			issues = append(issues, Issue{Field: name, Message: "expected string"})

			return issues
		}

		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			issues = append(issues, Issue{Field: name, Message: fmt.Sprintf("value %q not in enum %v", s, f.Enum)})
		}
	case schema.TypeNumber:
		if !isNumber(value) {
			issues = append(issues, Issue{Field: name, Message: "expected number"})
		}
	case schema.TypeBoolean:
		if _, ok := value.(bool); !ok {
			issues = append(issues, Issue{Field: name, Message: "expected boolean"})
		}
	case schema.TypeDate, schema.TypeDatetime:
		if _, ok := value.(string); !ok {
			issues = append(issues, Issue{Field: name, Message: "expected date string"})
		}
	case schema.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			issues = append(issues, Issue{Field: name, Message: "expected object"})
		}
	case schema.TypeList:
		items, ok := value.([]any)
		if !ok {
			issues = append(issues, Issue{Field: name, Message: "expected list"})

			break
		}

		if f.ListItem != nil {
			for i, item := range items {
				issues = append(issues, checkField(sch, fmt.Sprintf("%s[%d]", name, i), *f.ListItem, item)...)
			}
		}
	case schema.TypeRef:
		issues = append(issues, checkRef(name, f, value)...)
	case schema.TypeCustom:
		sub, ok := value.(map[string]any)
		if !ok {
			issues = append(issues, Issue{Field: name, Message: "expected object for custom type"})

			break
		}

		for sub2, subField := range sch.ResolveField(f) {
			issues = append(issues, checkField(sch, name+"."+sub2, subField, sub[sub2])...)
		}
	}

	return issues
}

func checkRef(name string, f schema.FieldDef, value any) []Issue {
	switch v := value.(type) {
	case string:
		return nil
	case map[string]any:
		if len(f.RefTarget) <= 1 {
			return []Issue{{Field: name, Message: "single-target ref must be a string id"}}
		}

		if _, ok := v["id"].(string); !ok {
			return []Issue{{Field: name, Message: "polymorphic ref missing string id"}}
		}

		if typ, ok := v["type"].(string); !ok || !contains(f.RefTarget, typ) {
			return []Issue{{Field: name, Message: "polymorphic ref type not among declared targets"}}
		}

		return nil
	default:
		return []Issue{{Field: name, Message: "ref must be a string id or {type,id} mapping"}}
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int64, float64, float32:
		return true
	default:
		return false
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}

	return false
}
