// Package schema models the schema file: reusable types, collections, and
// views, plus the migration diff between two loaded schemas.
//
// Parsing is deliberately strict: the rejections in [ParseYAML]'s doc
// comment are the only source of Schema errors; anything not listed there
// is accepted, even if unusual.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/groundb/groundb/internal/pathtemplate"
)

// FieldType enumerates the declared kinds a field definition can take.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeList     FieldType = "list"
	TypeObject   FieldType = "object"
	TypeRef      FieldType = "ref"
	TypeCustom   FieldType = "custom"
)

// FieldDef is one field's definition, whether declared inline on a
// collection or inside a reusable type.
type FieldDef struct {
	Type       FieldType
	CustomName string // set when Type == TypeCustom, names an entry in Schema.Types

	Required bool
	Enum     []string // only meaningful for TypeString
	Default  any

	RefTarget []string // TypeRef: one or more collection names (polymorphic if >1)

	ListItem *FieldDef // TypeList: either a primitive FieldDef or a nested object FieldDef

	OnDelete string // TypeRef only: "", "error", "cascade", "nullify", "archive"
}

// IDPolicy controls how a collection's document id is produced.
type IDPolicy struct {
	Auto       string // "", "ulid", "uuid", "nanoid"
	OnConflict string // "error" (default) or "suffix"
}

// CollectionDef is one collection's full definition.
type CollectionDef struct {
	Name                 string
	Path                 string
	Template             *pathtemplate.Template
	Fields               map[string]FieldDef
	Content              bool
	AdditionalProperties bool
	Strict               bool
	Readonly             bool
	OnDelete             string // collection-level default for ref on_delete, default "error"
	ID                   IDPolicy
	Extension            string // ".md" (default), ".json", or ".jsonl" — inferred from Path
}

// ViewDef is one view's full definition.
type ViewDef struct {
	Name        string
	SQL         string
	Kind        string // "view" or "query"
	Materialize bool
	Buffer      float64
	Params      map[string]string // name -> declared type
}

// Schema is a fully parsed, validated schema: reusable types, collections
// and views, plus the content hash of the raw YAML it was parsed from.
type Schema struct {
	Types       map[string]map[string]FieldDef
	Collections map[string]CollectionDef
	Views       map[string]ViewDef
	Hash        string
	Raw         string
}

// Hash returns a deterministic digest of the raw YAML text (not the parsed
// form), so that whitespace-only edits still re-trigger a migration check.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}

// --- YAML surface -----------------------------------------------------

type yamlSchema struct {
	Types       map[string]map[string]yamlField `yaml:"types"`
	Collections map[string]yamlCollection       `yaml:"collections"`
	Views       map[string]yamlView              `yaml:"views"`
}

type yamlField struct {
	Type     string    `yaml:"type"`
	Required bool      `yaml:"required"`
	Enum     []string  `yaml:"enum"`
	Default  any       `yaml:"default"`
	Target   yamlTarget `yaml:"target"`
	Items    *yamlField `yaml:"items"`
	OnDelete string    `yaml:"on_delete"`
}

// yamlTarget accepts either a single string or a list of strings for
// ref targets.
type yamlTarget struct {
	values []string
}

func (t *yamlTarget) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}

		if s != "" {
			t.values = []string{s}
		}

		return nil
	case yaml.SequenceNode:
		return node.Decode(&t.values)
	default:
		return fmt.Errorf("target: unsupported YAML node kind")
	}
}

type yamlIDPolicy struct {
	Auto       string `yaml:"auto"`
	OnConflict string `yaml:"on_conflict"`
}

type yamlCollection struct {
	Path                 string               `yaml:"path"`
	Fields               map[string]yamlField `yaml:"fields"`
	Content              bool                 `yaml:"content"`
	AdditionalProperties *bool                `yaml:"additional_properties"`
	Strict               bool                 `yaml:"strict"`
	Readonly             bool                 `yaml:"readonly"`
	OnDelete             string               `yaml:"on_delete"`
	ID                   yamlIDPolicy         `yaml:"id"`
}

type yamlView struct {
	Query       string            `yaml:"query"`
	Type        string            `yaml:"type"`
	Materialize bool              `yaml:"materialize"`
	Buffer      string            `yaml:"buffer"`
	Params      map[string]yamlParam `yaml:"params"`
}

type yamlParam struct {
	Type string `yaml:"type"`
}

var bufferRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?x$`)

// ParseYAML parses and validates a schema document.
//
// Returns an error for:
//   - malformed YAML
//   - a field without a type, or a list field without items
//   - a custom field type naming an undeclared type
//   - empty path template on a collection
//   - a ref field without a target
//   - a ref target naming an undeclared collection
//   - an enum constraint on a non-string field
//   - on_delete set on a non-ref field
//   - a query-type view without params
//   - a buffer string not matching N(.N)?x
func ParseYAML(raw []byte) (*Schema, error) {
	var doc yamlSchema

	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse yaml: %w", err)
	}

	types := map[string]map[string]FieldDef{}
	for name, fields := range doc.Types {
		converted, err := convertFields(fields)
		if err != nil {
			return nil, fmt.Errorf("schema: type %q: %w", name, err)
		}

		types[name] = converted
	}

	collections := map[string]CollectionDef{}

	for name, c := range doc.Collections {
		col, err := convertCollection(name, c)
		if err != nil {
			return nil, fmt.Errorf("schema: collection %q: %w", name, err)
		}

		collections[name] = col
	}

	// Second pass: validate ref targets against the now-complete collection set.
	for name, col := range collections {
		for fname, f := range col.Fields {
			if err := validateField(fname, f, collections, types); err != nil {
				return nil, fmt.Errorf("schema: collection %q: %w", name, err)
			}
		}
	}

	views := map[string]ViewDef{}

	for name, v := range doc.Views {
		view, err := convertView(name, v)
		if err != nil {
			return nil, fmt.Errorf("schema: view %q: %w", name, err)
		}

		views[name] = view
	}

	s := &Schema{
		Types:       types,
		Collections: collections,
		Views:       views,
		Hash:        Hash(raw),
		Raw:         string(raw),
	}

	return s, nil
}

func convertFields(in map[string]yamlField) (map[string]FieldDef, error) {
	out := map[string]FieldDef{}

	for name, f := range in {
		fd, err := convertField(f)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}

		out[name] = fd
	}

	return out, nil
}

func convertField(f yamlField) (FieldDef, error) {
	fd := FieldDef{
		Required: f.Required,
		Enum:     f.Enum,
		Default:  f.Default,
		OnDelete: f.OnDelete,
		RefTarget: f.Target.values,
	}

	switch {
	case f.Type == "":
		return fd, fmt.Errorf("missing type")
	case f.Type == string(TypeList):
		fd.Type = TypeList

		if f.Items == nil {
			return fd, fmt.Errorf("list field missing items")
		}

		item, err := convertField(*f.Items)
		if err != nil {
			return fd, fmt.Errorf("items: %w", err)
		}

		fd.ListItem = &item
	case f.Type == string(TypeString), f.Type == string(TypeNumber), f.Type == string(TypeBoolean),
		f.Type == string(TypeDate), f.Type == string(TypeDatetime), f.Type == string(TypeObject),
		f.Type == string(TypeRef):
		fd.Type = FieldType(f.Type)
	default:
		fd.Type = TypeCustom
		fd.CustomName = f.Type
	}

	return fd, nil
}

func validateField(name string, f FieldDef, collections map[string]CollectionDef, types map[string]map[string]FieldDef) error {
	if len(f.Enum) > 0 && f.Type != TypeString {
		return fmt.Errorf("field %q: enum only allowed on string fields", name)
	}

	if f.Type == TypeRef {
		if len(f.RefTarget) == 0 {
			return fmt.Errorf("field %q: ref without target", name)
		}

		for _, target := range f.RefTarget {
			if _, ok := collections[target]; !ok {
				return fmt.Errorf("field %q: ref target %q is not a declared collection", name, target)
			}
		}
	} else if f.OnDelete != "" {
		return fmt.Errorf("field %q: on_delete only allowed on ref fields", name)
	}

	if f.Type == TypeCustom {
		if _, ok := types[f.CustomName]; !ok {
			return fmt.Errorf("field %q: unknown custom type %q", name, f.CustomName)
		}
	}

	if f.Type == TypeList && f.ListItem != nil {
		return validateField(name+".items", *f.ListItem, collections, types)
	}

	return nil
}

func convertCollection(name string, c yamlCollection) (CollectionDef, error) {
	if strings.TrimSpace(c.Path) == "" {
		return CollectionDef{}, fmt.Errorf("empty path template")
	}

	tmpl, err := pathtemplate.Parse(c.Path)
	if err != nil {
		return CollectionDef{}, fmt.Errorf("path template: %w", err)
	}

	fields, err := convertFields(c.Fields)
	if err != nil {
		return CollectionDef{}, err
	}

	onDelete := c.OnDelete
	if onDelete == "" {
		onDelete = "error"
	}

	conflict := c.ID.OnConflict
	if conflict == "" {
		conflict = "error"
	}

	additionalProps := true
	if c.AdditionalProperties != nil {
		additionalProps = *c.AdditionalProperties
	}

	return CollectionDef{
		Name:                 name,
		Path:                 c.Path,
		Template:             tmpl,
		Fields:               fields,
		Content:              c.Content,
		AdditionalProperties: additionalProps,
		Strict:               c.Strict,
		Readonly:             c.Readonly,
		OnDelete:             onDelete,
		ID:                   IDPolicy{Auto: c.ID.Auto, OnConflict: conflict},
		Extension:            inferExtension(c.Path),
	}, nil
}

func inferExtension(path string) string {
	switch {
	case strings.HasSuffix(path, ".jsonl"):
		return ".jsonl"
	case strings.HasSuffix(path, ".json"):
		return ".json"
	case strings.HasSuffix(path, ".md"):
		return ".md"
	default:
		return ".md"
	}
}

func convertView(name string, v yamlView) (ViewDef, error) {
	kind := v.Type
	if kind == "" {
		kind = "view"
	}

	params := map[string]string{}
	for pname, p := range v.Params {
		params[pname] = p.Type
	}

	if kind == "query" && len(params) == 0 {
		return ViewDef{}, fmt.Errorf("query-type view requires params")
	}

	buffer := 1.0

	if v.Buffer != "" {
		if !bufferRe.MatchString(v.Buffer) {
			return ViewDef{}, fmt.Errorf("buffer %q does not match N(.N)?x", v.Buffer)
		}

		n, err := strconv.ParseFloat(strings.TrimSuffix(v.Buffer, "x"), 64)
		if err != nil {
			return ViewDef{}, fmt.Errorf("buffer %q: %w", v.Buffer, err)
		}

		buffer = n
	}

	return ViewDef{
		Name:        name,
		SQL:         v.Query,
		Kind:        kind,
		Materialize: v.Materialize,
		Buffer:      buffer,
		Params:      params,
	}, nil
}

// SortedCollectionNames returns collection names in stable alphabetical
// order, used anywhere iteration order must be deterministic (boot scan,
// migration diff, DESIGN.md-documented test fixtures).
func (s *Schema) SortedCollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	for n := range s.Collections {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// SortedViewNames returns view names in stable alphabetical order.
func (s *Schema) SortedViewNames() []string {
	names := make([]string, 0, len(s.Views))
	for n := range s.Views {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ResolveField resolves a custom<T> field into T's field map, returning nil
// if f is not a custom field.
func (s *Schema) ResolveField(f FieldDef) map[string]FieldDef {
	if f.Type != TypeCustom {
		return nil
	}

	return s.Types[f.CustomName]
}
