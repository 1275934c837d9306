package schema

import "fmt"

// ChangeKind names one category of difference between two schema versions.
type ChangeKind uint8

const (
	ChangeCollectionAdded ChangeKind = iota
	ChangeCollectionRemoved
	ChangeFieldAdded
	ChangeFieldRemoved
	ChangeFieldTypeChanged
	ChangeEnumValueAdded
	ChangeEnumValueRemoved
	ChangeDefaultChanged
	ChangePathTemplateChanged
)

// Change is one record in a migration diff.
type Change struct {
	Kind        ChangeKind
	Collection  string
	Field       string
	Safe        bool // auto-applied without operator confirmation
	Blocking    bool // boot fails if this change is present
	Description string
}

// Diff computes the migration diff between an old and a new schema,
// classifying each change as safe (auto-apply), warn (unsafe but
// non-blocking) or blocking (unsafe, fails boot).
//
// Safe: collection added; enum value added; default changed; field added
// when not required or has a default (the engine backfills it).
//
// Unsafe: collection removed, field removed, enum value removed, path
// template changed (all warn-only); field type changed and a new required
// field without a default (both block boot).
func Diff(oldSchema, newSchema *Schema) []Change {
	var changes []Change

	oldNames := oldSchema.SortedCollectionNames()
	newNames := newSchema.SortedCollectionNames()

	oldSet := map[string]bool{}
	for _, n := range oldNames {
		oldSet[n] = true
	}

	newSet := map[string]bool{}
	for _, n := range newNames {
		newSet[n] = true
	}

	for _, name := range newNames {
		if !oldSet[name] {
			changes = append(changes, Change{
				Kind: ChangeCollectionAdded, Collection: name, Safe: true,
				Description: fmt.Sprintf("collection %q added", name),
			})
		}
	}

	for _, name := range oldNames {
		if !newSet[name] {
			changes = append(changes, Change{
				Kind: ChangeCollectionRemoved, Collection: name, Safe: false,
				Description: fmt.Sprintf("collection %q removed", name),
			})

			continue
		}

		changes = append(changes, diffCollection(name, oldSchema.Collections[name], newSchema.Collections[name])...)
	}

	return changes
}

func diffCollection(name string, oldCol, newCol CollectionDef) []Change {
	var changes []Change

	if oldCol.Path != newCol.Path {
		changes = append(changes, Change{
			Kind: ChangePathTemplateChanged, Collection: name, Safe: false,
			Description: fmt.Sprintf("collection %q path template changed from %q to %q", name, oldCol.Path, newCol.Path),
		})
	}

	for fname, newField := range newCol.Fields {
		oldField, existed := oldCol.Fields[fname]
		if !existed {
			safe := !newField.Required || newField.Default != nil
			changes = append(changes, Change{
				Kind: ChangeFieldAdded, Collection: name, Field: fname, Safe: safe,
				Blocking:    !safe,
				Description: fmt.Sprintf("field %q added to %q", fname, name),
			})

			continue
		}

		changes = append(changes, diffField(name, fname, oldField, newField)...)
	}

	for fname := range oldCol.Fields {
		if _, stillExists := newCol.Fields[fname]; !stillExists {
			changes = append(changes, Change{
				Kind: ChangeFieldRemoved, Collection: name, Field: fname, Safe: false,
				Description: fmt.Sprintf("field %q removed from %q", fname, name),
			})
		}
	}

	return changes
}

func diffField(collection, fname string, oldField, newField FieldDef) []Change {
	var changes []Change

	if oldField.Type != newField.Type || oldField.CustomName != newField.CustomName {
		changes = append(changes, Change{
			Kind: ChangeFieldTypeChanged, Collection: collection, Field: fname, Safe: false, Blocking: true,
			Description: fmt.Sprintf("field %q type changed from %s to %s", fname, oldField.Type, newField.Type),
		})
	}

	oldEnum := map[string]bool{}
	for _, v := range oldField.Enum {
		oldEnum[v] = true
	}

	newEnum := map[string]bool{}
	for _, v := range newField.Enum {
		newEnum[v] = true
	}

	for _, v := range newField.Enum {
		if !oldEnum[v] {
			changes = append(changes, Change{
				Kind: ChangeEnumValueAdded, Collection: collection, Field: fname, Safe: true,
				Description: fmt.Sprintf("enum value %q added to %q.%q", v, collection, fname),
			})
		}
	}

	for _, v := range oldField.Enum {
		if !newEnum[v] {
			changes = append(changes, Change{
				Kind: ChangeEnumValueRemoved, Collection: collection, Field: fname, Safe: false,
				Description: fmt.Sprintf("enum value %q removed from %q.%q", v, collection, fname),
			})
		}
	}

	if !equalDefault(oldField.Default, newField.Default) {
		changes = append(changes, Change{
			Kind: ChangeDefaultChanged, Collection: collection, Field: fname, Safe: true,
			Description: fmt.Sprintf("default for %q.%q changed", collection, fname),
		})
	}

	return changes
}

func equalDefault(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && (a == nil) == (b == nil)
}

// Blocking reports whether any change in the diff must block boot.
func Blocking(changes []Change) []Change {
	var out []Change

	for _, c := range changes {
		if c.Blocking {
			out = append(out, c)
		}
	}

	return out
}

// SafeChanges returns only the changes that auto-apply.
func SafeChanges(changes []Change) []Change {
	var out []Change

	for _, c := range changes {
		if c.Safe {
			out = append(out, c)
		}
	}

	return out
}
