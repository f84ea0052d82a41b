package query

import (
	"sort"
	"strings"

	language "github.com/hanpama/fetchgraph/internal/language"
)

// FieldGroup is one response-name slot with every field node that feeds it.
// Duplicate response names produced by fragment merging collapse into a
// single group, preserving first-seen order.
type FieldGroup struct {
	ResponseName string
	Fields       []*language.Field
}

type fieldMap struct {
	groups []FieldGroup
	index  map[string]int
}

func (fm *fieldMap) add(responseName string, field *language.Field) {
	if idx, ok := fm.index[responseName]; ok {
		fm.groups[idx].Fields = append(fm.groups[idx].Fields, field)
		return
	}
	fm.index[responseName] = len(fm.groups)
	fm.groups = append(fm.groups, FieldGroup{ResponseName: responseName, Fields: []*language.Field{field}})
}

// CollectFields flattens a selection set into ordered field groups. The
// client holds no schema, so inline fragments are descended into
// unconditionally; this keeps the diff conservative (it can only ever
// request more than strictly needed, never less).
func CollectFields(sel language.SelectionSet) []FieldGroup {
	fm := &fieldMap{index: make(map[string]int)}
	collectInto(sel, fm)
	return fm.groups
}

func collectInto(sel language.SelectionSet, fm *fieldMap) {
	for _, s := range sel {
		switch v := s.(type) {
		case *language.Field:
			name := v.Alias
			if name == "" {
				name = v.Name
			}
			fm.add(name, v)
		case *language.InlineFragment:
			collectInto(v.SelectionSet, fm)
		}
	}
}

// MergeSelections concatenates the child selections of every field in a
// group, so nested walks see one merged selection set.
func MergeSelections(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// FieldKey is the storage key for a field on a record: the field name plus
// its arguments in canonical (name-sorted) form. Aliases do not participate;
// two aliases of the same field and arguments hit the same cached value.
func FieldKey(f *language.Field) string {
	if len(f.Arguments) == 0 {
		return f.Name
	}
	args := make([]*language.Argument, len(f.Arguments))
	copy(args, f.Arguments)
	sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })

	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Name)
		b.WriteByte(':')
		b.WriteString(a.Value.String())
	}
	b.WriteByte(')')
	return b.String()
}
