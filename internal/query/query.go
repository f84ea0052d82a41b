package query

import (
	"fmt"
	"hash/fnv"
	"sort"

	language "github.com/hanpama/fetchgraph/internal/language"
)

// Query is one hierarchical fetch request: a root selection set with a
// stable identity. Queries are immutable once constructed; derived queries
// (diff residuals, deferred splits) are new values sharing the AST nodes.
type Query struct {
	name     string
	sel      language.SelectionSet
	deferred bool

	id string // computed once in New
}

// New builds a Query from a selection set. The name is the caller-chosen
// label used for events and debugging; it does not participate in identity.
func New(name string, sel language.SelectionSet) *Query {
	return &Query{name: name, sel: sel, id: identity(sel)}
}

// FromOperation builds a Query from a parsed operation, inlining any
// fragment spreads so downstream walks only ever see fields and inline
// fragments.
func FromOperation(name string, op *language.OperationDefinition, fragments language.FragmentDefinitionList) (*Query, error) {
	sel, err := inlineSpreads(op.SelectionSet, fragments, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return New(name, sel), nil
}

func (q *Query) Name() string { return q.name }

// ID is the deduplication key: a hash of the canonical text of the
// selection set. Two queries requesting the same shape share an ID.
func (q *Query) ID() string { return q.id }

// Deferred reports whether this query was split out of a parent as a
// deferred sub-tree. Deferred queries do not gate readiness.
func (q *Query) Deferred() bool { return q.deferred }

func (q *Query) Selections() language.SelectionSet { return q.sel }

// Text returns the canonical GraphQL text of the query.
func (q *Query) Text() string { return language.FormatSelectionSet(q.sel) }

func (q *Query) String() string {
	return fmt.Sprintf("query %s (%s)", q.name, q.id)
}

// derive produces a child query keeping the parent's name.
func (q *Query) derive(sel language.SelectionSet, deferred bool) *Query {
	d := New(q.name, sel)
	d.deferred = deferred
	return d
}

// WithSelections returns a query with the same name and deferred flag but a
// different selection set. Diffing uses this to build residual queries.
func (q *Query) WithSelections(sel language.SelectionSet) *Query {
	return q.derive(sel, q.deferred)
}

func identity(sel language.SelectionSet) string {
	h := fnv.New64a()
	h.Write([]byte(language.FormatSelectionSet(sel)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Set maps caller-chosen names to queries. A nil entry means "no query for
// this name" and is skipped everywhere.
type Set map[string]*Query

// Names returns the non-nil entry names in sorted order. Insertion order
// carries no meaning, so walks use sorted order for determinism.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name, q := range s {
		if q != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Queries returns the non-nil queries in name order.
func (s Set) Queries() []*Query {
	out := make([]*Query, 0, len(s))
	for _, name := range s.Names() {
		out = append(out, s[name])
	}
	return out
}

func inlineSpreads(sel language.SelectionSet, fragments language.FragmentDefinitionList, seen map[string]bool) (language.SelectionSet, error) {
	out := make(language.SelectionSet, 0, len(sel))
	for _, s := range sel {
		switch v := s.(type) {
		case *language.Field:
			children, err := inlineSpreads(v.SelectionSet, fragments, seen)
			if err != nil {
				return nil, err
			}
			f := *v
			f.SelectionSet = children
			out = append(out, &f)
		case *language.InlineFragment:
			children, err := inlineSpreads(v.SelectionSet, fragments, seen)
			if err != nil {
				return nil, err
			}
			frag := *v
			frag.SelectionSet = children
			out = append(out, &frag)
		case *language.FragmentSpread:
			def := fragments.ForName(v.Name)
			if def == nil {
				return nil, fmt.Errorf("query: unknown fragment %q", v.Name)
			}
			if seen[v.Name] {
				return nil, fmt.Errorf("query: fragment cycle through %q", v.Name)
			}
			seen[v.Name] = true
			children, err := inlineSpreads(def.SelectionSet, fragments, seen)
			delete(seen, v.Name)
			if err != nil {
				return nil, err
			}
			// Preserve the type condition by inlining as a fragment.
			out = append(out, &language.InlineFragment{
				TypeCondition: def.TypeCondition,
				SelectionSet:  children,
				Directives:    v.Directives,
			})
		}
	}
	return out, nil
}
