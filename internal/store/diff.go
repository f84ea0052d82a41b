package store

import (
	language "github.com/hanpama/fetchgraph/internal/language"
	query "github.com/hanpama/fetchgraph/internal/query"
)

// Diff computes the residual of q not satisfied by src: zero queries when
// everything is cached, otherwise one query covering only the missing
// selections. Residuals already on the wire are still returned; the
// pending registry fans equal-identity registrations into the existing
// fetch, so a returned residual never costs a duplicate network send.
//
// The diff is conservative. A list field is re-requested whole if any of
// its elements is missing any part, and unknown value shapes count as
// missing; the result can over-fetch but never under-fetch.
func Diff(q *query.Query, src RecordSource) []*query.Query {
	residual := diffSelections(src, RootID, q.Selections())
	if len(residual) == 0 {
		return nil
	}
	return []*query.Query{q.WithSelections(residual)}
}

// Resolvable reports whether q can be satisfied entirely from src.
func Resolvable(q *query.Query, src RecordSource) bool {
	return len(diffSelections(src, RootID, q.Selections())) == 0
}

func diffSelections(src RecordSource, dataID string, sel language.SelectionSet) language.SelectionSet {
	rec, ok := src.Get(dataID)
	if !ok {
		return sel
	}

	var missing language.SelectionSet
	for _, s := range sel {
		switch v := s.(type) {
		case *language.Field:
			if m := diffField(src, rec, v); m != nil {
				missing = append(missing, m)
			}
		case *language.InlineFragment:
			inner := diffSelections(src, dataID, v.SelectionSet)
			if len(inner) > 0 {
				frag := *v
				frag.SelectionSet = inner
				missing = append(missing, &frag)
			}
		}
	}
	return missing
}

func diffField(src RecordSource, rec Record, f *language.Field) *language.Field {
	val, ok := rec[query.FieldKey(f)]
	if !ok {
		return f
	}
	if len(f.SelectionSet) == 0 {
		return nil
	}

	switch link := val.(type) {
	case Ref:
		inner := diffSelections(src, string(link), f.SelectionSet)
		if len(inner) == 0 {
			return nil
		}
		field := *f
		field.SelectionSet = inner
		return &field
	case []Ref:
		for _, r := range link {
			if len(diffSelections(src, string(r), f.SelectionSet)) > 0 {
				return f
			}
		}
		return nil
	default:
		// A composite selection cached as a plain value: null edge, cached
		// whole. Nothing left to fetch.
		return nil
	}
}
