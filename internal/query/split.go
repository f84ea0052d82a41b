package query

import (
	language "github.com/hanpama/fetchgraph/internal/language"
)

// DeferDirective marks a selection whose data is not required for the
// enclosing request to become ready.
const DeferDirective = "defer"

// HasDeferred reports whether any selection in the query carries @defer.
func (q *Query) HasDeferred() bool {
	return selHasDeferred(q.sel)
}

func selHasDeferred(sel language.SelectionSet) bool {
	for _, s := range sel {
		switch v := s.(type) {
		case *language.Field:
			if hasDefer(v.Directives) || selHasDeferred(v.SelectionSet) {
				return true
			}
		case *language.InlineFragment:
			if hasDefer(v.Directives) || selHasDeferred(v.SelectionSet) {
				return true
			}
		}
	}
	return false
}

// SplitDeferred separates @defer selections into standalone queries. The
// required remainder (with @defer subtrees removed) comes first, then one
// deferred query per extracted subtree, each re-rooted under copies of its
// ancestor fields so it remains fetchable on its own. A query with no
// deferred selections splits into itself.
func (q *Query) SplitDeferred() []*Query {
	required, deferred := splitSelections(q.sel)
	out := make([]*Query, 0, 1+len(deferred))
	if len(required) > 0 {
		out = append(out, q.derive(required, q.deferred))
	}
	for _, d := range deferred {
		out = append(out, q.derive(d, true))
	}
	return out
}

// Flatten concatenates per-query split results into one ordered sequence.
func Flatten(groups [][]*Query) []*Query {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]*Query, 0, n)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func splitSelections(sel language.SelectionSet) (required language.SelectionSet, deferred []language.SelectionSet) {
	for _, s := range sel {
		switch v := s.(type) {
		case *language.Field:
			innerReq, innerDef := splitSelections(v.SelectionSet)
			if hasDefer(v.Directives) {
				f := *v
				f.Directives = withoutDefer(v.Directives)
				f.SelectionSet = innerReq
				if len(v.SelectionSet) == 0 || len(innerReq) > 0 {
					deferred = append(deferred, language.SelectionSet{&f})
				}
				for _, d := range innerDef {
					deferred = append(deferred, wrapInField(v, d))
				}
				continue
			}
			f := *v
			f.SelectionSet = innerReq
			if len(v.SelectionSet) == 0 || len(innerReq) > 0 {
				required = append(required, &f)
			}
			for _, d := range innerDef {
				deferred = append(deferred, wrapInField(v, d))
			}
		case *language.InlineFragment:
			innerReq, innerDef := splitSelections(v.SelectionSet)
			if hasDefer(v.Directives) {
				frag := *v
				frag.Directives = withoutDefer(v.Directives)
				frag.SelectionSet = innerReq
				if len(innerReq) > 0 {
					deferred = append(deferred, language.SelectionSet{&frag})
				}
				for _, d := range innerDef {
					deferred = append(deferred, wrapInFragment(v, d))
				}
				continue
			}
			frag := *v
			frag.SelectionSet = innerReq
			if len(innerReq) > 0 {
				required = append(required, &frag)
			}
			for _, d := range innerDef {
				deferred = append(deferred, wrapInFragment(v, d))
			}
		}
	}
	return required, deferred
}

// wrapInField re-roots a deferred subtree under a copy of its ancestor
// field so the split query carries enough context to be sent alone.
func wrapInField(parent *language.Field, child language.SelectionSet) language.SelectionSet {
	f := *parent
	f.Directives = withoutDefer(parent.Directives)
	f.SelectionSet = child
	return language.SelectionSet{&f}
}

func wrapInFragment(parent *language.InlineFragment, child language.SelectionSet) language.SelectionSet {
	frag := *parent
	frag.Directives = withoutDefer(parent.Directives)
	frag.SelectionSet = child
	return language.SelectionSet{&frag}
}

func hasDefer(dirs language.DirectiveList) bool {
	for _, d := range dirs {
		if d.Name == DeferDirective {
			return true
		}
	}
	return false
}

func withoutDefer(dirs language.DirectiveList) language.DirectiveList {
	if !hasDefer(dirs) {
		return dirs
	}
	out := make(language.DirectiveList, 0, len(dirs)-1)
	for _, d := range dirs {
		if d.Name != DeferDirective {
			out = append(out, d)
		}
	}
	return out
}
