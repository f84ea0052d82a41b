package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffColdCache(t *testing.T) {
	st := New(nil)
	q := mustQuery(t, "user", userQuery)
	residual := Diff(q, st)
	require.Len(t, residual, 1)
	require.Equal(t, q.ID(), residual[0].ID(), "cold diff should request the whole query")
}

func TestDiffFullyCached(t *testing.T) {
	st := New(nil)
	q := mustQuery(t, "user", userQuery)
	st.Commit(q, userPayload(), 0)

	require.Empty(t, Diff(q, st))
	require.True(t, Resolvable(q, st))
}

func TestDiffPartialResidual(t *testing.T) {
	st := New(nil)
	cached := mustQuery(t, "user", `{ user(id: "4") { id name } }`)
	st.Commit(cached, map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}}, 0)

	wider := mustQuery(t, "user", `{ user(id: "4") { id name email } }`)
	residual := Diff(wider, st)
	require.Len(t, residual, 1)

	text := residual[0].Text()
	require.Contains(t, text, "email")
	require.NotContains(t, text, "name", "cached field re-requested")
}

func TestDiffNestedResidual(t *testing.T) {
	st := New(nil)
	cached := mustQuery(t, "user", `{ user(id: "4") { id address { city } } }`)
	st.Commit(cached, map[string]any{
		"user": map[string]any{"id": "4", "address": map[string]any{"city": "London"}},
	}, 0)

	wider := mustQuery(t, "user", `{ user(id: "4") { id address { city country } } }`)
	residual := Diff(wider, st)
	require.Len(t, residual, 1)
	text := residual[0].Text()
	require.Contains(t, text, "country")
	require.NotContains(t, text, "city")
}

func TestDiffListConservative(t *testing.T) {
	st := New(nil)
	cached := mustQuery(t, "user", `{ user(id: "4") { id friends(first: 2) { id } } }`)
	st.Commit(cached, map[string]any{
		"user": map[string]any{
			"id": "4",
			"friends": []any{
				map[string]any{"id": "5"},
				map[string]any{"id": "6"},
			},
		},
	}, 0)

	wider := mustQuery(t, "user", `{ user(id: "4") { id friends(first: 2) { id name } } }`)
	residual := Diff(wider, st)
	require.Len(t, residual, 1)

	// One missing element field refetches the whole list subtree.
	text := residual[0].Text()
	require.Contains(t, text, "friends")
	require.True(t, strings.Contains(text, "id"), "list refetch should carry the full element selection")
}

func TestDiffResidualKeepsQueryIdentity(t *testing.T) {
	st := New(nil)
	q := mustQuery(t, "user", `{ user(id: "4") { id name } }`)

	// A cold-cache residual covers the same selections as the input, so an
	// equal query diffed concurrently resolves to the same fetch identity.
	residual := Diff(q, st)
	require.Len(t, residual, 1)
	require.Equal(t, q.ID(), residual[0].ID())
	require.Equal(t, q.Name(), residual[0].Name())
}

func TestDiffInlineFragment(t *testing.T) {
	st := New(nil)
	cached := mustQuery(t, "node", `{ node(id: "4") { id } }`)
	st.Commit(cached, map[string]any{"node": map[string]any{"id": "4"}}, 0)

	frag := mustQuery(t, "node", `{ node(id: "4") { id ... on User { name } } }`)
	residual := Diff(frag, st)
	require.Len(t, residual, 1)
	text := residual[0].Text()
	require.Contains(t, text, "on User")
	require.Contains(t, text, "name")
	require.NotContains(t, text, "id ", "cached field re-requested")
}
