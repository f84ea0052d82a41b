package httptp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	language "github.com/hanpama/fetchgraph/internal/language"
	query "github.com/hanpama/fetchgraph/internal/query"
)

func mustQuery(t *testing.T, src string) *query.Query {
	t.Helper()
	doc, err := language.ParseQuery(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return query.New("q", doc.Operations[0].SelectionSet)
}

func TestSendPostsQueryEnvelope(t *testing.T) {
	var gotMethod, gotContentType, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		var env struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		gotQuery = env.Query
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"user": map[string]any{"id": "4", "name": "Ada"}},
		})
	}))
	defer srv.Close()

	q := mustQuery(t, `{ user(id: "4") { id name } }`)
	data, err := New(srv.URL).Send(context.Background(), q)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %s", gotContentType)
	}
	if !strings.Contains(gotQuery, "user(id:") {
		t.Fatalf("query text not sent: %q", gotQuery)
	}
	user, ok := data["user"].(map[string]any)
	if !ok || user["name"] != "Ada" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestSendAppliesConfiguredHeaders(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
	}))
	defer srv.Close()

	tp := New(srv.URL, WithHeader("Authorization", "Bearer token"))
	if _, err := tp.Send(context.Background(), mustQuery(t, `{ ok }`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer token" {
		t.Fatalf("Authorization = %q", auth)
	}
}

func TestSendGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"user": nil},
			"errors": []map[string]any{
				{"message": "user not found"},
				{"message": "rate limited"},
			},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Send(context.Background(), mustQuery(t, `{ user { id } }`))
	if !errors.Is(err, ErrGraphQL) {
		t.Fatalf("err = %v, want ErrGraphQL", err)
	}
	// Partial data alongside errors is discarded, so both messages must
	// survive in the error text.
	if !strings.Contains(err.Error(), "user not found") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("error text lost messages: %v", err)
	}
}

func TestSendHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Send(context.Background(), mustQuery(t, `{ ok }`))
	if !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("err = %v, want ErrHTTPStatus", err)
	}
}

func TestSendNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Send(context.Background(), mustQuery(t, `{ ok }`))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestSendHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL).Send(ctx, mustQuery(t, `{ ok }`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSupportsDefer(t *testing.T) {
	if New("http://example.test").Supports("defer") {
		t.Fatal("defer support on by default")
	}
	tp := New("http://example.test", WithSupportsDefer(true))
	if !tp.Supports("defer") {
		t.Fatal("defer support not enabled")
	}
	if tp.Supports("subscriptions") {
		t.Fatal("unknown feature reported as supported")
	}
}
