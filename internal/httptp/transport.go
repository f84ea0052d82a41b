// Package httptp is the GraphQL-over-HTTP transport: queries go out as
// JSON POST envelopes and responses come back as the standard
// {data, errors} envelope. It implements pending.Transport.
package httptp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	query "github.com/hanpama/fetchgraph/internal/query"
)

type Transport struct {
	endpoint string
	opts     *Options
}

// New creates a transport for one GraphQL endpoint URL.
func New(endpoint string, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Transport{endpoint: endpoint, opts: o}
}

// Supports reports transport feature support.
func (t *Transport) Supports(feature string) bool {
	return feature == "defer" && t.opts.SupportsDefer
}

type requestEnvelope struct {
	Query string `json:"query"`
}

type responseEnvelope struct {
	Data   map[string]any  `json:"data"`
	Errors []responseError `json:"errors"`
}

type responseError struct {
	Message string `json:"message"`
}

// Send posts q to the endpoint and returns the decoded data payload.
// GraphQL-level errors in the response surface as a single error; partial
// data alongside errors is discarded, since committing it could mask the
// failure from the diff.
func (t *Transport) Send(ctx context.Context, q *query.Query) (map[string]any, error) {
	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(requestEnvelope{Query: q.Text()})
	if err != nil {
		return nil, fmt.Errorf("httptp: encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptp: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range t.opts.Headers {
		req.Header.Set(name, value)
	}

	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptp: %w", err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if t.opts.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, t.opts.MaxBodyBytes)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("httptp: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httptp: %w: %s", ErrHTTPStatus, resp.Status)
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("httptp: decoding response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("httptp: %w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("httptp: %w", ErrNoData)
	}
	return envelope.Data, nil
}
