package httptp

import (
	"net/http"
	"time"
)

// Options configures the HTTP transport behavior.
//
// Defaults:
// - Client:        http.DefaultClient
// - RequestTimeout: 10s (used only if the incoming context has no deadline)
// - MaxBodyBytes:   4 MiB
// - SupportsDefer:  false
//
// All options are safe to leave zero-valued to use defaults.
type Options struct {
	Client         *http.Client
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Headers        map[string]string

	// SupportsDefer declares that the endpoint accepts split deferred
	// queries. When false, the fetcher sends deferred queries un-split.
	SupportsDefer bool
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:         http.DefaultClient,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   4 << 20,
	}
}

func WithClient(c *http.Client) Option          { return func(o *Options) { o.Client = c } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithMaxBodyBytes(n int64) Option           { return func(o *Options) { o.MaxBodyBytes = n } }
func WithSupportsDefer(v bool) Option           { return func(o *Options) { o.SupportsDefer = v } }
func WithHeader(name, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[name] = value
	}
}
