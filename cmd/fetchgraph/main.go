package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hanpama/fetchgraph/internal/eventbus"
	"github.com/hanpama/fetchgraph/internal/fetcher"
	"github.com/hanpama/fetchgraph/internal/httptp"
	"github.com/hanpama/fetchgraph/internal/language"
	"github.com/hanpama/fetchgraph/internal/otel"
	"github.com/hanpama/fetchgraph/internal/query"
	"github.com/hanpama/fetchgraph/internal/ready"
	"github.com/hanpama/fetchgraph/internal/store"
)

const rootUsage = `fetchgraph — cache-aware GraphQL query fetcher

USAGE:
  fetchgraph <command> [flags]

COMMANDS:
  fetch            Fetch one or more query files against a GraphQL endpoint
  diff             Show which parts of a query a cache snapshot cannot satisfy
  help             Show help for any command
`

const fetchUsage = `fetch FLAGS:
  -transport.endpoint <url>       GraphQL HTTP endpoint (required)
  -transport.timeout <duration>   Per-request timeout, e.g. 10s (default: 10s)
  -transport.header <Name=value>  Extra request header. Repeatable
  -transport.defer                Endpoint supports split deferred queries
  -cache.file <path>              Record cache snapshot; read before and written after
  -fetch.force                    Skip the cache diff and refetch everything
  -fetch.timeout <duration>       Abort the run after this long (default: 30s)
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: fetchgraph)
  <file>...                       GraphQL query files (at least one required)
`

const diffUsage = `diff FLAGS:
  -cache.file <path>  Record cache snapshot to diff against (required)
  <file>...           GraphQL query files (at least one required)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("fetchgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "fetch":
		return cmdFetch(cmdArgs)
	case "diff":
		return cmdDiff(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "fetch":
		fmt.Print(fetchUsage)
	case "diff":
		fmt.Print(diffUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type headerFlag map[string]string

func (h *headerFlag) String() string { return "" }

func (h *headerFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("invalid header %q", v)
	}
	if *h == nil {
		*h = map[string]string{}
	}
	(*h)[strings.TrimSpace(parts[0])] = parts[1]
	return nil
}

func cmdFetch(args []string) error {
	endpoint := ""
	requestTimeout := 10 * time.Second
	supportsDefer := false
	cacheFile := ""
	force := false
	fetchTimeout := 30 * time.Second
	otelEndpoint := ""
	otelService := "fetchgraph"
	var headers headerFlag

	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&endpoint, "transport.endpoint", endpoint, "GraphQL HTTP endpoint")
	fs.DurationVar(&requestTimeout, "transport.timeout", requestTimeout, "Per-request timeout")
	fs.Var(&headers, "transport.header", "Extra request header")
	fs.BoolVar(&supportsDefer, "transport.defer", supportsDefer, "Endpoint supports deferred queries")
	fs.StringVar(&cacheFile, "cache.file", cacheFile, "Record cache snapshot path")
	fs.BoolVar(&force, "fetch.force", force, "Skip the cache diff")
	fs.DurationVar(&fetchTimeout, "fetch.timeout", fetchTimeout, "Abort the run after this long")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, fetchUsage)
		return err
	}
	if endpoint == "" {
		fmt.Fprint(os.Stderr, fetchUsage)
		return fmt.Errorf("-transport.endpoint is required")
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprint(os.Stderr, fetchUsage)
		return fmt.Errorf("at least one query file is required")
	}

	set, err := loadQuerySet(files)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var disk *store.Snapshot
	if cacheFile != "" {
		disk, err = store.LoadSnapshot(cacheFile)
		if err != nil {
			return err
		}
		log.Printf("cache: loaded %d records from %s", disk.Size(), cacheFile)
	}

	tpOpts := []httptp.Option{
		httptp.WithRequestTimeout(requestTimeout),
		httptp.WithSupportsDefer(supportsDefer),
	}
	for name, value := range headers {
		tpOpts = append(tpOpts, httptp.WithHeader(name, value))
	}
	transport := httptp.New(endpoint, tpOpts...)

	st := store.New(disk)
	f := fetcher.New(st, transport)
	defer f.Close()

	done := make(chan ready.State, 1)
	callback := func(s ready.State) {
		log.Printf("state: ready=%v done=%v stale=%v aborted=%v err=%v",
			s.Ready, s.Done, s.Stale, s.Aborted, s.Error)
		if s.Done || s.Aborted || s.Error != nil {
			select {
			case done <- s:
			default:
			}
		}
	}

	var exec *fetcher.Exec
	if force {
		exec = f.ForceFetch(context.Background(), set, callback)
	} else {
		exec = f.Run(context.Background(), set, callback)
	}

	var final ready.State
	select {
	case final = <-done:
	case <-time.After(fetchTimeout):
		exec.Abort()
		final = <-done
	}

	if cacheFile != "" {
		if err := st.SaveSnapshot(cacheFile); err != nil {
			return err
		}
		log.Printf("cache: wrote %d records to %s", st.Size(), cacheFile)
	}

	switch {
	case final.Error != nil:
		return fmt.Errorf("fetch failed: %w", final.Error)
	case final.Aborted:
		return fmt.Errorf("fetch aborted after %s", fetchTimeout)
	}
	return nil
}

func cmdDiff(args []string) error {
	cacheFile := ""
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cacheFile, "cache.file", cacheFile, "Record cache snapshot path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, diffUsage)
		return err
	}
	if cacheFile == "" {
		fmt.Fprint(os.Stderr, diffUsage)
		return fmt.Errorf("-cache.file is required")
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprint(os.Stderr, diffUsage)
		return fmt.Errorf("at least one query file is required")
	}

	set, err := loadQuerySet(files)
	if err != nil {
		return err
	}
	disk, err := store.LoadSnapshot(cacheFile)
	if err != nil {
		return err
	}

	for _, name := range set.Names() {
		q := set[name]
		residual := store.Diff(q, disk)
		if len(residual) == 0 {
			fmt.Printf("# %s: fully cached\n", name)
			continue
		}
		for _, r := range residual {
			fmt.Printf("# %s: missing\n%s", name, r.Text())
		}
	}
	return nil
}

// loadQuerySet parses each file and names its queries after the operation
// name, falling back to the file name for anonymous operations.
func loadQuerySet(files []string) (query.Set, error) {
	set := query.Set{}
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		doc, err := language.ParseQuery(string(src))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		for i, op := range doc.Operations {
			if op.Operation != language.Query {
				return nil, fmt.Errorf("%s: only query operations are fetchable", file)
			}
			name := op.Name
			if name == "" {
				name = fmt.Sprintf("%s#%d", file, i)
			}
			q, err := query.FromOperation(name, op, doc.Fragments)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			set[name] = q
		}
	}
	return set, nil
}
