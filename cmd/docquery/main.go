// Command docquery inspects and publishes documentation search indexes
// from the command line.
//
// Usage:
//
//	docquery search  -index build/html/searchindex.js [-mode and|or] [-limit 10] [-json] bezier simplex
//	docquery objects -index build/html/searchindex.js torch_bsf.bezier
//	docquery doc     -index build/html/searchindex.js 3
//	docquery stats   -index build/html/searchindex.js
//	docquery dump    -index build/html/searchindex.js [-json] [-encoding gzip]
//	docquery publish -config configs/development.yaml -site torch-bsf -index build/html/searchindex.js
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/format"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

const usage = `usage: docquery <command> [flags] [args]

commands:
  search   rank documents for a query
  objects  look up API objects by dotted name
  doc      print one document by index
  stats    summarise an index
  dump     re-encode an index to stdout
  publish  upload an index build for a configured site
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "docquery: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "search":
		return runSearch(ctx, rest, out)
	case "objects":
		return runObjects(ctx, rest, out)
	case "doc":
		return runDoc(ctx, rest, out)
	case "stats":
		return runStats(ctx, rest, out)
	case "dump":
		return runDump(ctx, rest, out)
	case "publish":
		return runPublish(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	index := fs.String("index", "searchindex.js", "path to the search index (optionally gzip or zstd compressed)")
	return fs, index
}

func openStore(ctx context.Context, path string, opts ...store.Option) (*store.Store, error) {
	raw, err := source.Read(ctx, source.File{Path: path}, resilience.RetryConfig{MaxAttempts: 1})
	if err != nil {
		return nil, err
	}
	return store.Load(raw, opts...)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSearch(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("search", out)
	mode := fs.String("mode", "and", "match mode for queries that name none: and, or")
	limit := fs.Int("limit", 10, "maximum results to print (0 for all)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	matchMode := parser.ParseQueryType(*mode)
	if matchMode == parser.QueryDefault {
		return fmt.Errorf("%w: -mode must be and or or", errUsage)
	}
	s, err := openStore(ctx, *index, store.WithMatchMode(matchMode))
	if err != nil {
		return err
	}

	query := strings.Join(fs.Args(), " ")
	ranked, total := s.Rank(parser.Parse(query), *limit)
	results := make([]store.Result, 0, len(ranked))
	for _, r := range ranked {
		doc, err := s.Document(r.DocID)
		if err != nil {
			return err
		}
		results = append(results, store.Result{Document: doc, Score: r.Score})
	}
	if *asJSON {
		return writeJSON(out, map[string]any{"query": query, "total_hits": total, "results": results})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%d of %d matches for %q\n", len(results), total, query)
	for _, r := range results {
		fmt.Fprintf(tw, "%g\t%d\t%s\t%s\n", r.Score, r.ID, r.Path, r.Title)
	}
	return tw.Flush()
}

func runObjects(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("objects", out)
	limit := fs.Int("limit", 10, "maximum results to print (0 for all)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openStore(ctx, *index)
	if err != nil {
		return err
	}
	var results []store.ObjectResult
	for r := range s.SearchObjects(strings.Join(fs.Args(), " ")) {
		if *limit > 0 && len(results) == *limit {
			break
		}
		results = append(results, r)
	}
	if *asJSON {
		if results == nil {
			results = []store.ObjectResult{}
		}
		return writeJSON(out, results)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%g\t%s\t%s\t%s.html#%s\n", r.Score, r.Name, r.Kind, r.Document.Path, r.Anchor)
	}
	return tw.Flush()
}

func runDoc(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("doc", out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: doc takes exactly one document index", errUsage)
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("%w: document index %q is not an integer", errUsage, fs.Arg(0))
	}
	s, err := openStore(ctx, *index)
	if err != nil {
		return err
	}
	doc, err := s.Document(id)
	if err != nil {
		return err
	}
	return writeJSON(out, doc)
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("stats", out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openStore(ctx, *index)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"stats":       s.Stats(),
		"env_version": s.EnvVersion(),
	})
}

func runDump(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("dump", out)
	asJSON := fs.Bool("json", false, "write plain JSON instead of the Search.setIndex(...) script")
	encoding := fs.String("encoding", "none", "compress output: none, gzip, zstd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openStore(ctx, *index)
	if err != nil {
		return err
	}
	style := format.StyleScript
	if *asJSON {
		style = format.StyleJSON
	}
	payload, err := encodeIndex(s, style, *encoding)
	if err != nil {
		return err
	}
	_, err = out.Write(payload)
	return err
}

// encodeIndex serialises a validated store and compresses the result.
func encodeIndex(s *store.Store, style format.Style, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	if err := format.Encode(&buf, s.Raw(), style); err != nil {
		return nil, err
	}
	return source.Compress(buf.Bytes(), encoding)
}

func runPublish(ctx context.Context, args []string, out io.Writer) error {
	fs, index := newFlagSet("publish", out)
	configPath := fs.String("config", "configs/development.yaml", "path to config file")
	siteName := fs.String("site", "", "configured site to publish")
	encoding := fs.String("encoding", "gzip", "compress the payload: none, gzip, zstd")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	site, ok := findSite(cfg.Sites, *siteName)
	if !ok {
		return fmt.Errorf("%w: site %q is not configured in %s", errUsage, *siteName, *configPath)
	}

	// Validate before anything is uploaded; a broken build never replaces a
	// good one.
	s, err := openStore(ctx, *index)
	if err != nil {
		return fmt.Errorf("validating %s: %w", *index, err)
	}
	payload, err := encodeIndex(s, format.StyleScript, *encoding)
	if err != nil {
		return err
	}

	var db *postgres.Client
	if site.Source.Kind == "postgres" {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
	}
	sink, err := source.NewFactory(cfg.ObjectStore, db).SinkFor(site)
	if err != nil {
		return err
	}
	if err := sink.Publish(ctx, payload); err != nil {
		return err
	}

	event := analytics.IndexPublishedEvent{
		Site:        site.Name,
		BuildID:     uuid.NewString(),
		PublishedAt: time.Now().UTC(),
	}
	slog.Info("index published",
		"site", site.Name,
		"target", fmt.Sprint(sink),
		"build_id", event.BuildID,
		"bytes", len(payload),
		"documents", s.Len(),
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
		defer producer.Close()
		if event, err = analytics.AnnounceIndex(ctx, producer, event); err != nil {
			return fmt.Errorf("announcing build %s: %w", event.BuildID, err)
		}
	}
	return writeJSON(out, event)
}

func findSite(sites []config.SiteConfig, name string) (config.SiteConfig, bool) {
	for _, site := range sites {
		if site.Name == name {
			return site, true
		}
	}
	return config.SiteConfig{}, false
}
