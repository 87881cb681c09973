package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

const payload = `Search.setIndex({docnames:["index","whatis"],titles:["Welcome","What is it?"],terms:{simplex:[0,1]},envversion:{sphinx:56}})`

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func gzipped(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data string) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll([]byte(data), nil)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadFileInEveryEncoding(t *testing.T) {
	files := map[string][]byte{
		"searchindex.js":     []byte(payload),
		"searchindex.js.gz":  gzipped(t, payload),
		"searchindex.js.zst": zstded(t, payload),
	}
	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			raw, err := Read(context.Background(), File{Path: writeFile(t, name, data)}, fastRetry)
			require.NoError(t, err)
			assert.Equal(t, []string{"index", "whatis"}, raw.DocNames)
			assert.Equal(t, 56, raw.EnvVersion["sphinx"])
		})
	}
}

func TestReadMissingFileIsNotRetried(t *testing.T) {
	src := &countingSource{err: apperrors.NotFoundf("index file gone")}
	_, err := Read(context.Background(), src, fastRetry)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, src.calls)

	_, err = File{Path: filepath.Join(t.TempDir(), "absent.js")}.Fetch(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReadMalformedIsNotRetried(t *testing.T) {
	src := &countingSource{data: "Search.setIndex({docnames:["}
	_, err := Read(context.Background(), src, fastRetry)
	assert.ErrorIs(t, err, apperrors.ErrFormat)
	assert.Equal(t, 1, src.calls)
}

func TestReadRetriesTransientFailures(t *testing.T) {
	src := &countingSource{data: payload, failFirst: 2}
	raw, err := Read(context.Background(), src, fastRetry)
	require.NoError(t, err)
	assert.Len(t, raw.Titles, 2)
	assert.Equal(t, 3, src.calls)
}

func TestDecompressPassesThroughShortInput(t *testing.T) {
	rc, err := Decompress(strings.NewReader("{"))
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{", string(got))
}

func TestDecompressRejectsBrokenGzip(t *testing.T) {
	_, err := Decompress(bytes.NewReader([]byte{0x1f, 0x8b, 0x00}))
	assert.ErrorIs(t, err, apperrors.ErrFormat)
}

func TestFactoryRoutesByKind(t *testing.T) {
	f := NewFactory(config.ObjectStoreConfig{Endpoint: "localhost:9000"}, nil)

	src, err := f.For(config.SiteConfig{Name: "docs", Source: config.SourceConfig{Kind: "file", Path: "/srv/searchindex.js"}})
	require.NoError(t, err)
	assert.Equal(t, "file:///srv/searchindex.js", src.String())

	src, err = f.For(config.SiteConfig{Name: "docs", Source: config.SourceConfig{Kind: "s3", Bucket: "docs", Key: "torch-bsf/searchindex.js.gz"}})
	require.NoError(t, err)
	assert.Equal(t, "s3://docs/torch-bsf/searchindex.js.gz", src.String())

	_, err = f.For(config.SiteConfig{Name: "docs", Source: config.SourceConfig{Kind: "postgres"}})
	assert.Error(t, err)

	_, err = f.For(config.SiteConfig{Name: "docs", Source: config.SourceConfig{Kind: "ftp"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPostgresQueryQuotesTable(t *testing.T) {
	p := NewPostgres(nil, "", "torch-bsf")
	assert.Equal(t, `SELECT payload FROM "doc_search_indexes" WHERE site = $1 ORDER BY built_at DESC, id DESC LIMIT 1`, p.query())
	assert.Equal(t, "postgres://doc_search_indexes?site=torch-bsf", p.String())
}

type countingSource struct {
	data      string
	err       error
	failFirst int
	calls     int
}

func (c *countingSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.calls <= c.failFirst {
		return nil, errors.New("connection reset by peer")
	}
	return io.NopCloser(strings.NewReader(c.data)), nil
}

func (c *countingSource) String() string { return "memory://test" }

func TestFilePublishThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchindex.js.zst")
	packed, err := Compress([]byte(payload), "zstd")
	require.NoError(t, err)

	f := NewFactory(config.ObjectStoreConfig{}, nil)
	sink, err := f.SinkFor(config.SiteConfig{Name: "docs", Source: config.SourceConfig{Kind: "file", Path: path}})
	require.NoError(t, err)
	require.NoError(t, sink.Publish(context.Background(), packed))

	raw, err := Read(context.Background(), File{Path: path}, fastRetry)
	require.NoError(t, err)
	assert.Equal(t, []string{"Welcome", "What is it?"}, raw.Titles)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is cleaned up")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestCompressRoundTrip(t *testing.T) {
	for _, enc := range []string{"", "none", "gzip", "zstd"} {
		packed, err := Compress([]byte(payload), enc)
		require.NoError(t, err, enc)
		rc, err := Decompress(bytes.NewReader(packed))
		require.NoError(t, err, enc)
		got, err := io.ReadAll(rc)
		require.NoError(t, err, enc)
		assert.Equal(t, payload, string(got), enc)
	}
	_, err := Compress([]byte(payload), "brotli")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPostgresPublishStatements(t *testing.T) {
	p := NewPostgres(nil, "builds", "docs")
	assert.Equal(t, `INSERT INTO "builds" (site, payload, built_at) VALUES ($1, $2, NOW())`, p.insertStmt())
	assert.Contains(t, p.pruneStmt(), `DELETE FROM "builds" WHERE site = $1`)
	assert.Contains(t, p.Schema(), `CREATE TABLE IF NOT EXISTS "builds"`)
	assert.Equal(t, "application/gzip", contentType("docs/searchindex.js.gz"))
	assert.Equal(t, "application/javascript", contentType("docs/searchindex.js"))
}
