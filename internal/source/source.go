// Package source fetches serialized search indexes from where the
// documentation build published them: the local filesystem, an
// S3-compatible bucket, or a PostgreSQL table. Payloads may be gzip or
// zstd compressed.
package source

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searchindex/format"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

// DefaultTable holds published index payloads for postgres sources.
const DefaultTable = "doc_search_indexes"

// Source yields the raw bytes of one site's index.
type Source interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// File reads an index from the local filesystem.
type File struct {
	Path string
}

func (f File) Fetch(ctx context.Context) (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFoundf("index file %s", f.Path)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", apperrors.ErrSourceUnavailable, f.Path, err)
	}
	return fh, nil
}

func (f File) String() string { return "file://" + f.Path }

// ObjectStore reads an index object from an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	key    string
}

func NewObjectStore(client *minio.Client, bucket, key string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, key: key}
}

func (o *ObjectStore) Fetch(ctx context.Context) (io.ReadCloser, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, o.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, o.classify(err)
	}
	// GetObject is lazy; Stat surfaces a missing key or bad credentials.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, o.classify(err)
	}
	return obj, nil
}

func (o *ObjectStore) classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.Code == "NotFound" {
		return apperrors.NotFoundf("object %s", o)
	}
	return fmt.Errorf("%w: reading %s: %v", apperrors.ErrSourceUnavailable, o, err)
}

func (o *ObjectStore) String() string { return "s3://" + o.bucket + "/" + o.key }

// Postgres reads the most recently built payload for a site from a table
// with columns (id bigserial, site text, payload bytea, built_at timestamptz).
type Postgres struct {
	client *postgres.Client
	table  string
	site   string
}

func NewPostgres(client *postgres.Client, table, site string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{client: client, table: table, site: site}
}

func (p *Postgres) query() string {
	return fmt.Sprintf(
		"SELECT payload FROM %s WHERE site = $1 ORDER BY built_at DESC, id DESC LIMIT 1",
		pq.QuoteIdentifier(p.table),
	)
}

func (p *Postgres) Fetch(ctx context.Context) (io.ReadCloser, error) {
	var payload []byte
	err := p.client.DB.QueryRowContext(ctx, p.query(), p.site).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("no published index for site %q in %s", p.site, p.table)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", apperrors.ErrSourceUnavailable, p, err)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (p *Postgres) String() string { return "postgres://" + p.table + "?site=" + p.site }

// Factory builds Sources from site configuration. The object store client
// is created on first use.
type Factory struct {
	objectStore config.ObjectStoreConfig
	db          *postgres.Client

	once     sync.Once
	minio    *minio.Client
	minioErr error
}

// NewFactory returns a Factory. db may be nil when no site uses postgres.
func NewFactory(objectStore config.ObjectStoreConfig, db *postgres.Client) *Factory {
	return &Factory{objectStore: objectStore, db: db}
}

func (f *Factory) For(site config.SiteConfig) (Source, error) {
	switch site.Source.Kind {
	case "file":
		return File{Path: site.Source.Path}, nil
	case "s3":
		client, err := f.minioClient()
		if err != nil {
			return nil, err
		}
		return NewObjectStore(client, site.Source.Bucket, site.Source.Key), nil
	case "postgres":
		if f.db == nil {
			return nil, fmt.Errorf("site %q: postgres source configured but no database connection", site.Name)
		}
		return NewPostgres(f.db, site.Source.Table, site.Name), nil
	default:
		return nil, fmt.Errorf("site %q: %w: unknown source kind %q", site.Name, apperrors.ErrInvalidInput, site.Source.Kind)
	}
}

func (f *Factory) minioClient() (*minio.Client, error) {
	f.once.Do(func() {
		f.minio, f.minioErr = minio.New(f.objectStore.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(f.objectStore.AccessKey, f.objectStore.SecretKey, ""),
			Secure: f.objectStore.UseSSL,
			Region: f.objectStore.Region,
		})
	})
	if f.minioErr != nil {
		return nil, fmt.Errorf("creating object store client: %w", f.minioErr)
	}
	return f.minio, nil
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decompress sniffs r for a gzip or zstd header and returns a reader over
// the decompressed bytes; uncompressed input is passed through.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("peeking payload header: %w", err)
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, apperrors.Formatf("gzip header: %v", err)
		}
		return zr, nil
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, apperrors.Formatf("zstd header: %v", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(br), nil
	}
}

// Read fetches, decompresses and decodes src, retrying transient fetch
// failures. Missing indexes and malformed payloads are not retried.
func Read(ctx context.Context, src Source, retry resilience.RetryConfig) (*format.RawIndex, error) {
	var raw *format.RawIndex
	err := resilience.Retry(ctx, "fetch "+src.String(), retry, func() error {
		rc, err := src.Fetch(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return resilience.Permanent(err)
			}
			return err
		}
		defer rc.Close()
		body, err := Decompress(rc)
		if err != nil {
			return resilience.Permanent(err)
		}
		defer body.Close()
		decoded, err := format.Decode(body)
		if err != nil {
			if errors.Is(err, apperrors.ErrFormat) {
				return resilience.Permanent(err)
			}
			return err
		}
		raw = decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading index from %s: %w", src, err)
	}
	return raw, nil
}
