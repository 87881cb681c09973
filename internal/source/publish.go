package source

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/lib/pq"
	"github.com/minio/minio-go/v7"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// keepBuilds is how many builds per site a postgres sink retains.
const keepBuilds = 5

// Sink stores a new index build where the matching Source will find it.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
	String() string
}

// publishedMode keeps builds readable by a docsearch process running as
// another user.
const publishedMode = 0o644

// Publish replaces the file atomically so a concurrent Fetch never reads a
// partial payload.
func (f File) Publish(ctx context.Context, payload []byte) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".searchindex-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(publishedMode); err != nil {
		tmp.Close()
		return fmt.Errorf("setting mode on %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.Path, err)
	}
	return nil
}

func (o *ObjectStore) Publish(ctx context.Context, payload []byte) error {
	_, err := o.client.PutObject(ctx, o.bucket, o.key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType(o.key)})
	if err != nil {
		return fmt.Errorf("%w: writing %s: %v", apperrors.ErrSourceUnavailable, o, err)
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/javascript"
	}
}

// Schema creates the table postgres sources read from.
func (p *Postgres) Schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id       BIGSERIAL PRIMARY KEY,
    site     TEXT NOT NULL,
    payload  BYTEA NOT NULL,
    built_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, pq.QuoteIdentifier(p.table))
}

func (p *Postgres) insertStmt() string {
	return fmt.Sprintf("INSERT INTO %s (site, payload, built_at) VALUES ($1, $2, NOW())", pq.QuoteIdentifier(p.table))
}

func (p *Postgres) pruneStmt() string {
	table := pq.QuoteIdentifier(p.table)
	return fmt.Sprintf(
		"DELETE FROM %s WHERE site = $1 AND id NOT IN (SELECT id FROM %s WHERE site = $1 ORDER BY built_at DESC, id DESC LIMIT $2)",
		table, table,
	)
}

// Publish stores payload as the newest build of the site and drops builds
// beyond the retention window in the same transaction.
func (p *Postgres) Publish(ctx context.Context, payload []byte) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, p.Schema()); err != nil {
			return fmt.Errorf("ensuring %s: %w", p.table, err)
		}
		if _, err := tx.ExecContext(ctx, p.insertStmt(), p.site, payload); err != nil {
			return fmt.Errorf("inserting build for %s: %w", p.site, err)
		}
		if _, err := tx.ExecContext(ctx, p.pruneStmt(), p.site, keepBuilds); err != nil {
			return fmt.Errorf("pruning builds for %s: %w", p.site, err)
		}
		return nil
	})
}

// SinkFor returns where a new build of site should be written.
func (f *Factory) SinkFor(site config.SiteConfig) (Sink, error) {
	src, err := f.For(site)
	if err != nil {
		return nil, err
	}
	sink, ok := src.(Sink)
	if !ok {
		return nil, fmt.Errorf("site %q: source %s cannot be published to", site.Name, src)
	}
	return sink, nil
}

// Compress encodes payload as "gzip", "zstd", or leaves it as is for "" and
// "none". Decompress reverses it.
func Compress(payload []byte, encoding string) ([]byte, error) {
	switch encoding {
	case "", "none":
		return payload, nil
	case "gzip":
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return buf.Bytes(), nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(payload, nil), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown encoding %q", encoding)
	}
}
