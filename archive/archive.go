// Package archive writes a normalized parquet snapshot of each
// successfully parsed upload, so parsed catalog data stays queryable after
// the raw file leaves the uploaded prefix. Archiving is best effort and
// never influences how the source object is routed.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/baldanca/catalog-ingestor/objectstore"
)

const contentType = "application/vnd.apache.parquet"

// Record is the flat row schema of a snapshot. Values are kept as received
// from the upload; semantic validation happens downstream.
type Record struct {
	ID          string `parquet:"id,optional"`
	Category    string `parquet:"category,optional"`
	Title       string `parquet:"title"`
	Description string `parquet:"description,optional"`
	Price       string `parquet:"price,optional"`
	Count       string `parquet:"count,optional"`
	ImageURL    string `parquet:"imageURL,optional"`
}

type Archiver struct {
	store  *objectstore.Store
	prefix string

	// Compression (optional): "", "snappy", "gzip", "zstd"
	Compression string

	log zerolog.Logger
}

func New(store *objectstore.Store, prefix string, log zerolog.Logger) *Archiver {
	if store == nil {
		panic("object store is required")
	}
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{store: store, prefix: prefix, Compression: "snappy", log: log}
}

// Snapshot encodes the rows of one parsed file and puts them under the
// archive prefix. The returned key names the written object.
func (a *Archiver) Snapshot(ctx context.Context, sourceKey string, rows []map[string]string) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			ID:          row["id"],
			Category:    row["category"],
			Title:       row["title"],
			Description: row["description"],
			Price:       row["price"],
			Count:       row["count"],
			ImageURL:    row["imageURL"],
		})
	}

	data, err := a.encode(ctx, records)
	if err != nil {
		return "", err
	}

	key, err := objectstore.UniqueKey(sourceKey, a.prefix, time.Now())
	if err != nil {
		return "", err
	}
	key += ".parquet"

	if err := a.store.Put(ctx, key, contentType, data); err != nil {
		return "", err
	}
	a.log.Debug().Str("key", key).Int("rows", len(records)).Msg("snapshot archived")
	return key, nil
}

func (a *Archiver) encode(ctx context.Context, records []Record) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := make([]parquet.WriterOption, 0, 1)
	switch a.Compression {
	case "":
		// no compression
	case "snappy":
		options = append(options, parquet.Compression(&parquet.Snappy))
	case "gzip":
		options = append(options, parquet.Compression(&parquet.Gzip))
	case "zstd":
		options = append(options, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", a.Compression)
	}

	output := &bytes.Buffer{}
	w := parquet.NewGenericWriter[Record](output, options...)

	if _, err := w.Write(records); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}
