// Package artifact downloads a resolved image, normalizes it and writes it
// to a storage backend.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oremus-labs/imagegen-bridge/internal/logutil"
	"github.com/oremus-labs/imagegen-bridge/internal/metrics"
)

// DefaultName is the artifact file name used when none is configured.
const DefaultName = "pic.png"

// Fetcher downloads image bytes.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Artifact describes one materialized image.
type Artifact struct {
	Ref         string    `json:"ref"`
	SourceURL   string    `json:"sourceUrl"`
	ContentType string    `json:"contentType"`
	Size        int       `json:"size"`
	Normalized  bool      `json:"normalized"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Options configure a Materializer.
type Options struct {
	Fetcher Fetcher
	Codec   Codec
	Storage Storage
	Name    string
}

// Materializer is stateless between calls; concurrent calls targeting the
// same name are last-writer-wins.
type Materializer struct {
	fetcher Fetcher
	codec   Codec
	storage Storage
	name    string
}

// New returns a Materializer. A nil Codec selects PNGCodec.
func New(opts Options) (*Materializer, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("artifact fetcher is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("artifact storage is required")
	}
	codec := opts.Codec
	if codec == nil {
		codec = PNGCodec{}
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	return &Materializer{fetcher: opts.Fetcher, codec: codec, storage: opts.Storage, name: name}, nil
}

// Materialize downloads url and stores it. When the codec rejects the bytes
// the original payload is stored unchanged; only download and write failures
// are returned.
func (m *Materializer) Materialize(ctx context.Context, url string) (*Artifact, error) {
	data, contentType, err := m.fetcher.Download(ctx, url)
	if err != nil {
		return nil, err
	}

	out := data
	normalized := false
	if converted, err := m.codec.Normalize(data); err != nil {
		logutil.Warn("artifact_codec_fallback", map[string]interface{}{
			"url":   url,
			"bytes": len(data),
			"error": err.Error(),
		})
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
	} else {
		out = converted
		normalized = true
		contentType = m.codec.ContentType()
	}

	ref, err := m.storage.Put(ctx, m.name, out, contentType)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	mode := "raw"
	if normalized {
		mode = "normalized"
	}
	metrics.ObserveMaterialize(mode)
	logutil.Info("artifact_materialized", map[string]interface{}{
		"ref":        ref,
		"bytes":      len(out),
		"normalized": normalized,
	})
	return &Artifact{
		Ref:         ref,
		SourceURL:   url,
		ContentType: contentType,
		Size:        len(out),
		Normalized:  normalized,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
