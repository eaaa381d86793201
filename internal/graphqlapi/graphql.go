// Package graphqlapi exposes generation and artifact lookup over GraphQL.
package graphqlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"github.com/oremus-labs/imagegen-bridge/internal/bridgeerr"
	"github.com/oremus-labs/imagegen-bridge/internal/generation"
	"github.com/oremus-labs/imagegen-bridge/internal/store"
)

// Generator runs one generation.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Response, error)
}

// ArtifactLookup returns the most recently materialized artifact.
type ArtifactLookup interface {
	LatestArtifact(ctx context.Context) (*store.ArtifactRecord, error)
}

// Config wires the GraphQL schema.
type Config struct {
	Generator Generator
	Artifacts ArtifactLookup
	Version   string
}

// NewHandler returns an http.Handler that serves /graphql requests.
func NewHandler(cfg Config) (http.Handler, error) {
	schema, err := NewSchema(cfg)
	if err != nil {
		return nil, err
	}

	return handler.New(&handler.Config{
		Schema:   schema,
		Pretty:   true,
		GraphiQL: true,
	}), nil
}

// NewSchema builds the schema without the HTTP transport.
func NewSchema(cfg Config) (*graphql.Schema, error) {
	builder := schemaBuilder{cfg: cfg}
	return builder.buildSchema()
}

type schemaBuilder struct {
	cfg Config
}

func (b schemaBuilder) buildSchema() (*graphql.Schema, error) {
	artifactType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Artifact",
		Fields: graphql.Fields{
			"ref":         {Type: graphql.NewNonNull(graphql.String)},
			"sourceUrl":   {Type: graphql.String},
			"contentType": {Type: graphql.String},
			"size":        {Type: graphql.Int},
			"normalized":  {Type: graphql.Boolean},
			"prompt":      {Type: graphql.String},
			"updatedAt":   {Type: graphql.String},
		},
	})

	generationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Generation",
		Fields: graphql.Fields{
			"url":           {Type: graphql.NewNonNull(graphql.String)},
			"urls":          {Type: graphql.NewList(graphql.String)},
			"source":        {Type: graphql.String},
			"nodeId":        {Type: graphql.String},
			"artifact":      {Type: artifactType},
			"artifactError": {Type: graphql.String},
		},
	})

	queryFields := graphql.Fields{
		"version": {
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return b.cfg.Version, nil
			},
		},
		"latestArtifact": {
			Type: artifactType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Artifacts == nil {
					return nil, nil
				}
				rec, err := b.cfg.Artifacts.LatestArtifact(p.Context)
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				return mapArtifactRecord(rec), nil
			},
		},
	}

	mutationFields := graphql.Fields{
		"generate": {
			Type: generationType,
			Args: graphql.FieldConfigArgument{
				"prompt":      {Type: graphql.NewNonNull(graphql.String)},
				"materialize": {Type: graphql.Boolean},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Generator == nil {
					return nil, errors.New("generation unavailable")
				}
				req := generation.Request{}
				req.Prompt, _ = p.Args["prompt"].(string)
				if m, ok := p.Args["materialize"].(bool); ok {
					req.Materialize = &m
				}
				resp, err := b.cfg.Generator.Generate(p.Context, req)
				if err != nil {
					return nil, publicError(err)
				}
				return mapResponse(resp), nil
			},
		},
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: mutationFields,
		}),
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// publicError prefixes the failure kind so clients can branch on it without
// parsing free text.
func publicError(err error) error {
	if kind := bridgeerr.KindOf(err); kind != "" {
		return fmt.Errorf("[%s] %w", kind, err)
	}
	return err
}

func mapResponse(resp *generation.Response) map[string]interface{} {
	if resp == nil {
		return nil
	}
	out := map[string]interface{}{
		"url":           resp.URL,
		"urls":          resp.URLs,
		"source":        resp.Source,
		"nodeId":        resp.NodeID,
		"artifactError": resp.ArtifactError,
	}
	if a := resp.Artifact; a != nil {
		out["artifact"] = map[string]interface{}{
			"ref":         a.Ref,
			"sourceUrl":   a.SourceURL,
			"contentType": a.ContentType,
			"size":        a.Size,
			"normalized":  a.Normalized,
			"updatedAt":   a.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func mapArtifactRecord(rec *store.ArtifactRecord) map[string]interface{} {
	if rec == nil {
		return nil
	}
	return map[string]interface{}{
		"ref":         rec.Ref,
		"sourceUrl":   rec.SourceURL,
		"contentType": rec.ContentType,
		"size":        rec.Size,
		"normalized":  rec.Normalized,
		"prompt":      rec.Prompt,
		"updatedAt":   rec.UpdatedAt.Format(time.RFC3339),
	}
}

// EncodeGraphQLQuery is a helper for GraphQL testing (JSON request bodies).
func EncodeGraphQLQuery(query string) string {
	query = strings.TrimSpace(query)
	data, _ := json.Marshal(map[string]string{"query": query})
	return string(data)
}
