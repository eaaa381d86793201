// Package app wires configuration into a running bridge. The server binary
// and the CLI share it so both resolve generations the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oremus-labs/imagegen-bridge/config"
	"github.com/oremus-labs/imagegen-bridge/internal/api"
	"github.com/oremus-labs/imagegen-bridge/internal/artifact"
	"github.com/oremus-labs/imagegen-bridge/internal/events"
	"github.com/oremus-labs/imagegen-bridge/internal/generation"
	"github.com/oremus-labs/imagegen-bridge/internal/graphqlapi"
	"github.com/oremus-labs/imagegen-bridge/internal/handlers"
	"github.com/oremus-labs/imagegen-bridge/internal/poll"
	"github.com/oremus-labs/imagegen-bridge/internal/redisx"
	"github.com/oremus-labs/imagegen-bridge/internal/resolver"
	"github.com/oremus-labs/imagegen-bridge/internal/store"
	"github.com/oremus-labs/imagegen-bridge/internal/upstream"
)

// Version is reported by /healthz and the CLI.
const Version = "1.0.0"

// App holds the long-lived collaborators built from a Config.
type App struct {
	Config   *config.Config
	Service  *generation.Service
	Upstream *upstream.Client
	Bus      *events.Bus
	Store    *store.Store

	redis redis.UniversalClient
}

// New validates cfg and builds every collaborator. Close releases them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = rdb
	a.Bus = events.NewBus(events.Options{
		Client:  rdb,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	if cfg.DataStoreDriver != "none" {
		a.Store, err = store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
		if err != nil {
			return nil, fmt.Errorf("init datastore: %w", err)
		}
	}

	a.Upstream = upstream.New(upstream.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Credentials: upstream.Credentials{
			Cookie:   cfg.Upstream.Cookie,
			XMSToken: cfg.Upstream.XMSToken,
			DeviceID: cfg.Upstream.DeviceID,
			TeaUUID:  cfg.Upstream.TeaUUID,
			WebID:    cfg.Upstream.WebID,
			MSToken:  cfg.Upstream.MSToken,
			ABogus:   cfg.Upstream.ABogus,
			RoomID:   cfg.Upstream.RoomID,
		},
		UserAgent:      cfg.Upstream.UserAgent,
		RequestTimeout: cfg.RequestTimeout,
	})

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	materializer, err := artifact.New(artifact.Options{
		Fetcher: a.Upstream,
		Storage: storage,
		Name:    cfg.ArtifactName,
	})
	if err != nil {
		return nil, err
	}

	opts := generation.Options{
		Submitter: a.Upstream,
		Engine:    resolver.New(),
		Poller: poll.New(poll.Options{
			Fetcher: a.Upstream,
			Schedule: poll.Schedule{
				MaxAttempts: cfg.PollMaxAttempts,
				Delay:       cfg.PollInterval,
				Sleeper:     poll.TimerSleeper,
			},
		}),
		Materializer:         materializer,
		Events:               a.Bus,
		MaterializeByDefault: cfg.Materialize,
	}
	// Assigned separately so a nil *store.Store never becomes a non-nil
	// interface.
	if a.Store != nil {
		opts.Recorder = a.Store
	}
	a.Service, err = generation.NewService(opts)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (artifact.Storage, error) {
	if cfg.ArtifactBucket == "" {
		fs, err := artifact.NewFileStore(cfg.PublicDir, "/")
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return artifact.NewS3Store(awsCfg, cfg.ArtifactBucket, cfg.ArtifactPrefix, cfg.AWSEndpointURL), nil
}

// Handler builds the HTTP handler set.
func (a *App) Handler() *handlers.Handler {
	opts := handlers.Options{Events: a.Bus, Version: Version}
	if a.Store != nil {
		opts.Artifacts = a.Store
	}
	return handlers.New(a.Service, opts)
}

// GraphQLHandler builds the /graphql endpoint over the same collaborators.
func (a *App) GraphQLHandler() (http.Handler, error) {
	cfg := graphqlapi.Config{Generator: a.Service, Version: Version}
	if a.Store != nil {
		cfg.Artifacts = a.Store
	}
	return graphqlapi.NewHandler(cfg)
}

// Serve runs the HTTP server until ctx is cancelled or the listener fails,
// then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	gql, err := a.GraphQLHandler()
	if err != nil {
		return fmt.Errorf("build graphql schema: %w", err)
	}
	server := api.NewServer(a.Handler(), api.Options{
		PublicDir:    a.Config.PublicDir,
		ArtifactName: a.Config.ArtifactName,
		GraphQL:      gql,
	})

	addr := ":" + a.Config.ServerPort
	srv, errCh := server.Start(addr)
	log.Printf("Image generation bridge v%s listening on %s (upstream %s, materialize=%t)",
		Version, addr, a.Config.Upstream.BaseURL, a.Config.Materialize)

	select {
	case err, open := <-errCh:
		if open && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	} else if err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
	return nil
}

// Close releases collaborators in reverse construction order.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Failed to close datastore: %v", err)
		}
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Failed to close redis: %v", err)
		}
	}
}

// Run loads configuration, builds the bridge and serves until ctx ends.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

// LoadConfig loads configuration and reports which overlay file was used.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		log.Printf("Configuration overlay loaded from %s", cfg.ConfigFile)
	}
	return cfg, nil
}
