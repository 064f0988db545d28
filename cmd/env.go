package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/matchguard/internal/corpus"
	"github.com/sells-group/matchguard/internal/crossval"
	"github.com/sells-group/matchguard/internal/model"
	"github.com/sells-group/matchguard/internal/monitoring"
	"github.com/sells-group/matchguard/internal/pipeline"
	"github.com/sells-group/matchguard/internal/registry"
	"github.com/sells-group/matchguard/internal/sink"
	"github.com/sells-group/matchguard/internal/store"
	"github.com/sells-group/matchguard/pkg/notion"
)

// pipelineEnv holds the store, sink, registry and pipeline needed by the
// validate and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Sink     sink.Sink
	Pipeline *pipeline.Pipeline
	Registry *registry.Registry // may be nil
	Notion   notion.Client      // may be nil
	Metrics  *sdkmetric.ManualReader

	metrics *monitoring.Provider
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	var err error
	if pe.metrics != nil {
		err = multierr.Append(err, pe.metrics.Shutdown(context.Background()))
	}
	if c, ok := pe.Sink.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if pe.Store != nil {
		err = multierr.Append(err, pe.Store.Close())
	}
	if err != nil {
		zap.L().Warn("close pipeline environment", zap.Error(err))
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "matchguard.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initNotion returns a Notion client, or nil when no token is configured.
func initNotion() notion.Client {
	if cfg.Notion.Token == "" {
		return nil
	}
	return notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RatePerSecond))
}

// initRegistry loads the entity registry from location. An empty location,
// or "notion", reads the configured Notion entity database.
func initRegistry(ctx context.Context, client notion.Client, location string) (*registry.Registry, error) {
	if location != "" && location != "notion" {
		return registry.Load(ctx, nil, location)
	}
	if client == nil || cfg.Notion.EntityDB == "" {
		return nil, eris.New("no entity registry: pass --registry or set notion.token and notion.entity_db")
	}
	return registry.LoadFromNotion(ctx, client, cfg.Notion.EntityDB)
}

// initPipeline sets up the store, sink, corroborator and metrics, loads the
// registry and builds the Pipeline. A registry load failure is fatal only
// when requireRegistry is set. Callers should defer env.Close().
func initPipeline(ctx context.Context, registryLocation string, requireRegistry bool) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env := &pipelineEnv{Notion: initNotion()}

	reg, err := initRegistry(ctx, env.Notion, registryLocation)
	switch {
	case err == nil:
		env.Registry = reg
		zap.L().Info("entity registry loaded", zap.Int("entities", reg.Len()))
	case requireRegistry:
		return nil, err
	default:
		zap.L().Warn("starting without entity registry", zap.Error(err))
	}

	if cfg.Sink.Kind != "memory" && cfg.Sink.Kind != "jsonl" {
		st, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}

	snk, err := sink.New(cfg.Sink, env.Store)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Sink = snk

	corroborator, err := crossval.New(cfg.CrossValidation)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.metrics, err = monitoring.NewProvider(ctx, cfg.Monitoring)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Metrics = env.metrics.Reader
	instruments, err := monitoring.NewInstruments(env.metrics.MeterProvider)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init instruments")
	}

	env.Pipeline = pipeline.New(cfg,
		pipeline.WithSink(snk),
		pipeline.WithCorroborator(corroborator),
		pipeline.WithInstruments(instruments),
	)
	return env, nil
}

// statsInput is the optional statistical side input of a run: scalar
// observations, distributions and structured records.
type statsInput struct {
	Observations  []model.Observation       `json:"observations"`
	Distributions map[string][]model.Sample `json:"distributions"`
	Records       []model.StructuredRecord  `json:"records"`
	InputSizeGB   float64                   `json:"input_size_gb"`
}

// readStats decodes a statsInput JSON file. An empty path yields an empty
// input.
func readStats(path string) (*statsInput, error) {
	var in statsInput
	if path == "" {
		return &in, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open stats file")
	}
	defer f.Close() //nolint:errcheck
	if err := json.NewDecoder(f).Decode(&in); err != nil {
		return nil, eris.Wrapf(err, "decode stats file %s", path)
	}
	return &in, nil
}

// loadCorpus reads the documents at location with the configured size cap.
func loadCorpus(ctx context.Context, location string) ([]model.Document, error) {
	return corpus.Load(ctx, location, corpus.Options{
		MaxDocumentBytes: int64(cfg.Extraction.MaxDocumentBytes),
	})
}
