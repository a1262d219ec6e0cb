// Command agent runs the agent runtime as a long-lived process: it
// authenticates against the control plane, then polls for and executes
// tasks until it receives SIGINT or SIGTERM, at which point it drains
// in-flight work and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adno-labs/agent-runtime/internal/aiclient"
	"github.com/adno-labs/agent-runtime/internal/bootstrap"
	"github.com/adno-labs/agent-runtime/internal/buildinfo"
	"github.com/adno-labs/agent-runtime/internal/controlplane"
	"github.com/adno-labs/agent-runtime/internal/dedupcache"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/housekeeping"
	"github.com/adno-labs/agent-runtime/internal/logging"
	"github.com/adno-labs/agent-runtime/internal/logshipper"
	"github.com/adno-labs/agent-runtime/internal/model"
	"github.com/adno-labs/agent-runtime/internal/resilience"
	"github.com/adno-labs/agent-runtime/internal/sourcesystem"
	"github.com/adno-labs/agent-runtime/internal/supervisor"
	"github.com/adno-labs/agent-runtime/internal/transport"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adno-labs/agent-runtime/handlers/apply"
	"github.com/adno-labs/agent-runtime/handlers/fetcher"
	"github.com/adno-labs/agent-runtime/handlers/logger"
	"github.com/adno-labs/agent-runtime/handlers/maintain"
	"github.com/adno-labs/agent-runtime/handlers/suggestion"
)

// GitCommit is set at build time alongside buildinfo.Version.
var GitCommit = "unknown"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Agent runtime that polls the control plane for tasks and executes them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agent version %s (%s)\n", buildinfo.Version, GitCommit)
		},
	})

	return root
}

// run wires every collaborator from the process environment and runs the
// supervisor until ctx is cancelled by SIGINT/SIGTERM.
func run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := bootstrap.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	logging.Init(logging.Config{Level: env.LogLevel, Format: env.LogFormat})

	t := transport.New(transport.Config{BaseURL: env.APIURL, APIKey: env.APIKey})
	chain := resilience.NewChain(t, resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	client := controlplane.New(chain)

	registry := handler.NewRegistry()
	closers := registerHandlers(ctx, registry, env)
	defer closeAll(closers)

	sup := supervisor.New(client, registry, env.PollIntervalMS)
	if err := sup.Start(ctx); err != nil {
		logging.Error().
			Add(logging.Component("main")).
			Add(logging.ErrField(err)).
			Msg("startup failed")
		return err
	}

	logging.Info().Add(logging.Component("main")).Msg("agent runtime started")

	<-ctx.Done()

	logging.Info().Add(logging.Component("main")).Msg("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), supervisor.ShutdownDrain+5*time.Second)
	defer shutdownCancel()
	sup.Shutdown(shutdownCtx)

	return nil
}

// registerHandlers builds and registers every reference worker handler whose
// infrastructure dependency is present in the environment, logging a skip
// for any it cannot construct. It returns the io.Closer-like cleanup
// functions for collaborators that own a connection.
func registerHandlers(ctx context.Context, registry *handler.Registry, env bootstrap.Env) []func() {
	var closers []func()

	if ai := buildAIClient(env); ai != nil {
		registry.Register(model.WorkerSuggestion, suggestion.New(ai))
		registry.Register(model.WorkerApply, apply.New(ai))
	} else {
		logging.Warn().Add(logging.Component("main")).
			Msg("AI_API_KEY not set: suggestion and apply workers will report ErrNoHandler")
	}

	if cache, ok := buildDedupCache(ctx, env); ok {
		closers = append(closers, func() { _ = cache.Close() })
		if src := buildSourceSystem(env); src != nil {
			registry.Register(model.WorkerFetcher, fetcher.New(src, cache))
		} else {
			logging.Warn().Add(logging.Component("main")).
				Msg("SOURCE_SYSTEM_TOKEN not set: fetcher worker will report ErrNoHandler")
		}
	} else {
		logging.Warn().Add(logging.Component("main")).
			Msg("REDIS_ADDR not set or unreachable: fetcher worker will report ErrNoHandler")
	}

	if store, ok := buildHousekeepingStore(ctx, env, &closers); ok {
		registry.Register(model.WorkerMaintain, maintain.New(store))
	} else {
		logging.Warn().Add(logging.Component("main")).
			Msg("DATABASE_URL not set: maintain worker will report ErrNoHandler")
	}

	if shipper := buildLogShipper(env); shipper != nil {
		closers = append(closers, func() { _ = shipper.Close() })
		registry.Register(model.WorkerLogger, logger.New(shipper))
	} else {
		logging.Warn().Add(logging.Component("main")).
			Msg("LOG_SHIP_DIR not set: logger worker will report ErrNoHandler")
	}

	return closers
}

func buildAIClient(env bootstrap.Env) *aiclient.Client {
	apiKey := env.Passthrough["AI_API_KEY"]
	if apiKey == "" {
		return nil
	}
	return aiclient.New(aiclient.Config{
		APIKey:     apiKey,
		Endpoint:   env.Passthrough["AI_ENDPOINT"],
		Deployment: env.Passthrough["AI_DEPLOYMENT"],
	})
}

func buildSourceSystem(env bootstrap.Env) *sourceSystemAdapter {
	token := env.Passthrough["SOURCE_SYSTEM_TOKEN"]
	if token == "" {
		return nil
	}
	return &sourceSystemAdapter{client: sourcesystem.New(sourcesystem.Config{
		BaseURL: os.Getenv("SOURCE_SYSTEM_BASE_URL"),
		Org:     env.Passthrough["SOURCE_SYSTEM_ORG"],
		Project: env.Passthrough["SOURCE_SYSTEM_PROJECT"],
		Token:   token,
	})}
}

// sourceSystemAdapter adapts sourcesystem.Client to the fetcher.SourceSystem
// interface, translating between the two packages' identical but distinct
// Item types so the fetcher handler stays ignorant of which upstream it
// talks to.
type sourceSystemAdapter struct {
	client *sourcesystem.Client
}

func (a *sourceSystemAdapter) FetchRecent(ctx context.Context) ([]fetcher.Item, error) {
	items, err := a.client.FetchRecent(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]fetcher.Item, len(items))
	for i, it := range items {
		out[i] = fetcher.Item{ID: it.ID, Kind: it.Kind}
	}
	return out, nil
}

func buildDedupCache(ctx context.Context, env bootstrap.Env) (*dedupcache.Cache, bool) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil, false
	}
	cache, err := dedupcache.New(ctx, dedupcache.Config{
		Addr:      addr,
		KeyPrefix: "agent-runtime:",
	})
	if err != nil {
		logging.Error().Add(logging.Component("main")).Add(logging.ErrField(err)).
			Msg("failed to connect to dedup cache")
		return nil, false
	}
	return cache, true
}

func buildHousekeepingStore(ctx context.Context, env bootstrap.Env, closers *[]func()) (*housekeeping.Store, bool) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, false
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logging.Error().Add(logging.Component("main")).Add(logging.ErrField(err)).
			Msg("failed to connect to housekeeping database")
		return nil, false
	}
	*closers = append(*closers, pool.Close)
	return housekeeping.NewStore(pool, os.Getenv("DATABASE_SCHEMA")), true
}

func buildLogShipper(env bootstrap.Env) *logshipper.Shipper {
	dir := os.Getenv("LOG_SHIP_DIR")
	if dir == "" {
		return nil
	}
	shipper, err := logshipper.New(dir)
	if err != nil {
		logging.Error().Add(logging.Component("main")).Add(logging.ErrField(err)).
			Msg("failed to start log shipper")
		return nil
	}
	return shipper
}

func closeAll(closers []func()) {
	for _, c := range closers {
		c()
	}
}
