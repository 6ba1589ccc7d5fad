package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reunitehq/reunite/internal/config"
	"github.com/reunitehq/reunite/internal/coordinator"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/notify"
	"github.com/reunitehq/reunite/internal/provider"
	"github.com/reunitehq/reunite/internal/registry"
	"github.com/reunitehq/reunite/internal/registry/postgres"
	"github.com/reunitehq/reunite/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matching API server",
	Long: `Start the Reunite HTTP API.
The server accepts case registrations and sighting submissions, runs the
matching workflow, streams state transitions over SSE, and dispatches
notifications to case reporters.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().Bool("no-embedder", false, "Disable the face embedding service (JSON embeddings only)")
}

// buildIndex picks the similarity index backend from configuration.
func buildIndex(cfg *config.Config) matching.Index {
	if cfg.Matching.IndexBackend == "linear" {
		fmt.Println("Using linear similarity index")
		return matching.NewLinearIndex(cfg.Embedding.Dim)
	}
	fmt.Println("Using HNSW similarity index")
	return matching.NewHNSWIndex(cfg.Embedding.Dim)
}

// buildChannels constructs the notification channels that have a gateway
// configured. Enabled channels without a gateway URL are skipped with a
// warning so a partial deployment still starts.
func buildChannels(cfg *config.NotifyConfig) []notify.Channel {
	var channels []notify.Channel
	for _, name := range cfg.Channels {
		switch name {
		case notify.ChannelSMS:
			if cfg.SMSGatewayURL == "" {
				fmt.Println("Warning: sms channel enabled but SMS_GATEWAY_URL is not set, skipping")
				continue
			}
			channels = append(channels, notify.NewSMSChannel(cfg.SMSGatewayURL, cfg.SMSAPIKey, cfg.SMSSender))
		case notify.ChannelEmail:
			if cfg.EmailGatewayURL == "" {
				fmt.Println("Warning: email channel enabled but EMAIL_GATEWAY_URL is not set, skipping")
				continue
			}
			channels = append(channels, notify.NewEmailChannel(cfg.EmailGatewayURL, cfg.EmailAPIKey, cfg.EmailSender))
		case notify.ChannelWhatsApp:
			if cfg.WhatsAppGatewayURL == "" {
				fmt.Println("Warning: whatsapp channel enabled but WHATSAPP_GATEWAY_URL is not set, skipping")
				continue
			}
			channels = append(channels, notify.NewWhatsAppChannel(cfg.WhatsAppGatewayURL, cfg.WhatsAppAPIKey))
		default:
			fmt.Printf("Warning: unknown notification channel %q, skipping\n", name)
		}
	}
	return channels
}

// initArchive connects the PostgreSQL archive and restores the registry
// from it. Returns the pool so the caller can close it on shutdown.
func initArchive(ctx context.Context, cfg *config.Config, store *registry.Store) (*postgres.Pool, error) {
	fmt.Println("Connecting to PostgreSQL archive...")
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Migrate(ctx, cfg.Embedding.Dim); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	if err := pool.CreateVectorIndexes(ctx); err != nil {
		fmt.Printf("Warning: failed to create vector indexes: %v\n", err)
	}

	archive := postgres.NewArchive(pool)
	cases, err := archive.LoadCases(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading archived cases: %w", err)
	}
	sightings, err := archive.LoadSightings(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading archived sightings: %w", err)
	}

	store.Restore(cases, sightings)
	store.SetArchive(archive)
	fmt.Printf("Restored %d cases and %d sightings from archive\n", len(cases), len(sightings))
	return pool, nil
}

// newCoordinator builds the workflow coordinator. Alert channels come from
// the dispatcher, not the enabled-channel list: a channel that was enabled
// but skipped for lack of a gateway must not poison alerts on the channels
// that were built.
func newCoordinator(cfg *config.Config, store *registry.Store, index matching.Index, dispatcher *notify.Dispatcher) (*coordinator.Coordinator, error) {
	return coordinator.New(store, index, dispatcher, coordinator.Config{
		Policy: matching.Policy{
			ConfirmMaxDistance:  cfg.Matching.ConfirmMaxDistance,
			PossibleMaxDistance: cfg.Matching.PossibleMaxDistance,
			AmbiguityMargin:     cfg.Matching.AmbiguityMargin,
			MaxCandidates:       cfg.Matching.MaxCandidates,
		},
		Channels:     dispatcher.Channels(),
		StateRetries: cfg.Matching.StateRetries,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}

	ctx := context.Background()
	store := registry.NewStore(cfg.Embedding.Dim)
	index := buildIndex(cfg)

	if cfg.Database.URL != "" {
		pool, err := initArchive(ctx, cfg, store)
		if err != nil {
			return err
		}
		defer pool.Close()
	} else {
		fmt.Println("DATABASE_URL not set, running with in-memory registry only")
	}

	channels := buildChannels(&cfg.Notify)
	dispatcher := notify.NewDispatcher(channels, notify.DispatcherConfig{
		MaxRetries:     cfg.Notify.MaxRetries,
		InitialBackoff: time.Duration(cfg.Notify.InitialBackoffMs) * time.Millisecond,
		RatePerSecond:  cfg.Notify.RatePerSecond,
		Burst:          cfg.Notify.Burst,
	})

	coord, err := newCoordinator(cfg, store, index, dispatcher)
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}
	if err := coord.WarmUp(); err != nil {
		return fmt.Errorf("rebuilding similarity index: %w", err)
	}
	fmt.Printf("Similarity index warmed up with %d cases\n", index.Len())

	var embedder *provider.Client
	if mustGetBool(cmd, "no-embedder") {
		fmt.Println("Embedding service disabled, photo uploads will be rejected")
	} else {
		embedder = provider.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
		fmt.Printf("Using embedding service at %s (dim %d)\n", cfg.Embedding.URL, cfg.Embedding.Dim)
	}

	server := web.NewServer(cfg, coord, store, dispatcher, embedder)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Reunite API on http://0.0.0.0:%d\n", cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
