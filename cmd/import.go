package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/reunitehq/reunite/internal/config"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/provider"
	"github.com/reunitehq/reunite/internal/registry"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-register cases from a JSON file",
	Long: `Register missing-person cases in bulk from a JSON file.

Each record carries the case details plus either precomputed face
embeddings or photo file paths. Photos are sent to the embedding service;
records that yield no valid embedding are reported and skipped.

Cases are persisted to the PostgreSQL archive, so DATABASE_URL must be set.

Examples:
  # Import with 5 concurrent workers
  reunite import cases.json

  # Slower, for a rate-limited embedding service
  reunite import cases.json --concurrency 2`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int("concurrency", 5, "Number of parallel workers")
}

// importRecord is one case in the import file.
type importRecord struct {
	FullName            string      `json:"full_name"`
	Age                 int         `json:"age"`
	Gender              string      `json:"gender"`
	LastSeenLocation    string      `json:"last_seen_location"`
	LastSeenDate        string      `json:"last_seen_date"`
	Height              string      `json:"height"`
	Weight              string      `json:"weight"`
	ClothingDescription string      `json:"clothing_description"`
	DistinctiveFeatures string      `json:"distinctive_features"`
	ReporterName        string      `json:"reporter_name"`
	ReporterContact     string      `json:"reporter_contact"`
	Embeddings          [][]float32 `json:"embeddings"`
	Photos              []string    `json:"photos"`
}

// parseLastSeen accepts RFC 3339 or a bare date.
func parseLastSeen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// recordEmbeddings collects the record's embeddings: precomputed vectors
// first, then one embedding per photo via the embedding service.
func recordEmbeddings(ctx context.Context, rec importRecord, embedder *provider.Client) ([]matching.Embedding, error) {
	var embs []matching.Embedding
	for _, v := range rec.Embeddings {
		embs = append(embs, matching.Embedding(v))
	}
	for _, path := range rec.Photos {
		if embedder == nil {
			return nil, fmt.Errorf("photo %s requires the embedding service", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading photo %s: %w", path, err)
		}
		emb, err := embedder.ExtractFace(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("embedding photo %s: %w", path, err)
		}
		embs = append(embs, emb)
	}
	return embs, nil
}

func importOne(ctx context.Context, store *registry.Store, embedder *provider.Client, rec importRecord) error {
	lastSeen, err := parseLastSeen(rec.LastSeenDate)
	if err != nil {
		return fmt.Errorf("invalid last_seen_date %q: %w", rec.LastSeenDate, err)
	}
	embs, err := recordEmbeddings(ctx, rec, embedder)
	if err != nil {
		return err
	}

	_, err = store.RegisterCase(ctx, registry.CaseDraft{
		FullName:            rec.FullName,
		Age:                 rec.Age,
		Gender:              rec.Gender,
		LastSeenLocation:    rec.LastSeenLocation,
		LastSeenDate:        lastSeen,
		Height:              rec.Height,
		Weight:              rec.Weight,
		ClothingDescription: rec.ClothingDescription,
		DistinctiveFeatures: rec.DistinctiveFeatures,
		ReporterName:        rec.ReporterName,
		ReporterContact:     rec.ReporterContact,
		Embeddings:          embs,
	})
	return err
}

func runImport(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	ctx := context.Background()
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}
	var records []importRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing import file: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("Nothing to import")
		return nil
	}

	store := registry.NewStore(cfg.Embedding.Dim)
	pool, err := initArchive(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer pool.Close()

	var embedder *provider.Client
	if cfg.Embedding.URL != "" {
		embedder = provider.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	}

	fmt.Printf("Importing %d cases with %d workers...\n", len(records), concurrency)
	bar := progressbar.Default(int64(len(records)))

	jobs := make(chan importRecord)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []string

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := importOne(ctx, store, embedder, rec); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s: %v", rec.FullName, err))
					mu.Unlock()
				}
				_ = bar.Add(1)
			}
		}()
	}

	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	_ = bar.Finish()

	imported := len(records) - len(failures)
	fmt.Printf("\nImported %d/%d cases\n", imported, len(records))
	for _, f := range failures {
		fmt.Printf("  failed: %s\n", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d cases failed to import", len(failures))
	}
	return nil
}
