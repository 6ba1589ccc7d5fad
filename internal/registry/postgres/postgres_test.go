//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reunitehq/reunite/internal/config"
	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/registry"
)

const testDim = 8

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}
	pool, err := NewPool(&cfg)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx, testDim); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup
}

func testCase(id string) registry.MissingPersonCase {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return registry.MissingPersonCase{
		ID:                  id,
		FullName:            "Ana Kovač",
		Age:                 34,
		Gender:              "female",
		LastSeenLocation:    "Riverside Market",
		LastSeenDate:        now.Add(-72 * time.Hour),
		DistinctiveFeatures: "scar above left eyebrow",
		Embeddings: []matching.Embedding{
			{1, 0, 0, 0, 0, 0, 0, 0},
			{0, 1, 0, 0, 0, 0, 0, 0},
		},
		Status:    registry.CaseActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestArchiveCaseRoundtrip(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewArchive(pool)

	c := testCase("case-1")
	if err := archive.SaveCase(ctx, c); err != nil {
		t.Fatalf("save case: %v", err)
	}

	// Saving again with a new status must update, not duplicate.
	c.Status = registry.CaseMatched
	if err := archive.SaveCase(ctx, c); err != nil {
		t.Fatalf("re-save case: %v", err)
	}

	cases, err := archive.LoadCases(ctx)
	if err != nil {
		t.Fatalf("load cases: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}
	got := cases[0]
	if got.Status != registry.CaseMatched {
		t.Errorf("status = %s, want %s", got.Status, registry.CaseMatched)
	}
	if got.FullName != c.FullName || got.DistinctiveFeatures != c.DistinctiveFeatures {
		t.Errorf("descriptive fields lost: %+v", got)
	}
	if len(got.Embeddings) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got.Embeddings))
	}
	if got.Embeddings[0][0] != 1 || got.Embeddings[1][1] != 1 {
		t.Errorf("embedding order not preserved: %v", got.Embeddings)
	}
}

func TestArchiveSightingRoundtrip(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewArchive(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := registry.UnidentifiedSighting{
		ID:              "sighting-1",
		CapturedAt:      now,
		CaptureLocation: "Central Station",
		Embedding:       matching.Embedding{0, 0, 1, 0, 0, 0, 0, 0},
		Status:          registry.SightingUnmatched,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := archive.SaveSighting(ctx, s); err != nil {
		t.Fatalf("save sighting: %v", err)
	}

	sightings, err := archive.LoadSightings(ctx)
	if err != nil {
		t.Fatalf("load sightings: %v", err)
	}
	if len(sightings) != 1 {
		t.Fatalf("expected 1 sighting, got %d", len(sightings))
	}
	if sightings[0].CaptureLocation != "Central Station" {
		t.Errorf("unexpected sighting: %+v", sightings[0])
	}
	if sightings[0].Embedding[2] != 1 {
		t.Errorf("embedding lost: %v", sightings[0].Embedding)
	}
}

func TestArchiveTransitions(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	ctx := context.Background()
	archive := NewArchive(pool)

	rec := registry.TransitionRecord{
		EntityID: "case-1",
		From:     string(registry.CaseActive),
		To:       string(registry.CaseMatched),
		Trigger:  registry.TriggerConfirmedMatch,
		At:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := archive.SaveTransition(ctx, rec); err != nil {
		t.Fatalf("save transition: %v", err)
	}

	var count int
	err := pool.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transitions WHERE entity_id = $1", "case-1").Scan(&count)
	if err != nil {
		t.Fatalf("count transitions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 transition, got %d", count)
	}
}

func TestCreateVectorIndexes(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()

	if err := pool.CreateVectorIndexes(context.Background()); err != nil {
		t.Fatalf("create vector indexes: %v", err)
	}
}
