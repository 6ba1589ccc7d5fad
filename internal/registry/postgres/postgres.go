// Package postgres persists the case registry to PostgreSQL with pgvector
// embedding columns. It implements registry.Archive: the in-memory store
// stays authoritative at runtime and writes through here for durability.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/reunitehq/reunite/internal/config"
)

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool and verifies the
// connection.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Migrate creates the schema. Embedding columns are sized to the deployment
// dimension; changing the dimension requires a fresh database.
func (p *Pool) Migrate(ctx context.Context, embeddingDim int) error {
	if _, err := p.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createCases := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cases (
			id                   VARCHAR(64) PRIMARY KEY,
			full_name            TEXT NOT NULL,
			age                  INTEGER NOT NULL DEFAULT 0,
			gender               VARCHAR(32) NOT NULL DEFAULT '',
			last_seen_location   TEXT NOT NULL DEFAULT '',
			last_seen_date       TIMESTAMP WITH TIME ZONE,
			height               TEXT NOT NULL DEFAULT '',
			weight               TEXT NOT NULL DEFAULT '',
			clothing_description TEXT NOT NULL DEFAULT '',
			distinctive_features TEXT NOT NULL DEFAULT '',
			reporter_name        TEXT NOT NULL DEFAULT '',
			reporter_contact     TEXT NOT NULL DEFAULT '',
			status               VARCHAR(32) NOT NULL,
			created_at           TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at           TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE TABLE IF NOT EXISTS case_embeddings (
			case_id     VARCHAR(64) NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
			position    INTEGER NOT NULL,
			embedding   vector(%d) NOT NULL,
			PRIMARY KEY (case_id, position)
		)
	`, embeddingDim)
	if _, err := p.db.ExecContext(ctx, createCases); err != nil {
		return fmt.Errorf("failed to create cases tables: %w", err)
	}

	createSightings := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS sightings (
			id                  VARCHAR(64) PRIMARY KEY,
			captured_at         TIMESTAMP WITH TIME ZONE,
			capture_location    TEXT NOT NULL DEFAULT '',
			estimated_age_range VARCHAR(64) NOT NULL DEFAULT '',
			estimated_gender    VARCHAR(32) NOT NULL DEFAULT '',
			embedding           vector(%d) NOT NULL,
			status              VARCHAR(32) NOT NULL,
			created_at          TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at          TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`, embeddingDim)
	if _, err := p.db.ExecContext(ctx, createSightings); err != nil {
		return fmt.Errorf("failed to create sightings table: %w", err)
	}

	createTransitions := `
		CREATE TABLE IF NOT EXISTS transitions (
			id          BIGSERIAL PRIMARY KEY,
			entity_id   VARCHAR(64) NOT NULL,
			from_status VARCHAR(32) NOT NULL,
			to_status   VARCHAR(32) NOT NULL,
			trigger     VARCHAR(64) NOT NULL,
			at          TIMESTAMP WITH TIME ZONE NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transitions_entity_idx ON transitions(entity_id)
	`
	if _, err := p.db.ExecContext(ctx, createTransitions); err != nil {
		return fmt.Errorf("failed to create transitions table: %w", err)
	}

	return nil
}

// CreateVectorIndexes creates IVFFlat indexes for similarity queries run
// directly against the archive (reporting, offline recall checks). Call
// after the tables have data for optimal list placement.
func (p *Pool) CreateVectorIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS case_embeddings_vector_idx
		 ON case_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS sightings_vector_idx
		 ON sightings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}
	return nil
}
