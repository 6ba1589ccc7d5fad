package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/reunitehq/reunite/internal/matching"
	"github.com/reunitehq/reunite/internal/registry"
)

// Archive is the PostgreSQL implementation of registry.Archive.
type Archive struct {
	pool *Pool
}

// NewArchive creates an archive backed by the given pool.
func NewArchive(pool *Pool) *Archive {
	return &Archive{pool: pool}
}

// SaveCase upserts a case snapshot and replaces its embedding rows.
func (a *Archive) SaveCase(ctx context.Context, c registry.MissingPersonCase) error {
	tx, err := a.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save case: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cases (
			id, full_name, age, gender, last_seen_location, last_seen_date,
			height, weight, clothing_description, distinctive_features,
			reporter_name, reporter_contact, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			last_seen_location = EXCLUDED.last_seen_location,
			last_seen_date = EXCLUDED.last_seen_date,
			height = EXCLUDED.height,
			weight = EXCLUDED.weight,
			clothing_description = EXCLUDED.clothing_description,
			distinctive_features = EXCLUDED.distinctive_features,
			reporter_name = EXCLUDED.reporter_name,
			reporter_contact = EXCLUDED.reporter_contact,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`,
		c.ID, c.FullName, c.Age, c.Gender, c.LastSeenLocation, c.LastSeenDate,
		c.Height, c.Weight, c.ClothingDescription, c.DistinctiveFeatures,
		c.ReporterName, c.ReporterContact, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert case %s: %w", c.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM case_embeddings WHERE case_id = $1", c.ID); err != nil {
		return fmt.Errorf("clear case embeddings %s: %w", c.ID, err)
	}
	for i, emb := range c.Embeddings {
		vec := pgvector.NewVector(emb)
		_, err := tx.ExecContext(ctx,
			"INSERT INTO case_embeddings (case_id, position, embedding) VALUES ($1, $2, $3)",
			c.ID, i, vec,
		)
		if err != nil {
			return fmt.Errorf("insert case embedding %s[%d]: %w", c.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save case %s: %w", c.ID, err)
	}
	return nil
}

// SaveSighting upserts a sighting snapshot.
func (a *Archive) SaveSighting(ctx context.Context, s registry.UnidentifiedSighting) error {
	vec := pgvector.NewVector(s.Embedding)
	_, err := a.pool.db.ExecContext(ctx, `
		INSERT INTO sightings (
			id, captured_at, capture_location, estimated_age_range,
			estimated_gender, embedding, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			capture_location = EXCLUDED.capture_location,
			estimated_age_range = EXCLUDED.estimated_age_range,
			estimated_gender = EXCLUDED.estimated_gender,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`,
		s.ID, s.CapturedAt, s.CaptureLocation, s.EstimatedAgeRange,
		s.EstimatedGender, vec, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sighting %s: %w", s.ID, err)
	}
	return nil
}

// SaveTransition appends an audit record.
func (a *Archive) SaveTransition(ctx context.Context, rec registry.TransitionRecord) error {
	_, err := a.pool.db.ExecContext(ctx, `
		INSERT INTO transitions (entity_id, from_status, to_status, trigger, at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.EntityID, rec.From, rec.To, string(rec.Trigger), rec.At)
	if err != nil {
		return fmt.Errorf("insert transition for %s: %w", rec.EntityID, err)
	}
	return nil
}

// LoadCases returns all archived cases with their embeddings.
func (a *Archive) LoadCases(ctx context.Context) ([]registry.MissingPersonCase, error) {
	rows, err := a.pool.db.QueryContext(ctx, `
		SELECT id, full_name, age, gender, last_seen_location, last_seen_date,
		       height, weight, clothing_description, distinctive_features,
		       reporter_name, reporter_contact, status, created_at, updated_at
		FROM cases
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []registry.MissingPersonCase
	for rows.Next() {
		var c registry.MissingPersonCase
		var status string
		err := rows.Scan(
			&c.ID, &c.FullName, &c.Age, &c.Gender, &c.LastSeenLocation, &c.LastSeenDate,
			&c.Height, &c.Weight, &c.ClothingDescription, &c.DistinctiveFeatures,
			&c.ReporterName, &c.ReporterContact, &status, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Status = registry.CaseStatus(status)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}

	for i := range cases {
		embeddings, err := a.loadCaseEmbeddings(ctx, cases[i].ID)
		if err != nil {
			return nil, err
		}
		cases[i].Embeddings = embeddings
	}
	return cases, nil
}

func (a *Archive) loadCaseEmbeddings(ctx context.Context, caseID string) ([]matching.Embedding, error) {
	rows, err := a.pool.db.QueryContext(ctx,
		"SELECT embedding FROM case_embeddings WHERE case_id = $1 ORDER BY position", caseID)
	if err != nil {
		return nil, fmt.Errorf("query embeddings for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var embeddings []matching.Embedding
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan embedding for case %s: %w", caseID, err)
		}
		embeddings = append(embeddings, matching.Embedding(vec.Slice()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings for case %s: %w", caseID, err)
	}
	return embeddings, nil
}

// LoadSightings returns all archived sightings.
func (a *Archive) LoadSightings(ctx context.Context) ([]registry.UnidentifiedSighting, error) {
	rows, err := a.pool.db.QueryContext(ctx, `
		SELECT id, captured_at, capture_location, estimated_age_range,
		       estimated_gender, embedding, status, created_at, updated_at
		FROM sightings
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []registry.UnidentifiedSighting
	for rows.Next() {
		var s registry.UnidentifiedSighting
		var status string
		var vec pgvector.Vector
		err := rows.Scan(
			&s.ID, &s.CapturedAt, &s.CaptureLocation, &s.EstimatedAgeRange,
			&s.EstimatedGender, &vec, &status, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		s.Status = registry.SightingStatus(status)
		s.Embedding = matching.Embedding(vec.Slice())
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sightings: %w", err)
	}
	return sightings, nil
}
