package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex keeps vectors in a postgres table next to the journal
// entries. The owner filter is part of the WHERE clause of the ANN query.
type PgVectorIndex struct {
	db *sql.DB
}

const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS journal_embeddings (
    entry_id TEXT PRIMARY KEY,
    owner_id BIGINT NOT NULL,
    embedding vector NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_embeddings_owner ON journal_embeddings (owner_id);
`

func NewPgVectorIndex(ctx context.Context, db *sql.DB) (*PgVectorIndex, error) {
	if _, err := db.ExecContext(ctx, pgvectorSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize pgvector schema: %w", err)
	}
	return &PgVectorIndex{db: db}, nil
}

func (i *PgVectorIndex) Upsert(ctx context.Context, ownerID int64, entryID string, embedding []float32) error {
	if len(embedding) == 0 {
		return errors.New("embedding is empty")
	}
	_, err := i.db.ExecContext(ctx, `
        INSERT INTO journal_embeddings (entry_id, owner_id, embedding) VALUES ($1, $2, $3)
        ON CONFLICT (entry_id) DO UPDATE SET embedding = EXCLUDED.embedding
        WHERE journal_embeddings.owner_id = EXCLUDED.owner_id`,
		entryID, ownerID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to upsert vector for entry %s: %w", entryID, err)
	}
	return nil
}

func (i *PgVectorIndex) Delete(ctx context.Context, ownerID int64, entryID string) error {
	_, err := i.db.ExecContext(ctx, "DELETE FROM journal_embeddings WHERE entry_id = $1 AND owner_id = $2", entryID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete vector for entry %s: %w", entryID, err)
	}
	return nil
}

// Query ranks by cosine distance; similarity is reported as 1 - distance.
func (i *PgVectorIndex) Query(ctx context.Context, ownerID int64, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}
	rows, err := i.db.QueryContext(ctx, `
        SELECT entry_id, 1 - (embedding <=> $1) AS score
        FROM journal_embeddings
        WHERE owner_id = $2
        ORDER BY embedding <=> $1
        LIMIT $3`,
		pgvector.NewVector(embedding), ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.EntryID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
