package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/philippgille/chromem-go"
)

const (
	journalCollection = "journal_entries"
	ownerKey          = "owner_id"
)

// ChromemIndex keeps vectors in an embedded chromem-go database. Embeddings
// are always supplied by the caller, so the collection never embeds text
// itself.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens a persistent index under path, or an in-memory one
// when path is empty.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(journalCollection, nil, refuseToEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	return &ChromemIndex{col: col}, nil
}

func refuseToEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("vector index does not embed text; pass an embedding")
}

func ownerFilter(ownerID int64) map[string]string {
	return map[string]string{ownerKey: strconv.FormatInt(ownerID, 10)}
}

func (i *ChromemIndex) Upsert(ctx context.Context, ownerID int64, entryID string, embedding []float32) error {
	if len(embedding) == 0 {
		return errors.New("embedding is empty")
	}
	// chromem-go replaces a document added again under the same id.
	err := i.col.AddDocument(ctx, chromem.Document{
		ID:        entryID,
		Metadata:  ownerFilter(ownerID),
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector for entry %s: %w", entryID, err)
	}
	return nil
}

func (i *ChromemIndex) Delete(ctx context.Context, ownerID int64, entryID string) error {
	doc, err := i.col.GetByID(ctx, entryID)
	if err != nil {
		// Not indexed, nothing to remove.
		return nil
	}
	if doc.Metadata[ownerKey] != strconv.FormatInt(ownerID, 10) {
		return fmt.Errorf("vector for entry %s belongs to another owner", entryID)
	}
	// A where filter would make chromem ignore ids, so delete by id only.
	if err := i.col.Delete(ctx, nil, nil, entryID); err != nil {
		return fmt.Errorf("failed to delete vector for entry %s: %w", entryID, err)
	}
	return nil
}

func (i *ChromemIndex) Query(ctx context.Context, ownerID int64, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}
	// chromem rejects nResults larger than the whole collection, before filtering.
	n := min(topK, i.col.Count())
	if n == 0 {
		return []Match{}, nil
	}

	results, err := i.col.QueryEmbedding(ctx, embedding, n, ownerFilter(ownerID), nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{EntryID: r.ID, Score: r.Similarity})
	}
	return matches, nil
}
