// Package vector stores one embedding per journal entry, tagged with its
// owner, and answers owner-scoped nearest-neighbour queries.
package vector

import "context"

// Match is one hit of a similarity query. Score is cosine similarity.
type Match struct {
	EntryID string
	Score   float32
}

// Index implementations must apply the owner filter inside the query itself:
// a query issued for one owner can never rank or return another owner's
// vectors.
type Index interface {
	Upsert(ctx context.Context, ownerID int64, entryID string, embedding []float32) error
	Delete(ctx context.Context, ownerID int64, entryID string) error
	Query(ctx context.Context, ownerID int64, embedding []float32, topK int) ([]Match, error)
}
