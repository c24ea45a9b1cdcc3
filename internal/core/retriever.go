package core

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/metrics"
	"solace.app/companion/internal/store"
	"solace.app/companion/internal/vector"
)

const (
	NumRelevantEntries  = 3    // journal entries retrieved per message
	SimilarityThreshold = 0.50 // minimum cosine similarity for an entry to count as relevant
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type JournalLookup interface {
	GetJournalEntriesByIDs(ctx context.Context, userID int64, ids []string) ([]store.JournalEntry, error)
}

// Excerpt is a retrieved journal entry on its way into a prompt.
type Excerpt struct {
	Content   string
	CreatedAt time.Time
}

// Retriever finds the caller's own journal entries that are semantically close
// to a message.
type Retriever struct {
	embedder  Embedder
	index     vector.Index
	journal   JournalLookup
	topK      int
	threshold float32
}

func NewRetriever(embedder Embedder, index vector.Index, journal JournalLookup) *Retriever {
	return &Retriever{
		embedder:  embedder,
		index:     index,
		journal:   journal,
		topK:      NumRelevantEntries,
		threshold: SimilarityThreshold,
	}
}

// WithThreshold returns a copy of r using a different similarity cut-off.
func (r *Retriever) WithThreshold(threshold float32) *Retriever {
	cp := *r
	cp.threshold = threshold
	return &cp
}

// Retrieve returns up to topK entries owned by userID, most recent first.
// Retrieval is an enrichment: every failure is logged and yields no excerpts.
func (r *Retriever) Retrieve(ctx context.Context, userID int64, query string) []Excerpt {
	logger := log.WithField("user_id", userID)

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("embed").Inc()
		logger.WithError(err).Warn("Failed to embed message for retrieval, continuing without journal context")
		return nil
	}

	matches, err := r.index.Query(ctx, userID, embedding, r.topK)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("query").Inc()
		logger.WithError(err).Warn("Vector query failed, continuing without journal context")
		return nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score >= r.threshold {
			ids = append(ids, m.EntryID)
		}
	}
	if len(ids) == 0 {
		metrics.RetrievedExcerpts.Observe(0)
		logger.WithField("threshold", r.threshold).Debug("No journal entries above similarity threshold")
		return nil
	}

	entries, err := r.journal.GetJournalEntriesByIDs(ctx, userID, ids)
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues("lookup").Inc()
		logger.WithError(err).Warn("Failed to load matched journal entries, continuing without journal context")
		return nil
	}

	excerpts := make([]Excerpt, 0, len(entries))
	for _, e := range entries {
		// The store already filters by owner; a mismatch here means a stale
		// vector and must not leak.
		if e.UserID != userID {
			continue
		}
		excerpts = append(excerpts, Excerpt{Content: e.Content, CreatedAt: e.CreatedAt})
	}
	sort.SliceStable(excerpts, func(i, j int) bool {
		return excerpts[i].CreatedAt.After(excerpts[j].CreatedAt)
	})

	metrics.RetrievedExcerpts.Observe(float64(len(excerpts)))
	logger.WithField("excerpts", len(excerpts)).Debug("Retrieved journal context")
	return excerpts
}
