package core

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"solace.app/companion/internal/metrics"
	"solace.app/companion/internal/store"
	"solace.app/companion/internal/vector"
)

const reflectionOutputTokens = 512

// JournalService manages journal entries and keeps the vector index in step
// with their content.
type JournalService struct {
	dbStore   *store.SQLStore
	embedder  Embedder
	index     vector.Index
	generator Generator
}

func NewJournalService(db *store.SQLStore, embedder Embedder, index vector.Index, generator Generator) *JournalService {
	return &JournalService{
		dbStore:   db,
		embedder:  embedder,
		index:     index,
		generator: generator,
	}
}

func (s *JournalService) CreateEntry(ctx context.Context, userID int64, content string) (*store.JournalEntry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	entry, err := s.dbStore.CreateJournalEntry(ctx, userID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal entry: %w", err)
	}
	s.indexEntry(ctx, entry)
	return entry, nil
}

func (s *JournalService) ListEntries(ctx context.Context, userID int64) ([]store.JournalEntry, error) {
	return s.dbStore.GetJournalEntriesByUserID(ctx, userID)
}

func (s *JournalService) GetEntry(ctx context.Context, entryID string, userID int64) (*store.JournalEntry, error) {
	entry, err := s.dbStore.GetJournalEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	if entry == nil {
		return nil, ErrJournalEntryNotFound
	}
	if entry.UserID != userID {
		return nil, ErrForbidden
	}
	return entry, nil
}

func (s *JournalService) UpdateEntry(ctx context.Context, entryID string, userID int64, content string) (*store.JournalEntry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.GetEntry(ctx, entryID, userID); err != nil {
		return nil, err
	}
	entry, err := s.dbStore.UpdateJournalEntryContent(ctx, entryID, userID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to update journal entry: %w", err)
	}
	if entry == nil {
		return nil, ErrJournalEntryNotFound
	}
	s.indexEntry(ctx, entry)
	return entry, nil
}

func (s *JournalService) DeleteEntry(ctx context.Context, entryID string, userID int64) error {
	if _, err := s.GetEntry(ctx, entryID, userID); err != nil {
		return err
	}
	deleted, err := s.dbStore.DeleteJournalEntry(ctx, entryID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete journal entry: %w", err)
	}
	if !deleted {
		return ErrJournalEntryNotFound
	}
	if err := s.index.Delete(ctx, userID, entryID); err != nil {
		log.WithError(err).WithField("entry_id", entryID).Warn("Failed to remove journal entry from vector index")
	}
	return nil
}

// Reflect asks the model for feedback on one entry. Only a generated reply is
// stored on the entry; fixed fallback texts and the crisis message are not.
func (s *JournalService) Reflect(ctx context.Context, entryID string, userID int64) (*Reply, error) {
	entry, err := s.GetEntry(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}

	system := textContent("", reflectionSystemInstruction)
	req := &GenerationRequest{
		SystemInstruction: &system,
		Contents:          []Content{textContent(roleUser, entry.Content)},
		SafetySettings:    companionSafetySettings,
		GenerationConfig:  GenerationConfig{Temperature: chatTemperature, MaxOutputTokens: reflectionOutputTokens},
	}
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reflection: %w", err)
	}

	switch result.Kind {
	case ResultCrisis:
		metrics.CrisisResponses.Inc()
		log.WithFields(log.Fields{"user_id": userID, "entry_id": entryID}).Warn("Crisis detected in journal entry, reflection not stored")
		return &Reply{Role: RoleAssistant, Content: result.Reply(), IsCrisis: true}, nil
	case ResultOK:
		if err := s.dbStore.SetJournalEntryFeedback(ctx, entryID, userID, result.Text); err != nil {
			return nil, fmt.Errorf("failed to store reflection: %w", err)
		}
	}
	return &Reply{Role: RoleAssistant, Content: result.Reply()}, nil
}

// Reindex embeds every stored entry again and upserts it into the index,
// waiting on limiter before each embedding call. It returns how many entries
// were indexed; individual failures are logged and skipped.
func (s *JournalService) Reindex(ctx context.Context, limiter *rate.Limiter) (int, error) {
	entries, err := s.dbStore.GetAllJournalEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load journal entries: %w", err)
	}
	log.WithField("entries", len(entries)).Info("Reindexing journal entries")

	indexed := 0
	for i := range entries {
		if err := limiter.Wait(ctx); err != nil {
			return indexed, fmt.Errorf("reindex interrupted: %w", err)
		}
		if err := s.upsertEntry(ctx, &entries[i]); err != nil {
			log.WithError(err).WithField("entry_id", entries[i].ID).Warn("Failed to reindex journal entry, skipping")
			continue
		}
		indexed++
		if indexed%100 == 0 {
			log.WithField("indexed", indexed).Info("Reindex progress")
		}
	}
	return indexed, nil
}

// indexEntry is best effort: an entry without a vector is simply never
// retrieved until the next edit or reindex.
func (s *JournalService) indexEntry(ctx context.Context, entry *store.JournalEntry) {
	if err := s.upsertEntry(ctx, entry); err != nil {
		log.WithError(err).WithField("entry_id", entry.ID).Warn("Failed to index journal entry")
	}
}

func (s *JournalService) upsertEntry(ctx context.Context, entry *store.JournalEntry) error {
	embedding, err := s.embedder.Embed(ctx, entry.Content)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, entry.UserID, entry.ID, embedding)
}
