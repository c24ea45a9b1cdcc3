package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const journalColumns = "id, user_id, content, ai_feedback, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJournalEntry(row rowScanner) (*JournalEntry, error) {
	var entry JournalEntry
	var feedback sql.NullString
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.Content, &feedback, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	if feedback.Valid {
		entry.AIFeedback = &feedback.String
	}
	return &entry, nil
}

func scanJournalEntries(rows *sql.Rows) ([]JournalEntry, error) {
	defer rows.Close()
	entries := []JournalEntry{}
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry row: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (c conn) CreateJournalEntry(ctx context.Context, userID int64, content string) (*JournalEntry, error) {
	ts := now()
	entry := &JournalEntry{ID: uuid.NewString(), UserID: userID, Content: content, CreatedAt: ts, UpdatedAt: ts}
	_, err := c.exec(ctx, "INSERT INTO journal_entries (id, user_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, entry.UserID, entry.Content, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute journal entry insert: %w", err)
	}
	return entry, nil
}

// GetJournalEntry returns nil, nil when the entry does not exist.
func (c conn) GetJournalEntry(ctx context.Context, entryID string) (*JournalEntry, error) {
	entry, err := scanJournalEntry(c.queryRow(ctx, "SELECT "+journalColumns+" FROM journal_entries WHERE id = ?", entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return entry, nil
}

func (c conn) GetJournalEntriesByUserID(ctx context.Context, userID int64) ([]JournalEntry, error) {
	rows, err := c.query(ctx, "SELECT "+journalColumns+" FROM journal_entries WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	return scanJournalEntries(rows)
}

// GetJournalEntriesByIDs resolves a batch of ids owned by userID, most recent
// first. Unknown ids and ids owned by someone else are silently absent.
func (c conn) GetJournalEntriesByIDs(ctx context.Context, userID int64, ids []string) ([]JournalEntry, error) {
	if len(ids) == 0 {
		return []JournalEntry{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	rows, err := c.query(ctx,
		"SELECT "+journalColumns+" FROM journal_entries WHERE user_id = ? AND id IN ("+placeholders+") ORDER BY created_at DESC",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries by id: %w", err)
	}
	return scanJournalEntries(rows)
}

// GetAllJournalEntries is used by the reindex job.
func (c conn) GetAllJournalEntries(ctx context.Context) ([]JournalEntry, error) {
	rows, err := c.query(ctx, "SELECT "+journalColumns+" FROM journal_entries ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	return scanJournalEntries(rows)
}

// UpdateJournalEntryContent returns nil, nil when no entry with that id is
// owned by userID.
func (c conn) UpdateJournalEntryContent(ctx context.Context, entryID string, userID int64, content string) (*JournalEntry, error) {
	res, err := c.exec(ctx, "UPDATE journal_entries SET content = ?, updated_at = ? WHERE id = ? AND user_id = ?", content, now(), entryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute journal entry update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return c.GetJournalEntry(ctx, entryID)
}

func (c conn) SetJournalEntryFeedback(ctx context.Context, entryID string, userID int64, feedback string) error {
	res, err := c.exec(ctx, "UPDATE journal_entries SET ai_feedback = ? WHERE id = ? AND user_id = ?", feedback, entryID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute journal feedback update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("journal entry not found, feedback not updated")
	}
	return nil
}

// DeleteJournalEntry reports whether a row owned by userID was removed.
func (c conn) DeleteJournalEntry(ctx context.Context, entryID string, userID int64) (bool, error) {
	res, err := c.exec(ctx, "DELETE FROM journal_entries WHERE id = ? AND user_id = ?", entryID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to execute journal entry delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}
