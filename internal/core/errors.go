package core

import "errors"

var (
	ErrEmptyContent         = errors.New("content cannot be empty")
	ErrChatNotFound         = errors.New("chat not found")
	ErrJournalEntryNotFound = errors.New("journal entry not found")
	// ErrForbidden means the resource exists but belongs to another user.
	ErrForbidden = errors.New("forbidden")
)
