package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

type JournalEntryRequest struct {
	Content string `json:"content"`
}

func decodeJournalContent(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req JournalEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return "", false
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Journal entry content cannot be empty", http.StatusBadRequest)
		return "", false
	}
	return req.Content, true
}

func (h *APIHandler) CreateJournalEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	content, ok := decodeJournalContent(w, r)
	if !ok {
		return
	}

	entry, err := h.journalService.CreateEntry(r.Context(), userID, content)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID}, "Failed to create journal entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *APIHandler) ListJournalEntriesHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	entries, err := h.journalService.ListEntries(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID}, "Failed to list journal entries")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) GetJournalEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	entryID := chi.URLParam(r, "entryID")

	entry, err := h.journalService.GetEntry(r.Context(), entryID, userID)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "entry_id": entryID}, "Failed to get journal entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *APIHandler) UpdateJournalEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	entryID := chi.URLParam(r, "entryID")
	content, ok := decodeJournalContent(w, r)
	if !ok {
		return
	}

	entry, err := h.journalService.UpdateEntry(r.Context(), entryID, userID, content)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "entry_id": entryID}, "Failed to update journal entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *APIHandler) DeleteJournalEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	entryID := chi.URLParam(r, "entryID")

	if err := h.journalService.DeleteEntry(r.Context(), entryID, userID); err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "entry_id": entryID}, "Failed to delete journal entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ReflectJournalEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	entryID := chi.URLParam(r, "entryID")

	reply, err := h.journalService.Reflect(context.WithoutCancel(r.Context()), entryID, userID)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "entry_id": entryID}, "Failed to reflect on journal entry")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
