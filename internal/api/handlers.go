package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/auth"
	"solace.app/companion/internal/core"
	"solace.app/companion/internal/store"
)

type contextKey string

const userIDKey contextKey = "userID"

type APIHandler struct {
	chatService    *core.ChatService
	journalService *core.JournalService
	authenticator  *auth.Authenticator
}

func NewAPIHandler(cs *core.ChatService, js *core.JournalService, a *auth.Authenticator) *APIHandler {
	return &APIHandler{chatService: cs, journalService: js, authenticator: a}
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

// JWTAuthMiddleware resolves the bearer token to a local user, provisioning it
// on first sight.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := h.authenticator.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.chatService.GetOrCreateUser(r.Context(), externalUserID)
		if err != nil {
			log.WithError(err).WithField("external_user_id", externalUserID).Error("Failed to resolve user identity")
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

// writeServiceError maps service errors to a status code. Unexpected errors
// are logged with their detail and answered with the generic message.
func writeServiceError(w http.ResponseWriter, err error, fields log.Fields, generic string) {
	switch {
	case errors.Is(err, core.ErrEmptyContent):
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
	case errors.Is(err, core.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, core.ErrChatNotFound):
		http.Error(w, "Chat not found", http.StatusNotFound)
	case errors.Is(err, core.ErrJournalEntryNotFound):
		http.Error(w, "Journal entry not found", http.StatusNotFound)
	default:
		log.WithFields(fields).WithError(err).Error(generic)
		http.Error(w, generic, http.StatusInternalServerError)
	}
}

// decodeMessage reads a {"message": "..."} body.
func decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return "", false
	}
	return req.Message, true
}

type MessageRequest struct {
	Message string `json:"message"`
}

type CreateChatResponse struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChatHandler starts a conversation with its first message. The reply
// is not part of the response; clients read it from GetChatDetailsHandler.
func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	message, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	// A client hanging up must not abort a generation that is about to be stored.
	chat, err := h.chatService.CreateChat(context.WithoutCancel(r.Context()), userID, message)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID}, "Failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, CreateChatResponse{ID: chat.ID, Title: chat.Title, CreatedAt: chat.CreatedAt})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	chats, err := h.chatService.GetChats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID}, "Failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type GetChatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	chat, messages, err := h.chatService.GetChatDetails(r.Context(), chatID, userID)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "chat_id": chatID}, "Failed to get chat details")
		return
	}
	writeJSON(w, http.StatusOK, GetChatDetailsResponse{Chat: chat, Messages: messages})
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	chatID := chi.URLParam(r, "chatID")

	message, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	reply, err := h.chatService.PostMessage(context.WithoutCancel(r.Context()), chatID, userID, message)
	if err != nil {
		writeServiceError(w, err, log.Fields{"user_id": userID, "chat_id": chatID}, "Failed to post message")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
