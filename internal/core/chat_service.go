package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"solace.app/companion/internal/lock"
	"solace.app/companion/internal/metrics"
	"solace.app/companion/internal/store"
)

const (
	defaultTitleTimeout = 30 * time.Second
	defaultLockTimeout  = 2 * time.Minute

	RoleAssistant = "assistant"
)

type ContextRetriever interface {
	Retrieve(ctx context.Context, userID int64, query string) []Excerpt
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

// Reply is the assistant's answer to a message in an existing chat.
type Reply struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	IsCrisis bool   `json:"isCrisis,omitempty"`
}

type ChatService struct {
	dbStore   *store.SQLStore
	retriever ContextRetriever
	generator Generator
	titles    TitleGenerator
	locker    lock.Locker

	titleTimeout time.Duration
	lockTimeout  time.Duration
	background   sync.WaitGroup

	titleMu   sync.Mutex
	titleJobs map[string]struct{} // chat ids with a title job in flight
}

func NewChatService(db *store.SQLStore, retriever ContextRetriever, generator Generator, titles TitleGenerator, locker lock.Locker) *ChatService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &ChatService{
		dbStore:      db,
		retriever:    retriever,
		generator:    generator,
		titles:       titles,
		locker:       locker,
		titleTimeout: defaultTitleTimeout,
		lockTimeout:  defaultLockTimeout,
		titleJobs:    make(map[string]struct{}),
	}
}

// Wait blocks until every background title job has finished.
func (s *ChatService) Wait() {
	s.background.Wait()
}

// GetOrCreateUser ensures a user exists for an identity-provider id and
// returns it.
func (s *ChatService) GetOrCreateUser(ctx context.Context, externalUserID string) (*store.User, error) {
	return s.dbStore.GetOrCreateUser(ctx, externalUserID)
}

// CreateChat answers the first message of a new conversation and stores the
// conversation with both turns in one transaction. Only the conversation
// metadata is returned; the reply is read back with GetChatDetails.
func (s *ChatService) CreateChat(ctx context.Context, userID int64, message string) (*store.Chat, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyContent
	}

	excerpts := s.retriever.Retrieve(ctx, userID, message)
	result, err := s.generator.Generate(ctx, Augment(nil, excerpts, message, true))
	if err != nil {
		return nil, fmt.Errorf("failed to generate first reply: %w", err)
	}
	if result.Kind == ResultCrisis {
		metrics.CrisisResponses.Inc()
		log.WithField("user_id", userID).Warn("Crisis detected in first message of a new chat")
	}

	var chat *store.Chat
	err = s.dbStore.WithTx(ctx, func(tx *store.Tx) error {
		c, err := tx.CreateChat(ctx, userID, nil)
		if err != nil {
			return err
		}
		if _, err := tx.AppendTurnPair(ctx, c.ID, message, result.Reply()); err != nil {
			return err
		}
		chat = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store new chat: %w", err)
	}

	s.spawnTitle(chat.ID, userID, message)
	return chat, nil
}

// PostMessage answers a message in an existing conversation. A crisis reply
// is returned to the caller but neither turn is stored.
func (s *ChatService) PostMessage(ctx context.Context, chatID string, userID int64, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyContent
	}

	chat, err := s.ownedChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	release, err := s.locker.Acquire(lockCtx, chatID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to lock chat: %w", err)
	}
	defer release()

	history, err := s.dbStore.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	excerpts := s.retriever.Retrieve(ctx, userID, message)
	result, err := s.generator.Generate(ctx, Augment(history, excerpts, message, false))
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	if result.Kind == ResultCrisis {
		metrics.CrisisResponses.Inc()
		log.WithFields(log.Fields{"user_id": userID, "chat_id": chatID}).Warn("Crisis detected, reply not stored")
		return &Reply{Role: RoleAssistant, Content: result.Reply(), IsCrisis: true}, nil
	}

	reply := result.Reply()
	err = s.dbStore.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.AppendTurnPair(ctx, chatID, message, reply)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store turn: %w", err)
	}

	// Retry the title if the job for the first exchange failed.
	if chat.Title == nil || *chat.Title == "" {
		basis := message
		if len(history) > 0 {
			basis = history[0].Content
		}
		s.spawnTitle(chatID, userID, basis)
	}

	return &Reply{Role: RoleAssistant, Content: reply}, nil
}

func (s *ChatService) GetChats(ctx context.Context, userID int64) ([]store.Chat, error) {
	return s.dbStore.GetChatsByUserID(ctx, userID)
}

func (s *ChatService) GetChatDetails(ctx context.Context, chatID string, userID int64) (*store.Chat, []store.Message, error) {
	chat, err := s.ownedChat(ctx, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.dbStore.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for chat: %w", err)
	}
	return chat, messages, nil
}

func (s *ChatService) ownedChat(ctx context.Context, chatID string, userID int64) (*store.Chat, error) {
	chat, err := s.dbStore.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if chat.UserID != userID {
		return nil, ErrForbidden
	}
	return chat, nil
}

// spawnTitle runs title generation detached from the request: it has its own
// deadline and its failures only reach the log.
func (s *ChatService) spawnTitle(chatID string, userID int64, basis string) {
	if s.titles == nil {
		return
	}
	s.titleMu.Lock()
	if _, running := s.titleJobs[chatID]; running {
		s.titleMu.Unlock()
		return
	}
	s.titleJobs[chatID] = struct{}{}
	s.titleMu.Unlock()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			s.titleMu.Lock()
			delete(s.titleJobs, chatID)
			s.titleMu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				metrics.TitleFailures.Inc()
				log.WithField("chat_id", chatID).Errorf("Title generation panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.titleTimeout)
		defer cancel()
		s.generateAndSaveChatTitle(ctx, chatID, userID, basis)
	}()
}

func (s *ChatService) generateAndSaveChatTitle(ctx context.Context, chatID string, userID int64, basis string) {
	logger := log.WithField("chat_id", chatID)
	logger.Debug("Attempting to generate chat title")

	title, err := s.titles.GenerateTitle(ctx, basis)
	if err == nil {
		title = cleanTitle(title)
		if title == "" {
			err = fmt.Errorf("empty title")
		}
	}
	if err != nil {
		metrics.TitleFailures.Inc()
		logger.WithError(err).Warn("Failed to generate chat title")
		return
	}

	updated, err := s.dbStore.UpdateChatTitle(ctx, chatID, userID, title)
	if err != nil {
		metrics.TitleFailures.Inc()
		logger.WithError(err).WithField("title", title).Warn("Failed to save generated chat title")
		return
	}
	if !updated {
		logger.Debug("Chat already has a title, discarding generated one")
		return
	}
	logger.WithField("title", title).Info("Saved generated chat title")
}
