package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"chat-relay/internal/apperror"
	"chat-relay/internal/models"
	"chat-relay/internal/websocket"
)

type ConversationRepository interface {
	websocket.ConversationStore
	Create(ctx context.Context, conv *models.Conversation, participants []string) error
	FindDirect(ctx context.Context, a, b string) (*models.Conversation, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, identity string) error
	RemoveParticipant(ctx context.Context, conversationID, identity string) error
}

type MessageRepository interface {
	websocket.MessageStore
	ListPage(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error)
	CountUnread(ctx context.Context, conversationID, reader string) (int64, error)
}

// RelayNotifier is the part of the relay that REST flows drive so live
// connections follow changes made outside the socket.
type RelayNotifier interface {
	SubscribeIdentity(identity, conversationID string) int
	UnsubscribeIdentity(identity, conversationID string) int
	PublishMessage(ctx context.Context, msg *models.Message) int
	PublishRead(identity, conversationID string) int
}

type ConversationService struct {
	conversations ConversationRepository
	messages      MessageRepository
	authorizer    *websocket.Authorizer
	relay         RelayNotifier
}

func NewConversationService(conversations ConversationRepository, messages MessageRepository, relay RelayNotifier) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		authorizer:    websocket.NewAuthorizer(conversations),
		relay:         relay,
	}
}

// normalizeParticipants trims, drops empties and duplicates, and makes sure
// creator is included.
func normalizeParticipants(creator string, participants []string) []string {
	seen := map[string]bool{creator: true}
	out := []string{creator}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// CreateConversation creates a conversation including creator. A direct
// conversation between the same two identities is created only once; later
// calls return the existing one with created=false. More than two
// participants always makes a group.
func (s *ConversationService) CreateConversation(ctx context.Context, creator string, req models.CreateConversationRequest) (conv *models.Conversation, created bool, err error) {
	participants := normalizeParticipants(creator, req.Participants)
	if len(participants) < 2 {
		return nil, false, apperror.InvalidRequest("a conversation needs at least one other participant")
	}
	isGroup := req.IsGroup || len(participants) > 2

	if !isGroup {
		existing, err := s.conversations.FindDirect(ctx, participants[0], participants[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, false, err
		}
	}

	conv = &models.Conversation{IsGroup: isGroup}
	if name := strings.TrimSpace(req.Name); name != "" {
		conv.Name = &name
	}
	if !isGroup {
		key := models.DirectPairKey(participants[0], participants[1])
		conv.DirectKey = &key
	}
	if err := s.conversations.Create(ctx, conv, participants); err != nil {
		// A concurrent request created the same direct conversation first.
		if !isGroup && errors.Is(err, apperror.ErrConflict) {
			if existing, ferr := s.conversations.FindDirect(ctx, participants[0], participants[1]); ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	for _, identity := range participants {
		s.relay.SubscribeIdentity(identity, conv.ID)
	}
	slog.Info("Conversation created", "conversationID", conv.ID, "creator", creator, "participants", len(participants), "isGroup", isGroup)
	return conv, true, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, identity string) ([]models.Conversation, error) {
	return s.conversations.ListConversationsFor(ctx, identity)
}

func (s *ConversationService) GetConversation(ctx context.Context, identity, conversationID string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(identity) {
		return nil, apperror.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

// SendMessage runs the same checks as the realtime send and fans the stored
// message out to the conversation's live subscribers.
func (s *ConversationService) SendMessage(ctx context.Context, identity, conversationID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperror.InvalidRequest("content is required")
	}
	if err := s.authorizer.Authorize(ctx, identity, conversationID); err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, identity, conversationID, content)
	if err != nil {
		return nil, err
	}
	s.relay.PublishMessage(ctx, msg)
	return msg, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, identity, conversationID string, page, limit int) (*models.MessagePage, error) {
	if err := s.authorizer.Authorize(ctx, identity, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListPage(ctx, conversationID, page, limit)
}

// MarkRead marks messages from other participants as read and announces it.
func (s *ConversationService) MarkRead(ctx context.Context, identity, conversationID string) (int64, error) {
	if err := s.authorizer.Authorize(ctx, identity, conversationID); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkRead(ctx, conversationID, identity)
	if err != nil {
		return 0, err
	}
	s.relay.PublishRead(identity, conversationID)
	return n, nil
}

func (s *ConversationService) UnreadCount(ctx context.Context, identity, conversationID string) (int64, error) {
	if err := s.authorizer.Authorize(ctx, identity, conversationID); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, conversationID, identity)
}

// AddParticipant lets any participant add another identity to a group
// conversation. The new participant's live connections start receiving its
// events immediately.
func (s *ConversationService) AddParticipant(ctx context.Context, actor, conversationID, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperror.InvalidRequest("userId is required")
	}
	conv, err := s.GetConversation(ctx, actor, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return apperror.InvalidRequest("participants can only be added to group conversations")
	}

	if err := s.conversations.AddParticipant(ctx, conversationID, identity); err != nil {
		return err
	}
	s.relay.SubscribeIdentity(identity, conversationID)
	return nil
}

// RemoveParticipant lets any participant remove an identity, itself
// included. Removed identities stop receiving events at once and fail the
// participant check on their next action.
func (s *ConversationService) RemoveParticipant(ctx context.Context, actor, conversationID, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperror.InvalidRequest("userId is required")
	}
	if err := s.authorizer.Authorize(ctx, actor, conversationID); err != nil {
		return err
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, identity); err != nil {
		return err
	}
	s.relay.UnsubscribeIdentity(identity, conversationID)
	return nil
}
