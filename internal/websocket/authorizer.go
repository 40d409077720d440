package websocket

import (
	"context"
	"errors"

	"chat-relay/internal/apperror"
	"chat-relay/internal/models"
)

// ConversationStore is the read side of conversation membership.
// IsParticipant must return an apperror.ErrNotFound-kind error when the
// conversation does not exist.
type ConversationStore interface {
	ListConversationsFor(ctx context.Context, identity string) ([]models.Conversation, error)
	IsParticipant(ctx context.Context, identity, conversationID string) (bool, error)
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// MessageStore persists messages. MarkRead marks the messages of a
// conversation not authored by reader as read and returns how many changed.
type MessageStore interface {
	Create(ctx context.Context, sender, conversationID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID, reader string) (int64, error)
}

// Authorizer answers "may identity act on conversation". It asks the store on
// every call; no decision is cached, so a removed participant is rejected on
// the next action.
type Authorizer struct {
	store ConversationStore
}

func NewAuthorizer(store ConversationStore) *Authorizer {
	return &Authorizer{store: store}
}

// Authorize returns nil when identity participates in conversationID,
// NotFound when the conversation does not exist and Forbidden otherwise.
// Store failures are returned as internal errors.
func (a *Authorizer) Authorize(ctx context.Context, identity, conversationID string) error {
	ok, err := a.store.IsParticipant(ctx, identity, conversationID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Wrap(apperror.KindNotFound, "conversation not found", err)
		}
		return err
	}
	if !ok {
		return apperror.Forbidden("not a participant of this conversation")
	}
	return nil
}
