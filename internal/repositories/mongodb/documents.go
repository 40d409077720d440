package mongodb

import (
	"time"

	"chat-relay/internal/models"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type conversationDocument struct {
	ID            string    `bson:"_id"`
	Name          *string   `bson:"name,omitempty"`
	IsGroup       bool      `bson:"is_group"`
	Participants  []string  `bson:"participants"`
	LastMessageID *string   `bson:"last_message_id,omitempty"`
	DirectKey     *string   `bson:"direct_key,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func (d *conversationDocument) toModel() models.Conversation {
	c := models.Conversation{
		ID:            d.ID,
		Name:          d.Name,
		IsGroup:       d.IsGroup,
		LastMessageID: d.LastMessageID,
		DirectKey:     d.DirectKey,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, identity := range d.Participants {
		c.Participants = append(c.Participants, models.ConversationParticipant{
			ConversationID: d.ID,
			UserID:         identity,
			CreatedAt:      d.CreatedAt,
		})
	}
	return c
}

type messageDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	IsRead         bool      `bson:"is_read"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d *messageDocument) toModel() models.Message {
	return models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		IsRead:         d.IsRead,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
