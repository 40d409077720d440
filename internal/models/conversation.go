package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/** --------------------ENTITIES-------------------- */
// Conversation is a named or anonymous set of participants sharing a message history
type Conversation struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name          *string   `gorm:"type:varchar(255)" json:"name,omitempty"`
	IsGroup       bool      `gorm:"not null;default:false" json:"isGroup"`
	LastMessageID *string   `gorm:"type:varchar(36)" json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// DirectKey is set only on one-to-one conversations and is unique.
	DirectKey *string `gorm:"type:varchar(130);uniqueIndex" json:"-"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

// ConversationParticipant is one row of the membership relation
type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(36)" json:"conversationId"`
	UserID         string    `gorm:"primaryKey;type:varchar(64);index" json:"userId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// DirectPairKey identifies the one-to-one conversation between a and b in
// either order.
func DirectPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// ParticipantIDs returns the identities of the loaded participants
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// HasParticipant reports whether identity is among the loaded participants
func (c *Conversation) HasParticipant(identity string) bool {
	for _, p := range c.Participants {
		if p.UserID == identity {
			return true
		}
	}
	return false
}

/** -------------------- DTOs -------------------- */

type CreateConversationRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants" binding:"required"`
	IsGroup      bool     `json:"isGroup"`
}

type ParticipantRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type ConversationResponse struct {
	ID            string    `json:"id"`
	Name          *string   `json:"name,omitempty"`
	IsGroup       bool      `json:"isGroup"`
	Participants  []string  `json:"participants"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func NewConversationResponse(c *Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		Participants:  c.ParticipantIDs(),
		LastMessageID: c.LastMessageID,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
