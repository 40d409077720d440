package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/** --------------------ENTITIES-------------------- */
// Message is a durable chat message. Sender is the author's identity.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"not null;type:varchar(36);index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string    `gorm:"not null;type:varchar(64);index" json:"sender"`
	Content        string    `gorm:"not null;type:text" json:"content"`
	IsRead         bool      `gorm:"not null;default:false" json:"isRead"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

/** -------------------- DTOs -------------------- */

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// MessagePage is one page of a conversation's history in chronological order
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizePage clamps page and limit to the accepted range.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// PageCount is ceil(total / limit).
func PageCount(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
