package postgres

import (
	"context"
	"time"

	"chat-relay/internal/models"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db}
}

// Create stores a message and makes it the conversation's last message.
func (r *MessageRepository) Create(ctx context.Context, sender, conversationID, content string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_message_id": msg.ID,
				"updated_at":      time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead marks every unread message in the conversation not authored by
// reader as read.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, reader string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, reader, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// ListPage returns one page of history. Page 1 holds the newest messages;
// each page is returned in chronological order.
func (r *MessageRepository) ListPage(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	page, limit = models.NormalizePage(page, limit)

	var total int64
	q := r.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []models.Message{}
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &models.MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		Pages:    models.PageCount(total, limit),
	}, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, reader string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, reader, false).
		Count(&n).Error
	return n, err
}
