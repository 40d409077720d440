package postgres

import (
	"context"
	"errors"

	"chat-relay/internal/apperror"
	"chat-relay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository stores conversations and their participants on any
// gorm dialect. Queries stick to portable SQL so postgres and mysql share it.
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db}
}

// Create inserts conv together with one participant row per identity. A
// second conversation with the same DirectKey fails with a Conflict error.
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation, participants []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Participants").Create(conv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperror.Wrap(apperror.KindConflict, "conversation already exists", err)
			}
			return err
		}
		rows := make([]models.ConversationParticipant, 0, len(participants))
		for _, identity := range participants {
			rows = append(rows, models.ConversationParticipant{ConversationID: conv.ID, UserID: identity})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		conv.Participants = rows
		return nil
	})
}

// FindDirect returns the non-group conversation whose participants are
// exactly a and b, or a NotFound error.
func (r *ConversationRepository) FindDirect(ctx context.Context, a, b string) (*models.Conversation, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("conversation_participants AS cp").
		Select("cp.conversation_id").
		Joins("JOIN conversations c ON c.id = cp.conversation_id").
		Where("c.is_group = ?", false).
		Group("cp.conversation_id").
		Having("COUNT(*) = 2 AND SUM(CASE WHEN cp.user_id IN ? THEN 1 ELSE 0 END) = 2", []string{a, b}).
		Limit(1).
		Pluck("cp.conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperror.NotFound("conversation not found")
	}
	return r.GetByID(ctx, ids[0])
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("conversation not found")
		}
		return nil, err
	}
	return &c, nil
}

// ListConversationsFor returns the conversations identity participates in,
// most recently active first.
func (r *ConversationRepository) ListConversationsFor(ctx context.Context, identity string) ([]models.Conversation, error) {
	var c []models.Conversation
	err := r.db.WithContext(ctx).
		Select("conversations.*").
		Preload("Participants").
		Joins("JOIN conversation_participants ON conversations.id = conversation_participants.conversation_id").
		Where("conversation_participants.user_id = ?", identity).
		Order("conversations.updated_at DESC").
		Find(&c).Error
	return c, err
}

func (r *ConversationRepository) exists(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("conversation not found")
	}
	return nil
}

// IsParticipant fails with NotFound when the conversation does not exist.
func (r *ConversationRepository) IsParticipant(ctx context.Context, identity, conversationID string) (bool, error) {
	if err := r.exists(ctx, conversationID); err != nil {
		return false, err
	}
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, identity).
		Count(&n).Error
	return n > 0, err
}

func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	if err := r.exists(ctx, conversationID); err != nil {
		return nil, err
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddParticipant is idempotent.
func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, identity string) error {
	if err := r.exists(ctx, conversationID); err != nil {
		return err
	}
	row := models.ConversationParticipant{ConversationID: conversationID, UserID: identity}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// RemoveParticipant is idempotent. A one-to-one conversation loses its
// DirectKey so the pair can start a new one.
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, identity string) error {
	if err := r.exists(ctx, conversationID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND user_id = ?", conversationID, identity).
			Delete(&models.ConversationParticipant{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ? AND is_group = ?", conversationID, false).
			Update("direct_key", nil).Error
	})
}
