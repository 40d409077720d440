package mongodb

import (
	"context"
	"time"

	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository struct {
	messages      *mongo.Collection
	conversations *mongo.Collection
}

func NewMessageRepository(db *database.MongoDB) *MessageRepository {
	return &MessageRepository{
		messages:      db.DB.Collection(messagesCollection),
		conversations: db.DB.Collection(conversationsCollection),
	}
}

func (r *MessageRepository) Create(ctx context.Context, sender, conversationID, content string) (*models.Message, error) {
	now := time.Now().UTC()
	doc := messageDocument{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := r.messages.InsertOne(ctx, doc); err != nil {
		return nil, err
	}

	_, err := r.conversations.UpdateByID(ctx, conversationID, bson.M{
		"$set": bson.M{"last_message_id": doc.ID, "updated_at": now},
	})
	if err != nil {
		return nil, err
	}

	msg := doc.toModel()
	return &msg, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, reader string) (int64, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": reader},
		"is_read":         false,
	}
	res, err := r.messages.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"is_read": true, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) ListPage(ctx context.Context, conversationID string, page, limit int) (*models.MessagePage, error) {
	page, limit = models.NormalizePage(page, limit)
	filter := bson.M{"conversation_id": conversationID}

	total, err := r.messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := r.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	messages := make([]models.Message, len(docs))
	for i := range docs {
		messages[len(docs)-1-i] = docs[i].toModel()
	}

	return &models.MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		Pages:    models.PageCount(total, limit),
	}, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, reader string) (int64, error) {
	return r.messages.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": reader},
		"is_read":         false,
	})
}
