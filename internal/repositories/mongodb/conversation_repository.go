package mongodb

import (
	"context"
	"errors"
	"slices"
	"time"

	"chat-relay/internal/apperror"
	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationRepository keeps each conversation as one document with its
// participant identities embedded.
type ConversationRepository struct {
	coll *mongo.Collection
}

func NewConversationRepository(db *database.MongoDB) *ConversationRepository {
	return &ConversationRepository{coll: db.DB.Collection(conversationsCollection)}
}

func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation, participants []string) error {
	now := time.Now().UTC()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.CreatedAt, conv.UpdatedAt = now, now

	doc := conversationDocument{
		ID:           conv.ID,
		Name:         conv.Name,
		IsGroup:      conv.IsGroup,
		Participants: participants,
		DirectKey:    conv.DirectKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Wrap(apperror.KindConflict, "conversation already exists", err)
		}
		return err
	}
	*conv = doc.toModel()
	return nil
}

func (r *ConversationRepository) FindDirect(ctx context.Context, a, b string) (*models.Conversation, error) {
	filter := bson.M{
		"is_group":     false,
		"participants": bson.M{"$all": []string{a, b}, "$size": 2},
	}
	return r.findOne(ctx, filter)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	var doc conversationDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("conversation not found")
		}
		return nil, err
	}
	c := doc.toModel()
	return &c, nil
}

func (r *ConversationRepository) ListConversationsFor(ctx context.Context, identity string) ([]models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"participants": identity}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []conversationDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toModel())
	}
	return out, nil
}

func (r *ConversationRepository) participants(ctx context.Context, conversationID string) ([]string, error) {
	var doc struct {
		Participants []string `bson:"participants"`
	}
	opts := options.FindOne().SetProjection(bson.M{"participants": 1})
	if err := r.coll.FindOne(ctx, bson.M{"_id": conversationID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("conversation not found")
		}
		return nil, err
	}
	return doc.Participants, nil
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, identity, conversationID string) (bool, error) {
	ids, err := r.participants(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, identity), nil
}

func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	return r.participants(ctx, conversationID)
}

func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, identity string) error {
	return r.updateParticipants(ctx, conversationID, bson.M{"$addToSet": bson.M{"participants": identity}})
}

// RemoveParticipant also drops the direct_key of a one-to-one conversation so
// the pair can start a new one.
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, identity string) error {
	if err := r.updateParticipants(ctx, conversationID, bson.M{"$pull": bson.M{"participants": identity}}); err != nil {
		return err
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID, "is_group": false, "participants": bson.M{"$ne": identity}},
		bson.M{"$unset": bson.M{"direct_key": ""}},
	)
	return err
}

func (r *ConversationRepository) updateParticipants(ctx context.Context, conversationID string, update bson.M) error {
	res, err := r.coll.UpdateByID(ctx, conversationID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("conversation not found")
	}
	return nil
}
