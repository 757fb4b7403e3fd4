package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"twatter-messaging/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetConversation(ctx context.Context, userID, partnerID string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	LeaveConversation(ctx context.Context, conversationID, userID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateOrGetConversation creates a conversation between two users if one
// does not already exist, and marks both as active participants.
func (r *ConversationRepo) CreateOrGetConversation(ctx context.Context, userID, partnerID string) (models.Conversation, error) {
	if userID == partnerID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	members := []string{userID, partnerID}
	sort.Strings(members)
	user1, user2 := members[0], members[1]

	var conv models.Conversation
	query := `SELECT id, user1_id, user2_id, created_at FROM conversations WHERE user1_id=$1 AND user2_id=$2`
	if err := r.db.GetContext(ctx, &conv, query, user1, user2); err != nil {
		if err != sql.ErrNoRows {
			return models.Conversation{}, err
		}
		if err := r.db.QueryRowxContext(ctx, `INSERT INTO conversations (id, user1_id, user2_id) VALUES ($1, $2, $3) RETURNING id, user1_id, user2_id, created_at`, uuid.NewString(), user1, user2).
			Scan(&conv.ID, &conv.User1ID, &conv.User2ID, &conv.CreatedAt); err != nil {
			return models.Conversation{}, err
		}
	}

	if err := activateParticipants(ctx, r.db, conv.ID, userID, partnerID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user1_id, user2_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsMember checks fixed membership, not current participation, so history
// lookups still resolve for users who left.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (user1_id=$2 OR user2_id=$2))`, conversationID, userID)
	return exists, err
}

// ListConversations returns conversations the user currently participates in.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.user1_id, c.user2_id, c.created_at FROM conversations c
        INNER JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id=$1 AND cp.active = TRUE
        WHERE c.user1_id=$1 OR c.user2_id=$1
        ORDER BY c.created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var conv models.Conversation
		if err := rows.StructScan(&conv); err != nil {
			return nil, err
		}
		partnerID := conv.User1ID
		if partnerID == userID {
			partnerID = conv.User2ID
		}
		result = append(result, models.ConversationSummary{ConversationID: conv.ID, PartnerID: partnerID, CreatedAt: conv.CreatedAt})
	}
	return result, rows.Err()
}

// LeaveConversation deactivates the user's participant row. The user stays
// a member and is re-activated when either party sends a new message.
func (r *ConversationRepo) LeaveConversation(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, active) VALUES ($1, $2, FALSE)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET active = FALSE`, conversationID, userID)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func activateParticipant(ctx context.Context, e execer, conversationID, userID string) error {
	_, err := e.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id, active) VALUES ($1, $2, TRUE)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET active = TRUE`, conversationID, userID)
	return err
}

// activateParticipants re-adds every given user to the conversation's
// participant list. A user who left rejoins through this on the next
// message either party sends.
func activateParticipants(ctx context.Context, e execer, conversationID string, userIDs ...string) error {
	for _, userID := range userIDs {
		if err := activateParticipant(ctx, e, conversationID, userID); err != nil {
			return err
		}
	}
	return nil
}
