package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"twatter-messaging/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID, recipientID, content string, attachment *models.Attachment) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, conversationID, authorID string) (int64, error)
	MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID                     string    `db:"id"`
	ConversationID         string    `db:"conversation_id"`
	SenderID               string    `db:"sender_id"`
	Content                string    `db:"content"`
	AttachmentURL          *string   `db:"attachment_url"`
	AttachmentThumbnailURL *string   `db:"attachment_thumbnail_url"`
	AttachmentColor        *string   `db:"attachment_color"`
	AttachmentWidth        *int      `db:"attachment_width"`
	AttachmentHeight       *int      `db:"attachment_height"`
	WasRead                bool      `db:"was_read"`
	WasSeen                bool      `db:"was_seen"`
	Deleted                bool      `db:"deleted"`
	CreatedAt              time.Time `db:"created_at"`
}

func (row messageRow) toModel() models.Message {
	msg := models.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		Content:        row.Content,
		WasRead:        row.WasRead,
		WasSeen:        row.WasSeen,
		Deleted:        row.Deleted,
		CreatedAt:      row.CreatedAt,
	}
	if row.AttachmentURL != nil {
		msg.Attachment = &models.Attachment{
			URL:          *row.AttachmentURL,
			ThumbnailURL: derefString(row.AttachmentThumbnailURL),
			Color:        derefString(row.AttachmentColor),
			Width:        derefInt(row.AttachmentWidth),
			Height:       derefInt(row.AttachmentHeight),
		}
	}
	return msg
}

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, attachment_thumbnail_url, attachment_color, attachment_width, attachment_height, was_read, was_seen, deleted, created_at`

// CreateMessage stores a message and, in the same transaction, re-activates
// both parties as participants so a fresh message always makes the
// conversation visible again on both sides.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID, recipientID, content string, attachment *models.Attachment) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var attURL, attThumb, attColor *string
	var attWidth, attHeight *int
	if attachment != nil {
		attURL = &attachment.URL
		attThumb = &attachment.ThumbnailURL
		attColor = &attachment.Color
		attWidth = &attachment.Width
		attHeight = &attachment.Height
	}

	var row messageRow
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, attachment_url, attachment_thumbnail_url, attachment_color, attachment_width, attachment_height)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, content, attURL, attThumb, attColor, attWidth, attHeight).
		StructScan(&row); err != nil {
		return models.Message{}, err
	}

	if err = activateParticipants(ctx, tx, conversationID, senderID, recipientID); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// ListMessages returns ordered messages with soft-deleted ones filtered out.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND deleted = FALSE ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// MarkRead flips wasRead on every unread message in the conversation
// authored by the other party and reports how many rows changed.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, authorID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET was_read = TRUE
        WHERE conversation_id=$1 AND sender_id=$2 AND was_read = FALSE AND deleted = FALSE`, conversationID, authorID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkSeen flips wasSeen, same shape as MarkRead.
func (r *MessageRepo) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET was_seen = TRUE
        WHERE conversation_id=$1 AND sender_id=$2 AND was_seen = FALSE AND deleted = FALSE`, conversationID, authorID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SoftDeleteMessage marks a message deleted. Authorization is enforced
// here: only the author's id matches any row, everyone else gets
// ErrMessageNotFound.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID, senderID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id=$1 AND sender_id=$2 AND deleted = FALSE`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
