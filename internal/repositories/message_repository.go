package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const messageColumns = `id, content, sender_id, recipient_id, group_id, created_at, updated_at, is_read, delivery_status, delivered_at, read_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a direct or group message.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	rec, err := NewMessageRecord(msg)
	if err != nil {
		return models.Message{}, err
	}
	var stored MessageRecord
	err = r.db.QueryRowxContext(ctx, `INSERT INTO messages (content, sender_id, recipient_id, group_id, created_at, updated_at, is_read, delivery_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+messageColumns,
		rec.Content, rec.SenderID, rec.RecipientID, rec.GroupID, rec.CreatedAt, rec.UpdatedAt, rec.IsRead, rec.DeliveryStatus).
		StructScan(&stored)
	if err != nil {
		return models.Message{}, err
	}
	return stored.Model()
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var rec MessageRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return rec.Model()
}

// ListDirectMessages returns direct messages sent or received by the user, newest first.
func (r *MessageRepo) ListDirectMessages(ctx context.Context, userID int64) ([]models.Message, error) {
	var recs []MessageRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT `+messageColumns+` FROM messages
        WHERE recipient_id IS NOT NULL AND (sender_id=$1 OR recipient_id=$1)
        ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return RecordsToModels(recs)
}

// ListGroupMessages returns messages of a group, newest first.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error) {
	var recs []MessageRecord
	err := r.db.SelectContext(ctx, &recs, `SELECT `+messageColumns+` FROM messages WHERE group_id=$1 ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, err
	}
	return RecordsToModels(recs)
}

// MarkDelivered moves a sent message to delivered. The bool reports whether the
// row changed; an already delivered or read message is returned untouched.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	var rec MessageRecord
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET delivery_status=$2, delivered_at=$3, updated_at=$3
        WHERE id=$1 AND delivery_status=$4 RETURNING `+messageColumns,
		messageID, models.DeliveryDelivered, at, models.DeliverySent).StructScan(&rec)
	return r.transitioned(ctx, messageID, rec, err)
}

// MarkRead moves a sent or delivered message to read, filling delivered_at when unset.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	var rec MessageRecord
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET delivery_status=$2, is_read=TRUE, read_at=$3,
        delivered_at=COALESCE(delivered_at, $3), updated_at=$3
        WHERE id=$1 AND delivery_status<>$2 RETURNING `+messageColumns,
		messageID, models.DeliveryRead, at).StructScan(&rec)
	return r.transitioned(ctx, messageID, rec, err)
}

func (r *MessageRepo) transitioned(ctx context.Context, messageID int64, rec MessageRecord, err error) (models.Message, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		msg, err := r.GetMessage(ctx, messageID)
		return msg, false, err
	}
	if err != nil {
		return models.Message{}, false, err
	}
	msg, err := rec.Model()
	return msg, err == nil, err
}

// MarkAllDelivered transitions every sent message addressed to recipientID in one statement.
func (r *MessageRepo) MarkAllDelivered(ctx context.Context, recipientID int64, at time.Time) ([]models.Message, error) {
	var recs []MessageRecord
	err := r.db.SelectContext(ctx, &recs, `UPDATE messages SET delivery_status=$2, delivered_at=$3, updated_at=$3
        WHERE recipient_id=$1 AND delivery_status=$4 RETURNING `+messageColumns,
		recipientID, models.DeliveryDelivered, at, models.DeliverySent)
	if err != nil {
		return nil, err
	}
	return RecordsToModels(recs)
}

// CountUnread counts direct messages addressed to the user that were not read yet.
func (r *MessageRepo) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE recipient_id=$1 AND is_read=FALSE`, recipientID)
	return count, err
}
