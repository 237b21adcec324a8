package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound         = errors.New("message not found")
	ErrGroupNotFound           = errors.New("group not found")
	ErrMembershipNotFound      = errors.New("membership not found")
	ErrJoinRequestNotFound     = errors.New("join request not found")
	ErrJoinRequestNotPending   = errors.New("join request already processed")
	ErrDuplicatePendingRequest = errors.New("pending join request already exists")
	ErrDuplicateMembership     = errors.New("membership already exists")
)

// MessageRepository persists messages and applies delivery transitions.
// Transitions are conditional so a status never moves backwards.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListDirectMessages(ctx context.Context, userID int64) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error)
	MarkRead(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error)
	MarkAllDelivered(ctx context.Context, recipientID int64, at time.Time) ([]models.Message, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
}

// GroupRepository persists groups and memberships.
type GroupRepository interface {
	CreateGroupWithAdmin(ctx context.Context, group models.Group) (models.Group, models.GroupMembership, error)
	GetGroup(ctx context.Context, groupID int64) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID int64) ([]models.Group, error)
	GetMembership(ctx context.Context, groupID int64, userID int64) (models.GroupMembership, error)
	ListMembershipsForUser(ctx context.Context, userID int64) ([]models.GroupMembership, error)
}

// JoinRequestRepository persists join requests. ResolveJoinRequest moves a
// pending request to its terminal status and, on acceptance, creates the member
// row in the same transaction.
type JoinRequestRepository interface {
	CreateJoinRequest(ctx context.Context, req models.GroupJoinRequest) (models.GroupJoinRequest, error)
	GetJoinRequest(ctx context.Context, requestID int64) (models.GroupJoinRequest, error)
	FindPendingJoinRequest(ctx context.Context, groupID int64, userID int64) (models.GroupJoinRequest, error)
	ListPendingJoinRequests(ctx context.Context, groupID int64) ([]models.GroupJoinRequest, error)
	ResolveJoinRequest(ctx context.Context, requestID int64, status models.JoinRequestStatus, processedAt time.Time) (models.GroupJoinRequest, *models.GroupMembership, error)
}

// MessageRecord is the flat storage row of a message.
type MessageRecord struct {
	ID             int64                 `db:"id" gorm:"primaryKey"`
	Content        string                `db:"content" gorm:"not null"`
	SenderID       int64                 `db:"sender_id" gorm:"not null;index"`
	RecipientID    *int64                `db:"recipient_id" gorm:"index"`
	GroupID        *int64                `db:"group_id" gorm:"index"`
	CreatedAt      time.Time             `db:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at"`
	IsRead         bool                  `db:"is_read" gorm:"not null"`
	DeliveryStatus models.DeliveryStatus `db:"delivery_status" gorm:"not null;index"`
	DeliveredAt    *time.Time            `db:"delivered_at"`
	ReadAt         *time.Time            `db:"read_at"`
}

func (MessageRecord) TableName() string { return "messages" }

// NewMessageRecord flattens msg for storage.
func NewMessageRecord(msg models.Message) (MessageRecord, error) {
	rec := MessageRecord{
		ID:             msg.ID,
		Content:        msg.Content,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
		IsRead:         msg.IsRead,
		DeliveryStatus: msg.DeliveryStatus,
		DeliveredAt:    msg.DeliveredAt,
		ReadAt:         msg.ReadAt,
	}
	switch t := msg.Target.(type) {
	case models.DirectTarget:
		id := t.RecipientID
		rec.RecipientID = &id
	case models.GroupTarget:
		id := t.GroupID
		rec.GroupID = &id
	default:
		return MessageRecord{}, models.ErrInvalidTarget
	}
	return rec, nil
}

// Model rebuilds the domain message from its row.
func (r MessageRecord) Model() (models.Message, error) {
	target, err := models.NewTarget(r.RecipientID, r.GroupID)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:             r.ID,
		Content:        r.Content,
		SenderID:       r.SenderID,
		Target:         target,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		IsRead:         r.IsRead,
		DeliveryStatus: r.DeliveryStatus,
		DeliveredAt:    r.DeliveredAt,
		ReadAt:         r.ReadAt,
	}, nil
}

// RecordsToModels converts a batch of rows.
func RecordsToModels(records []MessageRecord) ([]models.Message, error) {
	msgs := make([]models.Message, 0, len(records))
	for _, rec := range records {
		msg, err := rec.Model()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
