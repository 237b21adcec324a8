package models

import "time"

// Group represents a chat group.
type Group struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatorID   int64     `db:"creator_id" json:"creator_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (Group) TableName() string { return "chat_groups" }

// Role is a member's role inside a group.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// GroupMembership records that a user belongs to a group.
type GroupMembership struct {
	ID       int64     `db:"id" json:"id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	GroupID  int64     `db:"group_id" json:"group_id"`
	Role     Role      `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

func (GroupMembership) TableName() string { return "group_memberships" }

func (m GroupMembership) IsAdmin() bool { return m.Role == RoleAdmin }

// JoinRequestStatus is the state of a GroupJoinRequest.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestAccepted JoinRequestStatus = "accepted"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

// GroupJoinRequest is a user's ask to join a group, pending admin approval.
type GroupJoinRequest struct {
	ID          int64             `db:"id" json:"id"`
	UserID      int64             `db:"user_id" json:"user_id"`
	GroupID     int64             `db:"group_id" json:"group_id"`
	Status      JoinRequestStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
}

func (GroupJoinRequest) TableName() string { return "group_join_requests" }
