package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const (
	groupColumns      = `id, name, description, creator_id, created_at, updated_at`
	membershipColumns = `id, user_id, group_id, role, joined_at`
)

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroupWithAdmin creates a group and the creator's admin membership atomically.
func (r *GroupRepo) CreateGroupWithAdmin(ctx context.Context, group models.Group) (models.Group, models.GroupMembership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var created models.Group
	if err = tx.QueryRowxContext(ctx, `INSERT INTO chat_groups (name, description, creator_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+groupColumns,
		group.Name, group.Description, group.CreatorID, group.CreatedAt, group.UpdatedAt).StructScan(&created); err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}

	var admin models.GroupMembership
	if err = tx.QueryRowxContext(ctx, `INSERT INTO group_memberships (user_id, group_id, role, joined_at)
        VALUES ($1, $2, $3, $4) RETURNING `+membershipColumns,
		created.CreatorID, created.ID, models.RoleAdmin, created.CreatedAt).StructScan(&admin); err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}
	return created, admin, nil
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM chat_groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// ListGroupsForUser returns groups that include the user.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID int64) ([]models.Group, error) {
	groups := []models.Group{}
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.description, g.creator_id, g.created_at, g.updated_at
        FROM chat_groups g INNER JOIN group_memberships gm ON gm.group_id = g.id
        WHERE gm.user_id=$1 ORDER BY g.created_at DESC`, userID)
	return groups, err
}

// GetMembership returns the user's membership in the group.
func (r *GroupRepo) GetMembership(ctx context.Context, groupID int64, userID int64) (models.GroupMembership, error) {
	var membership models.GroupMembership
	err := r.db.GetContext(ctx, &membership, `SELECT `+membershipColumns+` FROM group_memberships WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupMembership{}, ErrMembershipNotFound
	}
	return membership, err
}

// ListMembershipsForUser returns every membership of the user.
func (r *GroupRepo) ListMembershipsForUser(ctx context.Context, userID int64) ([]models.GroupMembership, error) {
	memberships := []models.GroupMembership{}
	err := r.db.SelectContext(ctx, &memberships, `SELECT `+membershipColumns+` FROM group_memberships WHERE user_id=$1 ORDER BY joined_at ASC`, userID)
	return memberships, err
}
