package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

const joinRequestColumns = `id, user_id, group_id, status, created_at, processed_at`

// JoinRequestRepo is a sqlx implementation of JoinRequestRepository.
type JoinRequestRepo struct {
	db *sqlx.DB
}

// NewJoinRequestRepo constructs a JoinRequestRepo.
func NewJoinRequestRepo(db *sqlx.DB) *JoinRequestRepo {
	return &JoinRequestRepo{db: db}
}

// CreateJoinRequest stores a pending request. The partial unique index on
// pending rows turns a concurrent duplicate into ErrDuplicatePendingRequest.
func (r *JoinRequestRepo) CreateJoinRequest(ctx context.Context, req models.GroupJoinRequest) (models.GroupJoinRequest, error) {
	var created models.GroupJoinRequest
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_join_requests (user_id, group_id, status, created_at)
        VALUES ($1, $2, $3, $4) RETURNING `+joinRequestColumns,
		req.UserID, req.GroupID, models.JoinRequestPending, req.CreatedAt).StructScan(&created)
	if isUniqueViolation(err) {
		return models.GroupJoinRequest{}, ErrDuplicatePendingRequest
	}
	return created, err
}

// GetJoinRequest fetches a request by id.
func (r *JoinRequestRepo) GetJoinRequest(ctx context.Context, requestID int64) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	err := r.db.GetContext(ctx, &req, `SELECT `+joinRequestColumns+` FROM group_join_requests WHERE id=$1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupJoinRequest{}, ErrJoinRequestNotFound
	}
	return req, err
}

// FindPendingJoinRequest returns the user's pending request for the group.
func (r *JoinRequestRepo) FindPendingJoinRequest(ctx context.Context, groupID int64, userID int64) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	err := r.db.GetContext(ctx, &req, `SELECT `+joinRequestColumns+` FROM group_join_requests WHERE group_id=$1 AND user_id=$2 AND status=$3`,
		groupID, userID, models.JoinRequestPending)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupJoinRequest{}, ErrJoinRequestNotFound
	}
	return req, err
}

// ListPendingJoinRequests returns pending requests of a group, oldest first.
func (r *JoinRequestRepo) ListPendingJoinRequests(ctx context.Context, groupID int64) ([]models.GroupJoinRequest, error) {
	reqs := []models.GroupJoinRequest{}
	err := r.db.SelectContext(ctx, &reqs, `SELECT `+joinRequestColumns+` FROM group_join_requests WHERE group_id=$1 AND status=$2 ORDER BY created_at ASC`,
		groupID, models.JoinRequestPending)
	return reqs, err
}

// ResolveJoinRequest sets the terminal status of a pending request. Accepting also
// inserts the member row; both writes commit together.
func (r *JoinRequestRepo) ResolveJoinRequest(ctx context.Context, requestID int64, status models.JoinRequestStatus, processedAt time.Time) (models.GroupJoinRequest, *models.GroupMembership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GroupJoinRequest{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var req models.GroupJoinRequest
	err = tx.QueryRowxContext(ctx, `UPDATE group_join_requests SET status=$2, processed_at=$3
        WHERE id=$1 AND status=$4 RETURNING `+joinRequestColumns,
		requestID, status, processedAt, models.JoinRequestPending).StructScan(&req)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_join_requests WHERE id=$1)`, requestID); err != nil {
			return models.GroupJoinRequest{}, nil, err
		}
		if exists {
			err = ErrJoinRequestNotPending
		} else {
			err = ErrJoinRequestNotFound
		}
		return models.GroupJoinRequest{}, nil, err
	}
	if err != nil {
		return models.GroupJoinRequest{}, nil, err
	}

	var membership *models.GroupMembership
	if status == models.JoinRequestAccepted {
		var created models.GroupMembership
		err = tx.QueryRowxContext(ctx, `INSERT INTO group_memberships (user_id, group_id, role, joined_at)
            VALUES ($1, $2, $3, $4) RETURNING `+membershipColumns,
			req.UserID, req.GroupID, models.RoleMember, processedAt).StructScan(&created)
		if isUniqueViolation(err) {
			err = ErrDuplicateMembership
		}
		if err != nil {
			return models.GroupJoinRequest{}, nil, err
		}
		membership = &created
	}

	if err = tx.Commit(); err != nil {
		return models.GroupJoinRequest{}, nil, err
	}
	return req, membership, nil
}
