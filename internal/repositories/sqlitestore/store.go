// Package sqlitestore is the embedded gorm/SQLite driver of the repository
// interfaces. It backs single-node deployments and the store tests.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// Store implements MessageRepository, GroupRepository and JoinRequestRepository.
type Store struct {
	db *gorm.DB
}

var (
	_ repositories.MessageRepository     = (*Store)(nil)
	_ repositories.GroupRepository       = (*Store)(nil)
	_ repositories.JoinRequestRepository = (*Store)(nil)
)

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Error("storage: failed to open sqlite database", zap.Error(err), zap.String("dsn", dsn))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// single writer; in-memory databases live on this one connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		log.Error("storage: failed to migrate database", zap.Error(err))
		return nil, err
	}
	log.Info("database migrations applied", zap.String("driver", "sqlite"))
	return s, nil
}

// OpenInMemory opens a private in-memory database identified by name.
func OpenInMemory(name string, log *zap.Logger) (*Store, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), log)
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&models.Group{}, &models.GroupMembership{}, &models.GroupJoinRequest{}, &repositories.MessageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_group_memberships_user_group ON group_memberships (user_id, group_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_group_join_requests_pending ON group_join_requests (user_id, group_id) WHERE status = 'pending'`,
	} {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || (err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed"))
}

// CreateMessage stores a direct or group message.
func (s *Store) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	rec, err := repositories.NewMessageRecord(msg)
	if err != nil {
		return models.Message{}, err
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return models.Message{}, err
	}
	return rec.Model()
}

// GetMessage retrieves a single message.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	return getMessage(s.db.WithContext(ctx), messageID)
}

func getMessage(db *gorm.DB, messageID int64) (models.Message, error) {
	var rec repositories.MessageRecord
	if err := db.First(&rec, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, repositories.ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return rec.Model()
}

// ListDirectMessages returns direct messages sent or received by the user, newest first.
func (s *Store) ListDirectMessages(ctx context.Context, userID int64) ([]models.Message, error) {
	var recs []repositories.MessageRecord
	err := s.db.WithContext(ctx).
		Where("recipient_id IS NOT NULL AND (sender_id = ? OR recipient_id = ?)", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return repositories.RecordsToModels(recs)
}

// ListGroupMessages returns messages of a group, newest first.
func (s *Store) ListGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error) {
	var recs []repositories.MessageRecord
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("created_at DESC, id DESC").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return repositories.RecordsToModels(recs)
}

// MarkDelivered moves a sent message to delivered.
func (s *Store) MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	return s.transition(ctx, messageID, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&repositories.MessageRecord{}).
			Where("id = ? AND delivery_status = ?", messageID, models.DeliverySent).
			Updates(map[string]any{
				"delivery_status": models.DeliveryDelivered,
				"delivered_at":    at,
				"updated_at":      at,
			})
	})
}

// MarkRead moves a sent or delivered message to read, filling delivered_at when unset.
func (s *Store) MarkRead(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	return s.transition(ctx, messageID, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&repositories.MessageRecord{}).
			Where("id = ? AND delivery_status <> ?", messageID, models.DeliveryRead).
			Updates(map[string]any{
				"delivery_status": models.DeliveryRead,
				"is_read":         true,
				"read_at":         at,
				"delivered_at":    gorm.Expr("COALESCE(delivered_at, ?)", at),
				"updated_at":      at,
			})
	})
}

func (s *Store) transition(ctx context.Context, messageID int64, update func(tx *gorm.DB) *gorm.DB) (models.Message, bool, error) {
	var (
		msg     models.Message
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := update(tx)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		var err error
		msg, err = getMessage(tx, messageID)
		return err
	})
	if err != nil {
		return models.Message{}, false, err
	}
	return msg, changed, nil
}

// MarkAllDelivered transitions every sent message addressed to recipientID with one UPDATE.
func (s *Store) MarkAllDelivered(ctx context.Context, recipientID int64, at time.Time) ([]models.Message, error) {
	var recs []repositories.MessageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&repositories.MessageRecord{}).
			Where("recipient_id = ? AND delivery_status = ?", recipientID, models.DeliverySent).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&repositories.MessageRecord{}).
			Where("id IN ? AND delivery_status = ?", ids, models.DeliverySent).
			Updates(map[string]any{
				"delivery_status": models.DeliveryDelivered,
				"delivered_at":    at,
				"updated_at":      at,
			}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("id ASC").Find(&recs).Error
	})
	if err != nil {
		return nil, err
	}
	return repositories.RecordsToModels(recs)
}

// CountUnread counts unread direct messages addressed to the user.
func (s *Store) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&repositories.MessageRecord{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return int(count), err
}

// CreateGroupWithAdmin creates a group and the creator's admin membership atomically.
func (s *Store) CreateGroupWithAdmin(ctx context.Context, group models.Group) (models.Group, models.GroupMembership, error) {
	var admin models.GroupMembership
	group.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		admin = models.GroupMembership{
			UserID:   group.CreatorID,
			GroupID:  group.ID,
			Role:     models.RoleAdmin,
			JoinedAt: group.CreatedAt,
		}
		return tx.Create(&admin).Error
	})
	if err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}
	return group, admin, nil
}

// GetGroup fetches a single group.
func (s *Store) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	var group models.Group
	if err := s.db.WithContext(ctx).First(&group, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Group{}, repositories.ErrGroupNotFound
		}
		return models.Group{}, err
	}
	return group, nil
}

// ListGroupsForUser returns groups that include the user.
func (s *Store) ListGroupsForUser(ctx context.Context, userID int64) ([]models.Group, error) {
	groups := []models.Group{}
	err := s.db.WithContext(ctx).
		Joins("JOIN group_memberships gm ON gm.group_id = chat_groups.id").
		Where("gm.user_id = ?", userID).
		Order("chat_groups.created_at DESC").
		Find(&groups).Error
	return groups, err
}

// GetMembership returns the user's membership in the group.
func (s *Store) GetMembership(ctx context.Context, groupID int64, userID int64) (models.GroupMembership, error) {
	var membership models.GroupMembership
	err := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GroupMembership{}, repositories.ErrMembershipNotFound
	}
	return membership, err
}

// ListMembershipsForUser returns every membership of the user.
func (s *Store) ListMembershipsForUser(ctx context.Context, userID int64) ([]models.GroupMembership, error) {
	memberships := []models.GroupMembership{}
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("joined_at ASC, id ASC").Find(&memberships).Error
	return memberships, err
}

// CreateJoinRequest stores a pending request.
func (s *Store) CreateJoinRequest(ctx context.Context, req models.GroupJoinRequest) (models.GroupJoinRequest, error) {
	req.ID = 0
	req.Status = models.JoinRequestPending
	req.ProcessedAt = nil
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		if isDuplicate(err) {
			return models.GroupJoinRequest{}, repositories.ErrDuplicatePendingRequest
		}
		return models.GroupJoinRequest{}, err
	}
	return req, nil
}

// GetJoinRequest fetches a request by id.
func (s *Store) GetJoinRequest(ctx context.Context, requestID int64) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	if err := s.db.WithContext(ctx).First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GroupJoinRequest{}, repositories.ErrJoinRequestNotFound
		}
		return models.GroupJoinRequest{}, err
	}
	return req, nil
}

// FindPendingJoinRequest returns the user's pending request for the group.
func (s *Store) FindPendingJoinRequest(ctx context.Context, groupID int64, userID int64) (models.GroupJoinRequest, error) {
	var req models.GroupJoinRequest
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.JoinRequestPending).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GroupJoinRequest{}, repositories.ErrJoinRequestNotFound
	}
	return req, err
}

// ListPendingJoinRequests returns pending requests of a group, oldest first.
func (s *Store) ListPendingJoinRequests(ctx context.Context, groupID int64) ([]models.GroupJoinRequest, error) {
	reqs := []models.GroupJoinRequest{}
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, models.JoinRequestPending).
		Order("created_at ASC, id ASC").
		Find(&reqs).Error
	return reqs, err
}

// ResolveJoinRequest sets the terminal status of a pending request and, when
// accepted, inserts the member row in the same transaction.
func (s *Store) ResolveJoinRequest(ctx context.Context, requestID int64, status models.JoinRequestStatus, processedAt time.Time) (models.GroupJoinRequest, *models.GroupMembership, error) {
	var (
		req        models.GroupJoinRequest
		membership *models.GroupMembership
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.ErrJoinRequestNotFound
			}
			return err
		}
		res := tx.Model(&models.GroupJoinRequest{}).
			Where("id = ? AND status = ?", requestID, models.JoinRequestPending).
			Updates(map[string]any{"status": status, "processed_at": processedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repositories.ErrJoinRequestNotPending
		}
		req.Status = status
		req.ProcessedAt = &processedAt

		if status != models.JoinRequestAccepted {
			return nil
		}
		created := models.GroupMembership{
			UserID:   req.UserID,
			GroupID:  req.GroupID,
			Role:     models.RoleMember,
			JoinedAt: processedAt,
		}
		if err := tx.Create(&created).Error; err != nil {
			if isDuplicate(err) {
				return repositories.ErrDuplicateMembership
			}
			return err
		}
		membership = &created
		return nil
	})
	if err != nil {
		return models.GroupJoinRequest{}, nil, err
	}
	return req, membership, nil
}
