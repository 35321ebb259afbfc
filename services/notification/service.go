package notification

import (
	"context"
	"time"

	"agora-contentplane/pkg/clock"
	"agora-contentplane/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sink is the surface other services use to raise notifications.
type Sink interface {
	Emit(ctx context.Context, n *Notification) error
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *redis.Client
	clock clock.Clock
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Redis *redis.Client `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		redis: p.Redis,
		clock: p.Clock,
	}
}

// Emit persists the notification and bumps the recipient's unread counter.
func (s *Service) Emit(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = s.node.Generate().String()
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}

	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return err
	}

	s.bumpUnread(ctx, n.UserID, 1)

	zap.L().Info("[Notification] emitted",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
		zap.String("user_id", n.UserID),
	)
	return nil
}

// CountUnread prefers the cached counter and falls back to the database.
func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	if s.redis != nil {
		count, err := s.redis.Get(ctx, rediskey.BuildUnreadCountKey(userID)).Int64()
		if err == nil {
			return count, nil
		}
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ? AND dismissed = ?", userID, false, false).
		Where("expires_at IS NULL OR expires_at > ?", s.clock.Now()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	if s.redis != nil {
		s.redis.Set(ctx, rediskey.BuildUnreadCountKey(userID), count, 10*time.Minute)
	}

	return count, nil
}

// MarkRead flips a single notification to read.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ? AND read = ?", notificationID, userID, false).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.bumpUnread(ctx, userID, -1)
	}
	return nil
}

// Dismiss hides a notification without marking it read.
func (s *Service) Dismiss(ctx context.Context, userID, notificationID string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("dismissed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.invalidateUnread(ctx, userID)
	return nil
}

// List returns the newest notifications for a user, unread first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND dismissed = ?", userID, false).
		Where("expires_at IS NULL OR expires_at > ?", s.clock.Now()).
		Order("read ASC").Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PurgeExpired removes notifications whose TTL elapsed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.clock.Now()).
		Delete(&Notification{})
	return res.RowsAffected, res.Error
}

func (s *Service) bumpUnread(ctx context.Context, userID string, delta int64) {
	if s.redis == nil {
		return
	}
	key := rediskey.BuildUnreadCountKey(userID)
	if err := s.redis.IncrBy(ctx, key, delta).Err(); err != nil {
		// counter is a cache, a miss just forces a db recount
		s.redis.Del(ctx, key)
	}
}

func (s *Service) invalidateUnread(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, rediskey.BuildUnreadCountKey(userID))
}
