package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medsched/internal/config"
	"medsched/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ScheduleCache 患者日程的 Redis 缓存
// 患者端日程视图读多写少，cache-aside；确认服药后失效当日键
type ScheduleCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewScheduleCache 创建日程缓存
func NewScheduleCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *ScheduleCache {
	return &ScheduleCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// dayKey 构建缓存键，如 "medsched:patient:<id>:schedule:2024-01-01"
func (c *ScheduleCache) dayKey(patientID string, date time.Time) string {
	return fmt.Sprintf("%s%s%s:%s",
		c.config.Cache.ScheduleKeyPrefix,
		patientID,
		c.config.Cache.ScheduleSuffix,
		date.Format("2006-01-02"),
	)
}

// GetDaySchedule 读取患者某日日程，未命中返回 (nil, nil)
func (c *ScheduleCache) GetDaySchedule(ctx context.Context, patientID string, date time.Time) ([]repository.PatientSlot, error) {
	key := c.dayKey(patientID, date)

	val, err := c.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule cache: %w", err)
	}

	var slots []repository.PatientSlot
	if err := json.Unmarshal([]byte(val), &slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached schedule: %w", err)
	}

	return slots, nil
}

// SetDaySchedule 写入患者某日日程（带 TTL）
func (c *ScheduleCache) SetDaySchedule(ctx context.Context, patientID string, date time.Time, slots []repository.PatientSlot) error {
	key := c.dayKey(patientID, date)

	jsonData, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		key,
		jsonData,
		time.Duration(c.config.Cache.ScheduleTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set schedule cache: %w", err)
	}

	c.logger.Debug("Updated schedule cache",
		zap.String("patient_id", patientID),
		zap.String("key", key),
		zap.Int("slot_count", len(slots)),
	)

	return nil
}

// InvalidateDay 失效患者某日日程（服药确认后调用）
func (c *ScheduleCache) InvalidateDay(ctx context.Context, patientID string, date time.Time) error {
	key := c.dayKey(patientID, date)

	if err := c.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate schedule cache: %w", err)
	}

	return nil
}
