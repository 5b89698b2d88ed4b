package config

import (
	"fmt"
	"os"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 用药调度服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 调度服务特定配置
	Scheduler struct {
		Timezone string // 排班使用的时区（墙钟时间），默认 UTC

		// 周期任务间隔（秒）
		ReminderInterval int // 服药提醒扫描间隔，默认 300（5分钟）
		OverdueInterval  int // 漏服检查扫描间隔，默认 3600（1小时）
		GenerateInterval int // 次日排班生成间隔，默认 86400（24小时）

		// 时间窗口（分钟）
		ReminderLeadMinutes int // 提前提醒窗口，默认 15
		OverdueGraceMinutes int // 漏服宽限期，默认 30

		// 排班生成
		HorizonDays int // 无结束日期处方的默认生成天数，默认 30
	}

	// 日程缓存配置
	Cache struct {
		ScheduleKeyPrefix string // 日程缓存键前缀，如 "medsched:patient:"
		ScheduleSuffix    string // 日程缓存键后缀，如 ":schedule"
		ScheduleTTL       int    // 日程缓存 TTL（秒），默认 300
	}

	// 通知网关配置
	Notify struct {
		GatewayURL string // 通知网关地址（email/SMS 投递由网关负责）
		TimeoutSec int    // 请求超时（秒），默认 10
		RetryCount int    // resty 重试次数，默认 0：投递失败靠下一轮扫描重试，不做同步重试
		Simulate   bool   // 模拟模式：不调用网关，只记录日志
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "medsched")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// 调度服务配置
	cfg.Scheduler.Timezone = getEnv("SCHED_TIMEZONE", "UTC")
	cfg.Scheduler.ReminderInterval = getEnvInt("SCHED_REMINDER_INTERVAL", 300)
	cfg.Scheduler.OverdueInterval = getEnvInt("SCHED_OVERDUE_INTERVAL", 3600)
	cfg.Scheduler.GenerateInterval = getEnvInt("SCHED_GENERATE_INTERVAL", 86400)
	cfg.Scheduler.ReminderLeadMinutes = getEnvInt("SCHED_REMINDER_LEAD_MINUTES", 15)
	cfg.Scheduler.OverdueGraceMinutes = getEnvInt("SCHED_OVERDUE_GRACE_MINUTES", 30)
	cfg.Scheduler.HorizonDays = getEnvInt("SCHED_HORIZON_DAYS", 30)

	cfg.Cache.ScheduleKeyPrefix = getEnv("CACHE_SCHEDULE_PREFIX", "medsched:patient:")
	cfg.Cache.ScheduleSuffix = ":schedule"
	cfg.Cache.ScheduleTTL = getEnvInt("CACHE_SCHEDULE_TTL", 300)

	cfg.Notify.GatewayURL = getEnv("NOTIFY_GATEWAY_URL", "")
	cfg.Notify.TimeoutSec = getEnvInt("NOTIFY_TIMEOUT", 10)
	cfg.Notify.RetryCount = getEnvInt("NOTIFY_RETRY_COUNT", 0)
	// 网关未配置时自动进入模拟模式
	cfg.Notify.Simulate = cfg.Notify.GatewayURL == "" || getEnv("NOTIFY_SIMULATE", "") == "true"

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
