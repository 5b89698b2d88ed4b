package models

import (
	"fmt"
	"time"
)

// TimeOfDay 一天内的墙钟时间（时:分），不带日期和时区
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// String 格式化为 "HH:MM"
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// At 与日期组合成具体时刻（使用日期自身的时区）
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}

// Before 按时钟先后比较
func (t TimeOfDay) Before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// ParseTimeOfDay 解析 "HH:MM" 字符串
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// DoseSlot 剂量槽位（对应 dose_slots 表）
// 唯一约束 (prescription_id, slot_date, slot_time) 由存储层强制，
// 是排班生成幂等性的保证
type DoseSlot struct {
	SlotID         string     `json:"slot_id" db:"slot_id"`
	PrescriptionID string     `json:"prescription_id" db:"prescription_id"`
	SlotDate       time.Time  `json:"slot_date" db:"slot_date"` // 仅日期部分有意义
	SlotTime       TimeOfDay  `json:"slot_time" db:"slot_time"`
	IsTaken        bool       `json:"is_taken" db:"is_taken"`
	TakenAt        *time.Time `json:"taken_at,omitempty" db:"taken_at"`
	Notes          string     `json:"notes" db:"notes"`

	// 通知防重标记：提醒与告警各自独立，发送成功后才置位
	ReminderSent   bool       `json:"reminder_sent" db:"reminder_sent"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty" db:"reminder_sent_at"`
	AlertSent      bool       `json:"alert_sent" db:"alert_sent"`
	AlertSentAt    *time.Time `json:"alert_sent_at,omitempty" db:"alert_sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ScheduledAt 槽位的计划服药时刻
func (s *DoseSlot) ScheduledAt() time.Time {
	return s.SlotTime.At(s.SlotDate)
}

// IsOverdue 是否已逾期：未服用 且 当前时刻已过计划时刻
func (s *DoseSlot) IsOverdue(now time.Time) bool {
	if s.IsTaken {
		return false
	}
	return now.After(s.ScheduledAt())
}
