package models

import (
	"time"
)

// 通知类型（notification_type）
const (
	NotifyMedicationReminder = "medication_reminder"
	NotifyMissedMedication   = "missed_medication"
	NotifyTreatmentComplete  = "treatment_complete"
	NotifyGeneral            = "general"
)

// 通知投递状态（status）
const (
	NotifyStatusPending = "pending"
	NotifyStatusSent    = "sent"
	NotifyStatusFailed  = "failed"
)

// 通知渠道（channel）
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Notification 待投递的通知（传给外部网关的载荷）
type Notification struct {
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Channel        string    `json:"channel"` // email, sms
	Address        string    `json:"address"` // 邮箱地址或手机号
	Subject        string    `json:"subject"`
	Message        string    `json:"message"`
	Type           string    `json:"notification_type"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

// NotificationLog 通知投递日志（对应 notification_logs 表）
type NotificationLog struct {
	NotificationID string     `json:"notification_id" db:"notification_id"`
	RecipientID    string     `json:"recipient_id" db:"recipient_id"`
	Channel        string     `json:"channel" db:"channel"`
	Address        string     `json:"address" db:"address"`
	Subject        string     `json:"subject" db:"subject"`
	Message        string     `json:"message" db:"message"`
	Type           string     `json:"notification_type" db:"notification_type"`
	Status         string     `json:"status" db:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at" db:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NotificationTemplate 通知模板（对应 notification_templates 表）
// 模板中使用 {patient_name} {medication_name} {dosage} {time} {message} 占位符
type NotificationTemplate struct {
	TemplateID string    `json:"template_id" db:"template_id"`
	Name       string    `json:"name" db:"name"`
	Type       string    `json:"notification_type" db:"notification_type"`
	Template   string    `json:"template" db:"template"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
