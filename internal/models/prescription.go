package models

import (
	"time"
)

// 处方频率代码（frequency）
const (
	FreqOnceDaily       = "once_daily"
	FreqTwiceDaily      = "twice_daily"
	FreqThreeTimesDaily = "three_times_daily"
	FreqFourTimesDaily  = "four_times_daily"
	FreqEvery4Hours     = "every_4_hours"
	FreqEvery6Hours     = "every_6_hours"
	FreqEvery8Hours     = "every_8_hours"
	FreqEvery12Hours    = "every_12_hours"
	FreqAsNeeded        = "as_needed"
	FreqCustom          = "custom"
)

// 处方优先级（priority），低 < 中 < 高 < 危急
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Medication 药品（对应 medications 表）
type Medication struct {
	MedicationID   string    `json:"medication_id" db:"medication_id"`
	Name           string    `json:"name" db:"name"`
	GenericName    string    `json:"generic_name" db:"generic_name"`
	MedicationType string    `json:"medication_type" db:"medication_type"` // tablet, capsule, liquid, injection, topical, inhaler, other
	Description    string    `json:"description" db:"description"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Patient 患者（身份服务在本库中的投影，只读）
type Patient struct {
	PatientID   string  `json:"patient_id" db:"patient_id"`
	DisplayName string  `json:"display_name" db:"display_name"`
	Email       string  `json:"email" db:"email"`
	Phone       *string `json:"phone,omitempty" db:"phone"`
	ContactPref string  `json:"contact_pref" db:"contact_pref"` // email, sms
	IsActive    bool    `json:"is_active" db:"is_active"`
}

// Prescription 处方（对应 prescriptions 表）
// 一旦生成过剂量槽位即视为不可变，只允许停用和延长结束日期
type Prescription struct {
	PrescriptionID       string     `json:"prescription_id" db:"prescription_id"`
	PatientID            string     `json:"patient_id" db:"patient_id"`
	MedicationID         string     `json:"medication_id" db:"medication_id"`
	PrescribingPhysician string     `json:"prescribing_physician" db:"prescribing_physician"`
	Dosage               string     `json:"dosage" db:"dosage"` // 如 "500mg", "2 tablets"
	Frequency            string     `json:"frequency" db:"frequency"`
	StartDate            time.Time  `json:"start_date" db:"start_date"` // 仅日期部分有意义
	EndDate              *time.Time `json:"end_date,omitempty" db:"end_date"`
	SpecialInstructions  string     `json:"special_instructions" db:"special_instructions"`
	Priority             string     `json:"priority" db:"priority"`
	IsActive             bool       `json:"is_active" db:"is_active"`
	CreatedBy            string     `json:"created_by" db:"created_by"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// CoversDate 判断处方在指定日期是否生效
// 条件：激活 且 start_date <= date 且（无结束日期 或 end_date >= date）
func (p *Prescription) CoversDate(date time.Time) bool {
	if !p.IsActive {
		return false
	}
	d := DateOnly(date)
	if DateOnly(p.StartDate).After(d) {
		return false
	}
	if p.EndDate != nil && DateOnly(*p.EndDate).Before(d) {
		return false
	}
	return true
}

// IsEscalatable 漏服时是否升级为告警（仅 high/critical）
func (p *Prescription) IsEscalatable() bool {
	return p.Priority == PriorityHigh || p.Priority == PriorityCritical
}

// DateOnly 截断到日期（保留原时区）
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
