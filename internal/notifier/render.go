package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"go.uber.org/zap"
)

// Variables 模板变量
type Variables struct {
	PatientName    string
	MedicationName string
	Dosage         string
	Time           time.Time
	Message        string
}

// defaultBodies 各通知类型的内置默认文案
// 数据库中没有激活模板时的回退，占位符与模板一致
var defaultBodies = map[string]string{
	models.NotifyMedicationReminder: "Hi {patient_name}, time to take your {medication_name} ({dosage}). Scheduled for {time}.",
	models.NotifyMissedMedication:   "Alert: You missed your {medication_name} scheduled for {time}. Please take it as soon as possible.",
	models.NotifyTreatmentComplete:  "Congratulations {patient_name}! You have completed your treatment course for {medication_name}.",
	models.NotifyGeneral:            "Hello {patient_name}, this is a message from your healthcare provider: {message}",
}

// defaultSubjects 各通知类型的邮件主题，{medication_name} 会被替换
var defaultSubjects = map[string]string{
	models.NotifyMedicationReminder: "Medication Reminder - {medication_name}",
	models.NotifyMissedMedication:   "Missed Medication Alert - {medication_name}",
	models.NotifyTreatmentComplete:  "Treatment Complete - {medication_name}",
	models.NotifyGeneral:            "Notification from your healthcare provider",
}

// Renderer 通知文案渲染器
// 优先使用数据库中激活的模板，缺失时回退内置默认文案
type Renderer struct {
	templates *repository.TemplateRepository
	logger    *zap.Logger
}

// NewRenderer 创建渲染器
func NewRenderer(templates *repository.TemplateRepository, logger *zap.Logger) *Renderer {
	return &Renderer{
		templates: templates,
		logger:    logger,
	}
}

// Render 渲染指定类型的通知，返回主题和正文
func (r *Renderer) Render(ctx context.Context, notificationType string, vars Variables) (subject, body string, err error) {
	tmpl := ""

	if r.templates != nil {
		t, err := r.templates.GetActiveTemplate(ctx, notificationType)
		if err != nil {
			// 模板查询失败不阻断通知，降级到默认文案
			r.logger.Warn("Template lookup failed, falling back to default",
				zap.String("notification_type", notificationType),
				zap.Error(err),
			)
		} else if t != nil {
			tmpl = t.Template
		}
	}

	if tmpl == "" {
		var ok bool
		tmpl, ok = defaultBodies[notificationType]
		if !ok {
			return "", "", fmt.Errorf("unknown notification type: %s", notificationType)
		}
	}

	replacer := newReplacer(vars)
	subject = replacer.Replace(subjectFor(notificationType))
	body = replacer.Replace(tmpl)

	return subject, body, nil
}

func subjectFor(notificationType string) string {
	if s, ok := defaultSubjects[notificationType]; ok {
		return s
	}
	return "Notification from your healthcare provider"
}

func newReplacer(vars Variables) *strings.Replacer {
	return strings.NewReplacer(
		"{patient_name}", vars.PatientName,
		"{medication_name}", vars.MedicationName,
		"{dosage}", vars.Dosage,
		"{time}", vars.Time.Format("03:04 PM"),
		"{message}", vars.Message,
	)
}
