package model

import "time"

// SweepName — имя периодического прохода планировщика.
type SweepName string

const (
	SweepDocumentReminder SweepName = "document_reminder"
	SweepDelayedWebhook   SweepName = "delayed_webhook"
	SweepLoginReminder    SweepName = "login_reminder"
	SweepSevenDayReview   SweepName = "seven_day_review"
	SweepAutoConfirm      SweepName = "auto_confirm"
	SweepAIRededup        SweepName = "ai_rededup"
)

// AllSweeps — все проходы в порядке запуска.
var AllSweeps = []SweepName{
	SweepDocumentReminder,
	SweepDelayedWebhook,
	SweepLoginReminder,
	SweepSevenDayReview,
	SweepAutoConfirm,
	SweepAIRededup,
}

// IsValidSweep проверяет имя прохода.
func IsValidSweep(name SweepName) bool {
	for _, s := range AllSweeps {
		if s == name {
			return true
		}
	}
	return false
}

// DueQuery — условие выборки дел для прохода планировщика.
type DueQuery struct {
	// Sweep — проход, определяющий SQL-предикат
	Sweep SweepName
	// Now — текущее время прохода
	Now time.Time
	// Cutoff — граница «давности» (now минус задержка прохода)
	Cutoff time.Time
	// Limit — размер страницы выборки
	Limit int
	// After — курсор: id последнего дела предыдущей страницы
	After string
}

// SweepResult — итог одного прохода.
type SweepResult struct {
	Sweep       SweepName `json:"sweep"`
	Selected    int       `json:"selected"`
	Triggered   int       `json:"triggered"`
	Rescheduled int       `json:"rescheduled"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// SweepState — сохранённый итог последнего запуска прохода.
type SweepState struct {
	Sweep      SweepName   `json:"sweep"`
	LastRunAt  time.Time   `json:"last_run_at"`
	LastResult SweepResult `json:"last_result"`
	RunsTotal  int64       `json:"runs_total"`
}
